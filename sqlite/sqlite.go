// Package sqlite provides the SQLite dialect for sqlstore on top of
// mattn/go-sqlite3, with unaccent and casefold SQL functions registered on
// every connection.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"github.com/kenny-nguyen-softdev/go-criteria/sqlstore"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DriverName is the database/sql driver registered by this package.
const DriverName = "sqlite3_criteria"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("unaccent", textFunc(query.Unaccent), true); err != nil {
				return err
			}
			return conn.RegisterFunc("casefold", textFunc(strings.ToLower), true)
		},
	})
}

// textFunc lifts fn to an SQL function that maps text and passes NULL and
// numbers through unchanged.
func textFunc(fn func(string) string) func(any) any {
	return func(v any) any {
		switch s := v.(type) {
		case string:
			return fn(s)
		case []byte:
			if s == nil {
				return nil
			}
			return fn(string(s))
		}
		return v
	}
}

// Dialect renders SQLite SQL. The built-in LIKE folds ASCII only, so both
// sides go through casefold.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return DriverName }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) Like(expr, pattern string, negate bool) string {
	if negate {
		return fmt.Sprintf("casefold(%s) NOT LIKE casefold(%s)", expr, pattern)
	}
	return fmt.Sprintf("casefold(%s) LIKE casefold(%s)", expr, pattern)
}

func (Dialect) Unaccent(expr string) string {
	return fmt.Sprintf("unaccent(%s)", expr)
}

// ColumnType maps a field type to its SQLite storage class.
func (Dialect) ColumnType(t schema.FieldType) string {
	switch t {
	case schema.FieldTypeString, schema.FieldTypeEnum, schema.FieldTypeDateTime:
		return "TEXT"
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		return "REAL"
	case schema.FieldTypeInteger, schema.FieldTypeBoolean:
		return "INTEGER"
	case schema.FieldTypeObject, schema.FieldTypeArray, schema.FieldTypeRecord:
		return "TEXT"
	default:
		return "BLOB"
	}
}

// Window renders LIMIT/OFFSET. SQLite needs a LIMIT before OFFSET, so an
// unbounded window with an offset uses LIMIT -1.
func (Dialect) Window(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	default:
		return ""
	}
}

func (Dialect) NativeBool() bool { return false }

// Open opens the database at dsn and returns a store over it. SQLite allows
// a single writer, so the pool is limited to one connection.
func Open(dsn string, registry *schema.Registry, logger *zap.Logger) (*sqlstore.Store, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return sqlstore.New(db, Dialect{}, registry, logger, nil), nil
}
