// Package postgres provides the PostgreSQL dialect for sqlstore on top of the
// pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"github.com/kenny-nguyen-softdev/go-criteria/sqlstore"
	"go.uber.org/zap"
)

// Dialect renders PostgreSQL SQL.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "pgx" }

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Like uses ILIKE over the text form of expr, so non-text columns can be
// searched too.
func (Dialect) Like(expr, pattern string, negate bool) string {
	op := "ILIKE"
	if negate {
		op = "NOT ILIKE"
	}
	return fmt.Sprintf("CAST(%s AS TEXT) %s %s", expr, op, pattern)
}

// Unaccent needs the unaccent extension; see Open.
func (Dialect) Unaccent(expr string) string {
	return fmt.Sprintf("unaccent(%s)", expr)
}

func (Dialect) ColumnType(t schema.FieldType) string {
	switch t {
	case schema.FieldTypeString, schema.FieldTypeEnum:
		return "TEXT"
	case schema.FieldTypeNumber:
		return "DOUBLE PRECISION"
	case schema.FieldTypeDecimal:
		return "NUMERIC"
	case schema.FieldTypeInteger:
		return "BIGINT"
	case schema.FieldTypeBoolean:
		return "BOOLEAN"
	case schema.FieldTypeDateTime:
		return "TIMESTAMPTZ"
	case schema.FieldTypeObject, schema.FieldTypeArray, schema.FieldTypeRecord:
		return "JSONB"
	default:
		return "BYTEA"
	}
}

func (Dialect) Window(limit, offset int) string {
	out := ""
	if limit > 0 {
		out += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		out += fmt.Sprintf(" OFFSET %d", offset)
	}
	return out
}

func (Dialect) NativeBool() bool { return true }

// Open connects to dsn and makes sure the unaccent extension is installed.
func Open(ctx context.Context, dsn string, registry *schema.Registry, logger *zap.Logger) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS unaccent"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable unaccent: %w", err)
	}
	return sqlstore.New(db, Dialect{}, registry, logger, nil), nil
}
