package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"go.uber.org/zap"
)

// dbRunner abstracts the common methods of *sql.DB and *sql.Tx, allowing the
// same code to run inside and outside a transaction.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a persistence.DataStore over a database/sql connection pool.
type Store struct {
	db       *sql.DB
	compiler *Compiler
	registry *schema.Registry
	logger   *zap.Logger
	options  *Options
}

var _ persistence.DataStore = (*Store)(nil)

// New creates a store over db. The registry supplies field types, relations
// and the DDL source for EnsureCollections.
func New(db *sql.DB, dialect Dialect, registry *schema.Registry, logger *zap.Logger, options *Options) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		options = DefaultOptions()
	}
	return &Store{
		db:       db,
		compiler: NewCompiler(dialect, registry),
		registry: registry,
		logger:   logger,
		options:  options,
	}
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Compiler returns the statement compiler the store uses.
func (s *Store) Compiler() *Compiler {
	return s.compiler
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) schemaOf(collection string) *schema.SchemaDefinition {
	return s.compiler.schemaOf(collection)
}

func (s *Store) queryRows(ctx context.Context, r dbRunner, collection, sqlQuery string, params []any) ([]schema.Document, error) {
	s.logger.Debug("Executing SQL SELECT", zap.String("sql", sqlQuery), zap.Any("params", params))
	rows, err := r.QueryContext(ctx, sqlQuery, params...)
	if err != nil {
		s.logger.Error("Failed to execute SELECT query", zap.Error(err), zap.String("sql", sqlQuery))
		return nil, fmt.Errorf("failed to execute SELECT query: %w", err)
	}
	defer rows.Close()
	return readRows(s.logger, s.schemaOf(collection), rows)
}

// Find implements persistence.Finder.
func (s *Store) Find(ctx context.Context, collection string, opts persistence.FindOptions) ([]schema.Document, error) {
	sqlQuery, params, err := s.compiler.Select(collection, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate SQL query: %w", err)
	}
	rows, err := s.queryRows(ctx, s.db, collection, sqlQuery, params)
	if err != nil {
		return nil, err
	}
	if err := persistence.LoadRelations(ctx, s, s.registry, collection, rows, opts.Relations); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) FindAndCount(ctx context.Context, collection string, opts persistence.FindOptions) ([]schema.Document, int, error) {
	rows, err := s.Find(ctx, collection, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Count(ctx, collection, opts.Where)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (s *Store) FindOne(ctx context.Context, collection string, opts persistence.FindOptions) (schema.Document, error) {
	opts.Limit = 1
	rows, err := s.Find(ctx, collection, opts)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *Store) Exists(ctx context.Context, collection string, where *query.Where) (bool, error) {
	sqlQuery, params, err := s.compiler.Exists(collection, where)
	if err != nil {
		return false, fmt.Errorf("failed to generate SQL query: %w", err)
	}
	s.logger.Debug("Executing SQL SELECT", zap.String("sql", sqlQuery), zap.Any("params", params))
	var one int
	err = s.db.QueryRowContext(ctx, sqlQuery, params...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		s.logger.Error("Failed to execute SELECT query", zap.Error(err), zap.String("sql", sqlQuery))
		return false, fmt.Errorf("failed to execute SELECT query: %w", err)
	}
	return true, nil
}

func (s *Store) Count(ctx context.Context, collection string, where *query.Where) (int, error) {
	sqlQuery, params, err := s.compiler.Count(collection, where)
	if err != nil {
		return 0, fmt.Errorf("failed to generate SQL query: %w", err)
	}
	s.logger.Debug("Executing SQL SELECT", zap.String("sql", sqlQuery), zap.Any("params", params))
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, params...).Scan(&n); err != nil {
		s.logger.Error("Failed to execute COUNT query", zap.Error(err), zap.String("sql", sqlQuery))
		return 0, fmt.Errorf("failed to execute COUNT query: %w", err)
	}
	return int(n), nil
}

func (s *Store) Aggregate(ctx context.Context, collection string, fn persistence.AggregateFunc, field string, where *query.Where) (*float64, error) {
	sqlQuery, params, err := s.compiler.Aggregate(collection, fn, field, where)
	if err != nil {
		return nil, fmt.Errorf("failed to generate SQL query: %w", err)
	}
	s.logger.Debug("Executing SQL SELECT", zap.String("sql", sqlQuery), zap.Any("params", params))
	var v sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, sqlQuery, params...).Scan(&v); err != nil {
		s.logger.Error("Failed to execute aggregate query", zap.Error(err), zap.String("sql", sqlQuery))
		return nil, fmt.Errorf("failed to execute aggregate query: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Float64, nil
}

// Save upserts docs inside one transaction. A document with an id updates
// the existing row when there is one; anything else is inserted, with a
// generated id when none was given.
func (s *Store) Save(ctx context.Context, collection string, docs []schema.Document) ([]schema.Document, error) {
	if len(docs) == 0 {
		return []schema.Document{}, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	out, err := s.save(ctx, tx, collection, docs)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return out, nil
}

func (s *Store) save(ctx context.Context, tx dbRunner, collection string, docs []schema.Document) ([]schema.Document, error) {
	out := make([]schema.Document, 0, len(docs))
	for _, doc := range docs {
		var (
			sqlQuery string
			params   []any
			err      error
		)
		if id := doc.ID(); id != "" {
			sqlQuery, params, err = s.compiler.Update(collection, doc[schema.IDField], doc)
			if err != nil {
				return nil, fmt.Errorf("failed to generate SQL UPDATE query: %w", err)
			}
			rows, err := s.queryRows(ctx, tx, collection, sqlQuery, params)
			if err != nil {
				return nil, err
			}
			if len(rows) > 0 {
				out = append(out, rows[0])
				continue
			}
		} else {
			doc = doc.Clone()
			doc[schema.IDField] = uuid.New().String()
		}

		sqlQuery, params, err = s.compiler.Insert(collection, doc)
		if err != nil {
			return nil, fmt.Errorf("failed to generate INSERT SQL: %w", err)
		}
		rows, err := s.queryRows(ctx, tx, collection, sqlQuery, params)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("insert into '%s' returned no row", collection)
		}
		out = append(out, rows[0])
	}
	return out, nil
}

// NewSearchQuery starts a search over collection.
func (s *Store) NewSearchQuery(collection string) (persistence.SearchQuery, error) {
	if err := schema.ValidateIdentifier(collection); err != nil {
		return nil, err
	}
	if s.registry != nil && !s.registry.Has(collection) {
		return nil, fmt.Errorf("%w: '%s'", schema.ErrUnknownCollection, collection)
	}
	return newSearchQuery(s, collection), nil
}
