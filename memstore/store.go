// Package memstore is an in-process DataStore. It evaluates condition trees
// with the query package's DataProcessor and backs the engine's tests as well
// as reference collections small enough to live in memory.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"go.uber.org/zap"
)

type table struct {
	rows  []schema.Document
	index map[string]int
}

// Store keeps collections as ordered slices of documents. Every read hands
// out copies, so callers may mutate what they receive.
type Store struct {
	mu        sync.RWMutex
	tables    map[string]*table
	registry  *schema.Registry
	processor *query.DataProcessor
	queries   atomic.Int64
	logger    *zap.Logger
}

var _ persistence.DataStore = (*Store)(nil)

// New creates an empty store. The registry describes relations and may be nil
// when no relation is ever traversed.
func New(registry *schema.Registry, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		tables:    make(map[string]*table),
		registry:  registry,
		processor: query.NewDataProcessor(logger),
		logger:    logger,
	}
}

// Seed stores docs in collection as they are, assigning ids where missing.
func (s *Store) Seed(collection string, docs ...schema.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.upsert(collection, d)
	}
}

// Queries is the number of store round trips served so far.
func (s *Store) Queries() int64 {
	return s.queries.Load()
}

// ResetQueries zeroes the round-trip counter.
func (s *Store) ResetQueries() {
	s.queries.Store(0)
}

func (s *Store) tableFor(collection string) (*table, error) {
	if t, ok := s.tables[collection]; ok {
		return t, nil
	}
	if s.registry != nil && s.registry.Has(collection) {
		return &table{index: map[string]int{}}, nil
	}
	return nil, fmt.Errorf("%w: '%s'", schema.ErrUnknownCollection, collection)
}

// upsert must be called with the write lock held.
func (s *Store) upsert(collection string, doc schema.Document) schema.Document {
	t, ok := s.tables[collection]
	if !ok {
		t = &table{index: make(map[string]int)}
		s.tables[collection] = t
	}
	row := doc.Clone()
	id := row.ID()
	if id == "" {
		id = uuid.New().String()
		row[schema.IDField] = id
	}
	if i, ok := t.index[id]; ok {
		for k, v := range row {
			t.rows[i][k] = v
		}
		return t.rows[i].Clone()
	}
	t.index[id] = len(t.rows)
	t.rows = append(t.rows, row)
	return row.Clone()
}

// loader resolves relation conditions against the stored rows without
// counting round trips.
func (s *Store) loader(collection string) query.RelationLoader {
	return func(doc schema.Document, relation string) ([]schema.Document, query.RelationLoader, error) {
		if s.registry == nil {
			return nil, nil, fmt.Errorf("%w: '%s' on collection '%s'", schema.ErrUnknownRelation, relation, collection)
		}
		rel, ok := s.registry.Relation(collection, relation)
		if !ok {
			return nil, nil, fmt.Errorf("%w: '%s' on collection '%s'", schema.ErrUnknownRelation, relation, collection)
		}
		key := schema.KeyOf(doc[rel.LocalField])
		var out []schema.Document
		if t, ok := s.tables[rel.Target]; ok && key != "" {
			for _, r := range t.rows {
				if schema.KeyOf(r[rel.ForeignField]) == key {
					out = append(out, r)
				}
			}
		}
		return out, s.loader(rel.Target), nil
	}
}

// match returns the stored rows of collection satisfying where. The read lock
// must be held.
func (s *Store) match(collection string, where *query.Where) ([]schema.Document, error) {
	t, err := s.tableFor(collection)
	if err != nil {
		return nil, err
	}
	return s.processor.Filter(t.rows, where, s.loader(collection))
}

func (s *Store) find(ctx context.Context, collection string, opts persistence.FindOptions) ([]schema.Document, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.queries.Add(1)

	s.mu.RLock()
	matched, err := s.match(collection, opts.Where)
	rows := make([]schema.Document, len(matched))
	for i, r := range matched {
		rows[i] = r.Clone()
	}
	s.mu.RUnlock()
	if err != nil {
		return nil, 0, err
	}

	total := len(rows)
	s.processor.Sort(rows, opts.Order)
	rows = s.processor.Window(rows, opts.Limit, opts.Offset)

	if err := persistence.LoadRelations(ctx, s, s.registry, collection, rows, opts.Relations); err != nil {
		return nil, 0, err
	}
	s.logger.Debug("Served find",
		zap.String("collection", collection),
		zap.Int("rows", len(rows)),
		zap.Int("total", total),
	)
	return rows, total, nil
}

// Find implements persistence.Finder.
func (s *Store) Find(ctx context.Context, collection string, opts persistence.FindOptions) ([]schema.Document, error) {
	rows, _, err := s.find(ctx, collection, opts)
	return rows, err
}

func (s *Store) FindAndCount(ctx context.Context, collection string, opts persistence.FindOptions) ([]schema.Document, int, error) {
	return s.find(ctx, collection, opts)
}

func (s *Store) FindOne(ctx context.Context, collection string, opts persistence.FindOptions) (schema.Document, error) {
	opts.Limit = 1
	rows, _, err := s.find(ctx, collection, opts)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *Store) Exists(ctx context.Context, collection string, where *query.Where) (bool, error) {
	n, err := s.Count(ctx, collection, where)
	return n > 0, err
}

func (s *Store) Count(ctx context.Context, collection string, where *query.Where) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.queries.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.match(collection, where)
	return len(rows), err
}

// Save upserts docs. Existing rows are merged field by field.
func (s *Store) Save(ctx context.Context, collection string, docs []schema.Document) ([]schema.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.queries.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, s.upsert(collection, d))
	}
	return out, nil
}

func (s *Store) Aggregate(ctx context.Context, collection string, fn persistence.AggregateFunc, field string, where *query.Where) (*float64, error) {
	if !fn.IsSupported() {
		return nil, fmt.Errorf("%w: %s", persistence.ErrUnsupportedAggregate, fn)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.queries.Add(1)
	s.mu.RLock()
	rows, err := s.match(collection, where)
	var values []float64
	for _, r := range rows {
		if v, ok := query.ToFloat64(r[field]); ok {
			values = append(values, v)
		}
	}
	s.mu.RUnlock()
	if err != nil || len(values) == 0 {
		return nil, err
	}

	var result float64
	switch fn {
	case persistence.AggregateMax:
		result = slices.Max(values)
	case persistence.AggregateMin:
		result = slices.Min(values)
	case persistence.AggregateSum:
		for _, v := range values {
			result += v
		}
	}
	return &result, nil
}

// NewSearchQuery starts a search over collection.
func (s *Store) NewSearchQuery(collection string) (persistence.SearchQuery, error) {
	s.mu.RLock()
	_, err := s.tableFor(collection)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return &searchQuery{store: s, collection: collection, joins: map[string]*schema.RelationDefinition{}}, nil
}
