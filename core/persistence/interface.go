// Package persistence defines the Data Store collaborator the query engine
// runs against, and builds the paginated executor and search resolver on top
// of it.
package persistence

import (
	"context"
	"errors"

	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
)

var (
	// ErrNotFound is returned when a lookup that must match does not.
	ErrNotFound = errors.New("not found")
	// ErrUnsupportedAggregate is returned for aggregate functions outside MAX, MIN and SUM.
	ErrUnsupportedAggregate = errors.New("unsupported aggregate function")
)

// FindOptions is a bounded find request. A Limit of zero or less means no limit.
type FindOptions struct {
	Where     *query.Where
	Order     query.Order
	Relations query.RelationTree
	Limit     int
	Offset    int
}

// Finder is the minimal dataset accessor: rows of a collection matching a
// condition tree. Reference collections only need this much.
type Finder interface {
	Find(ctx context.Context, collection string, opts FindOptions) ([]schema.Document, error)
}

// AggregateFunc names a numeric aggregate.
type AggregateFunc string

// Supported aggregate functions.
const (
	AggregateMax AggregateFunc = "MAX"
	AggregateMin AggregateFunc = "MIN"
	AggregateSum AggregateFunc = "SUM"
)

// IsSupported reports whether the store contract covers fn.
func (fn AggregateFunc) IsSupported() bool {
	switch fn {
	case AggregateMax, AggregateMin, AggregateSum:
		return true
	}
	return false
}

// ColumnRef names a column through the alias of the root collection or of a
// joined relation. Both parts are validated identifiers.
type ColumnRef struct {
	Alias  string
	Column string
}

// SearchQuery is the query-builder capability the search resolver drives: it
// tracks joined aliases, joins relations on demand, and accepts conditions
// whose values are always bound as parameters.
type SearchQuery interface {
	// RootAlias is the alias of the collection being searched.
	RootAlias() string
	// IsJoined reports whether alias is already part of the query.
	IsJoined(alias string) bool
	// LeftJoin joins a declared relation of the root collection under alias.
	LeftJoin(relation, alias string) error
	// AndWhereEquals restricts the query to rows where ref equals value.
	AndWhereEquals(ref ColumnRef, value any)
	// AndWhereAnyLike adds one AND-ed group in which any of refs matches the
	// case-insensitive LIKE pattern.
	AndWhereAnyLike(refs []ColumnRef, pattern string)
	// SelectIDs returns the distinct ids of the root rows matching the query.
	SelectIDs(ctx context.Context) ([]string, error)
}

// DataStore is the full Data Store collaborator.
type DataStore interface {
	Finder
	// FindAndCount returns the page of rows and the total ignoring the page window.
	FindAndCount(ctx context.Context, collection string, opts FindOptions) ([]schema.Document, int, error)
	// FindOne returns the first matching row, or nil when none match.
	FindOne(ctx context.Context, collection string, opts FindOptions) (schema.Document, error)
	Exists(ctx context.Context, collection string, where *query.Where) (bool, error)
	Count(ctx context.Context, collection string, where *query.Where) (int, error)
	// Save upserts by identity and returns the persisted rows in input order.
	Save(ctx context.Context, collection string, docs []schema.Document) ([]schema.Document, error)
	// Aggregate returns nil when no row matches.
	Aggregate(ctx context.Context, collection string, fn AggregateFunc, field string, where *query.Where) (*float64, error)
	NewSearchQuery(collection string) (SearchQuery, error)
}
