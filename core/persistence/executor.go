package persistence

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"go.uber.org/zap"
)

// SearchRequest is a free-text search: Key lists field paths separated by
// "|", Value holds the text.
type SearchRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PaginateRequest is everything a listing call carries.
type PaginateRequest struct {
	Pagination query.Pagination
	Criteria   query.Criteria
	Search     *SearchRequest
}

// Page is a window of rows and the total number of matching rows.
type Page struct {
	Count int               `json:"count"`
	Rows  []schema.Document `json:"rows"`
}

// ValidationError carries the issues that made a document unacceptable.
type ValidationError struct {
	Index  int
	Issues []schema.Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		msgs = append(msgs, i.Message)
	}
	return fmt.Sprintf("document %d failed validation: %s", e.Index, strings.Join(msgs, "; "))
}

// ExecutorOptions configures an Executor. All fields are optional.
type ExecutorOptions struct {
	Logger *zap.Logger
	// Events receives lifecycle events for every operation.
	Events *EventHub
	// Scope narrows every search before it runs.
	Scope SearchScope
}

// Executor runs criteria against one collection of a DataStore.
type Executor struct {
	store      DataStore
	schema     *schema.SchemaDefinition
	collection string
	search     *SearchResolver
	events     *EventHub
	scope      SearchScope
	logger     *zap.Logger
}

// NewExecutor binds an executor to a registered collection.
func NewExecutor(store DataStore, registry *schema.Registry, collection string, opts *ExecutorOptions) (*Executor, error) {
	if opts == nil {
		opts = &ExecutorOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := registry.Schema(collection)
	if err != nil {
		return nil, err
	}
	return &Executor{
		store:      store,
		schema:     s,
		collection: collection,
		search:     NewSearchResolver(store, logger),
		events:     opts.Events,
		scope:      opts.Scope,
		logger:     logger,
	}, nil
}

// Collection is the name of the collection the executor is bound to.
func (e *Executor) Collection() string {
	return e.collection
}

// BuildWhere translates the filters of c and merges its extra equalities
// over them.
func BuildWhere(c query.Criteria) (*query.Where, error) {
	where, err := query.GetWhere(c.Filters)
	if err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		where.Set(k, query.Equals{Value: v})
	}
	return where, nil
}

// BuildFindOptions derives unwindowed find options from c.
func BuildFindOptions(c query.Criteria) (FindOptions, error) {
	where, err := BuildWhere(c)
	if err != nil {
		return FindOptions{}, err
	}
	return FindOptions{
		Where:     where,
		Order:     query.GetOrder(c.Sorts),
		Relations: query.GetRelation(c.Include),
	}, nil
}

// PageOptions derives the find options of a page request over a collection
// described by sc, leaving the search out. Without sorts the page is ordered
// by createdAt descending when sc declares it.
func PageOptions(sc *schema.SchemaDefinition, req PaginateRequest) (FindOptions, error) {
	opts, err := BuildFindOptions(req.Criteria)
	if err != nil {
		return FindOptions{}, err
	}
	if len(opts.Order) == 0 && sc.HasField(schema.CreatedAtField) {
		opts.Order = query.Order{{Property: schema.CreatedAtField, Direction: query.OrderDesc}}
	}
	opts.Offset = req.Pagination.Offset
	if !req.Pagination.Unlimited {
		opts.Limit = req.Pagination.Limit
	}
	return opts, nil
}

// Paginate returns one page of rows matching the request and the total count.
// A search narrows the rows to the ids it resolves, unless the filters
// already target id. An extra id equality is kept and intersected with the
// search result.
func (e *Executor) Paginate(ctx context.Context, req PaginateRequest) (*Page, error) {
	out, err := e.events.observe("paginate", e.collection, queryEvents, req, func() (any, error) {
		return e.paginate(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Page), nil
}

func (e *Executor) paginate(ctx context.Context, req PaginateRequest) (*Page, error) {
	opts, err := PageOptions(e.schema, req)
	if err != nil {
		return nil, err
	}

	if req.Search != nil && !req.Criteria.HasFilterOn(schema.IDField) {
		ids, err := e.resolveSearch(ctx, *req.Search)
		if err != nil {
			return nil, err
		}
		extraID, pinned := req.Criteria.Extra[schema.IDField]
		if pinned {
			ids = slices.DeleteFunc(ids, func(id string) bool {
				return id != fmt.Sprint(extraID)
			})
		}
		if len(ids) == 0 {
			return &Page{Count: 0, Rows: []schema.Document{}}, nil
		}
		if !pinned {
			values := make([]any, len(ids))
			for i, id := range ids {
				values[i] = id
			}
			opts.Where.Set(schema.IDField, query.SetMembership{Values: values})
		}
	}

	rows, count, err := e.store.FindAndCount(ctx, e.collection, opts)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []schema.Document{}
	}
	e.logger.Debug("Paginated",
		zap.String("collection", e.collection),
		zap.Int("page", req.Pagination.Page),
		zap.Int("rows", len(rows)),
		zap.Int("count", count),
	)
	return &Page{Count: count, Rows: rows}, nil
}

func (e *Executor) resolveSearch(ctx context.Context, req SearchRequest) ([]string, error) {
	out, err := e.events.observe("search", e.collection, searchEvents, req, func() (any, error) {
		return e.search.ResolveMatchingIDs(ctx, e.collection, SplitSearchKey(req.Key), req.Value, e.scope)
	})
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

// FindByCriteria returns every row matching c, unpaginated.
func (e *Executor) FindByCriteria(ctx context.Context, c query.Criteria) ([]schema.Document, error) {
	out, err := e.events.observe("find", e.collection, queryEvents, c, func() (any, error) {
		opts, err := BuildFindOptions(c)
		if err != nil {
			return nil, err
		}
		return e.store.Find(ctx, e.collection, opts)
	})
	if err != nil {
		return nil, err
	}
	return out.([]schema.Document), nil
}

// FindOneByCriteria returns the first row matching c, or nil.
func (e *Executor) FindOneByCriteria(ctx context.Context, c query.Criteria) (schema.Document, error) {
	out, err := e.events.observe("findOne", e.collection, queryEvents, c, func() (any, error) {
		opts, err := BuildFindOptions(c)
		if err != nil {
			return nil, err
		}
		return e.store.FindOne(ctx, e.collection, opts)
	})
	if err != nil {
		return nil, err
	}
	return out.(schema.Document), nil
}

// FindOneOrFailByCriteria is FindOneByCriteria returning ErrNotFound instead of nil.
func (e *Executor) FindOneOrFailByCriteria(ctx context.Context, c query.Criteria) (schema.Document, error) {
	doc, err := e.FindOneByCriteria(ctx, c)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: no %s matches the given criteria", ErrNotFound, e.collection)
	}
	return doc, nil
}

// Exists reports whether any row matches c.
func (e *Executor) Exists(ctx context.Context, c query.Criteria) (bool, error) {
	out, err := e.events.observe("exists", e.collection, queryEvents, c, func() (any, error) {
		where, err := BuildWhere(c)
		if err != nil {
			return nil, err
		}
		return e.store.Exists(ctx, e.collection, where)
	})
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

// Count returns the number of rows matching c.
func (e *Executor) Count(ctx context.Context, c query.Criteria) (int, error) {
	out, err := e.events.observe("count", e.collection, queryEvents, c, func() (any, error) {
		where, err := BuildWhere(c)
		if err != nil {
			return nil, err
		}
		return e.store.Count(ctx, e.collection, where)
	})
	if err != nil {
		return 0, err
	}
	return out.(int), nil
}

// BulkCreateOrUpdate validates docs and upserts them. Documents carrying an id
// are validated loosely, as partial updates.
func (e *Executor) BulkCreateOrUpdate(ctx context.Context, docs []schema.Document) ([]schema.Document, error) {
	out, err := e.events.observe("save", e.collection, queryEvents, len(docs), func() (any, error) {
		validator := schema.NewValidator(e.schema)
		for i, d := range docs {
			if ok, issues := validator.Validate(d, d.ID() != ""); !ok {
				return nil, &ValidationError{Index: i, Issues: issues}
			}
		}
		return e.store.Save(ctx, e.collection, docs)
	})
	if err != nil {
		return nil, err
	}
	return out.([]schema.Document), nil
}

// Aggregate computes fn over field for rows matching c. It returns nil when no
// row matches.
func (e *Executor) Aggregate(ctx context.Context, fn AggregateFunc, field string, c query.Criteria) (*float64, error) {
	if !fn.IsSupported() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAggregate, fn)
	}
	if err := schema.ValidateIdentifier(field); err != nil {
		return nil, err
	}
	if !e.schema.HasField(field) {
		return nil, fmt.Errorf("%w: '%s' on collection '%s'", schema.ErrUnknownField, field, e.collection)
	}
	out, err := e.events.observe(strings.ToLower(string(fn)), e.collection, queryEvents, field, func() (any, error) {
		where, err := BuildWhere(c)
		if err != nil {
			return nil, err
		}
		return e.store.Aggregate(ctx, e.collection, fn, field, where)
	})
	if err != nil {
		return nil, err
	}
	return out.(*float64), nil
}

// Max returns the largest value of field among rows matching c.
func (e *Executor) Max(ctx context.Context, field string, c query.Criteria) (*float64, error) {
	return e.Aggregate(ctx, AggregateMax, field, c)
}

// Min returns the smallest value of field among rows matching c.
func (e *Executor) Min(ctx context.Context, field string, c query.Criteria) (*float64, error) {
	return e.Aggregate(ctx, AggregateMin, field, c)
}

// Sum adds up field over rows matching c.
func (e *Executor) Sum(ctx context.Context, field string, c query.Criteria) (*float64, error) {
	return e.Aggregate(ctx, AggregateSum, field, c)
}
