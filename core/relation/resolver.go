// Package relation resolves include paths that freely mix declared schema
// relations with generic references. Rows of a reference collection point at
// their owner through an (ownerId, ownerCollection) pair instead of a foreign
// key, so the same hop can be followed in either direction.
package relation

import (
	"context"
	"fmt"

	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many paths of one call are resolved at once.
const DefaultConcurrency = 4

// Options configures a Resolver. All fields are optional.
type Options struct {
	Logger *zap.Logger
	// MaxDepth bounds the hops of a path. Zero uses query.DefaultMaxPathDepth.
	MaxDepth int
	// Concurrency bounds the paths resolved at the same time.
	Concurrency int
}

// Resolver follows include paths over a Finder, usually a persistence.Router
// so each hop reaches the store holding its collection.
type Resolver struct {
	finder      persistence.Finder
	registry    *schema.Registry
	refs        *schema.ReferenceRegistry
	logger      *zap.Logger
	maxDepth    int
	concurrency int
}

// New creates a resolver. registry must not be nil.
func New(finder persistence.Finder, registry *schema.Registry, opts *Options) *Resolver {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = query.DefaultMaxPathDepth
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Resolver{
		finder:      finder,
		registry:    registry,
		refs:        registry.References(),
		logger:      logger,
		maxDepth:    maxDepth,
		concurrency: concurrency,
	}
}

// Resolve follows every path from the row rootID of rootCollection and returns
// the rows reached by each path's first hop, keyed by that hop. Deeper hops are
// attached onto those rows in place. A path reaching nothing is left out.
//
// Paths fail independently. The call fails only when every path failed, with
// an error matching ErrAllRelationLookupsFailed.
func (r *Resolver) Resolve(ctx context.Context, rootID, rootCollection string, paths []query.RelationPath) (map[string][]schema.Document, error) {
	included := make(map[string][]schema.Document)
	if len(paths) == 0 {
		return included, nil
	}
	root, err := r.findByID(ctx, rootCollection, rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return included, nil
	}

	results := make([][]schema.Document, len(paths))
	errs := r.run(ctx, len(paths), func(i int) error {
		rows, err := r.resolveFromRoot(ctx, root, rootID, rootCollection, paths[i])
		results[i] = rows
		return err
	})
	if failures := r.failures(paths, errs); len(failures) == len(paths) {
		return nil, newAllLookupsFailed(failures)
	}

	for i, p := range paths {
		if errs[i] != nil || len(results[i]) == 0 {
			continue
		}
		head, _ := p.Head()
		included[head] = results[i]
	}
	return included, nil
}

// ResolveNested attaches the rows reached by segments onto parent, one hop at
// a time. Reference hops attach a list in the store's order; declared
// relations attach the way persistence.AttachRelation does.
func (r *Resolver) ResolveNested(ctx context.Context, parent schema.Document, parentCollection string, segments query.RelationPath) error {
	if err := r.checkPath(segments); err != nil {
		return err
	}
	return r.resolveLevel(ctx, []schema.Document{parent}, parentCollection, segments)
}

// ResolveMany resolves every path for all parents at once: each hop is a single
// query across every parent, grouped back by parent id. Parents are returned
// with the results attached; a reference hop that reaches nothing for a parent
// attaches an empty list. Failure rules match Resolve.
func (r *Resolver) ResolveMany(ctx context.Context, parents []schema.Document, parentCollection string, paths []query.RelationPath) ([]schema.Document, error) {
	if len(paths) == 0 || len(parents) == 0 {
		return parents, nil
	}

	attachers := make([]func(), len(paths))
	errs := r.run(ctx, len(paths), func(i int) error {
		attach, err := r.resolveBatch(ctx, parents, parentCollection, paths[i])
		attachers[i] = attach
		return err
	})
	if failures := r.failures(paths, errs); len(failures) == len(paths) {
		return nil, newAllLookupsFailed(failures)
	}

	// Parents are shared by every path, so results are attached only once all
	// paths are done.
	for i := range paths {
		if errs[i] == nil && attachers[i] != nil {
			attachers[i]()
		}
	}
	return parents, nil
}

// run calls fn for every index with bounded concurrency and returns the error
// of each call in index order.
func (r *Resolver) run(ctx context.Context, n int, fn func(i int) error) []error {
	errs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(i)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (r *Resolver) failures(paths []query.RelationPath, errs []error) []*LookupError {
	var out []*LookupError
	for i, err := range errs {
		if err == nil {
			continue
		}
		le := &LookupError{Path: paths[i].String(), Err: err}
		r.logger.Warn("Relation lookup failed", zap.String("path", le.Path), zap.Error(err))
		out = append(out, le)
	}
	return out
}

func (r *Resolver) checkPath(path query.RelationPath) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: empty path", query.ErrInvalidIncludeFormat)
	}
	if len(path) > r.maxDepth {
		return fmt.Errorf("%w: %q has %d hops, limit is %d", query.ErrPathTooDeep, path.String(), len(path), r.maxDepth)
	}
	return nil
}

func (r *Resolver) resolveFromRoot(ctx context.Context, root schema.Document, rootID, rootCollection string, path query.RelationPath) ([]schema.Document, error) {
	if err := r.checkPath(path); err != nil {
		return nil, err
	}
	head, rest := path.Head()

	var (
		rows   []schema.Document
		target = head
		err    error
	)
	switch {
	case r.refs.IsReference(head):
		rows, err = r.finder.Find(ctx, head, persistence.FindOptions{Where: r.ownedBy(rootCollection, []string{rootID})})
	case r.refs.OwnerCollection(root) == head:
		var owner schema.Document
		owner, err = r.findByID(ctx, head, r.refs.OwnerID(root))
		if owner != nil {
			rows = []schema.Document{owner}
		}
	default:
		if rel, ok := r.registry.Relation(rootCollection, head); ok {
			target = rel.Target
			_, rows, err = persistence.FetchRelation(ctx, r.finder, rel, []schema.Document{root})
			break
		}
		if !r.registry.Has(head) {
			return nil, fmt.Errorf("%w: '%s'", schema.ErrUnknownCollection, head)
		}
		rows, err = r.finder.Find(ctx, head, persistence.FindOptions{Where: r.ownedBy(rootCollection, []string{rootID})})
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if err := r.resolveLevel(ctx, rows, target, rest); err != nil {
		return nil, err
	}
	r.logger.Debug("Resolved relation path",
		zap.String("collection", rootCollection),
		zap.String("path", path.String()),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

func (r *Resolver) resolveBatch(ctx context.Context, parents []schema.Document, parentCollection string, path query.RelationPath) (func(), error) {
	if err := r.checkPath(path); err != nil {
		return nil, err
	}
	head, rest := path.Head()

	switch {
	case r.refs.IsReference(head):
		return r.forwardBatch(ctx, parents, parentCollection, head, rest)
	case r.refs.OwnerCollection(parents[0]) == head:
		return r.reverseBatch(ctx, parents, head, rest)
	}
	if rel, ok := r.registry.Relation(parentCollection, head); ok {
		groups, fetched, err := persistence.FetchRelation(ctx, r.finder, rel, parents)
		if err != nil {
			return nil, err
		}
		if err := r.resolveLevel(ctx, fetched, rel.Target, rest); err != nil {
			return nil, err
		}
		return func() { persistence.AttachRelation(parents, head, rel, groups) }, nil
	}
	if !r.registry.Has(head) {
		return nil, fmt.Errorf("%w: '%s'", schema.ErrUnknownCollection, head)
	}
	return r.forwardBatch(ctx, parents, parentCollection, head, rest)
}

// forwardBatch loads the rows of target owned by any parent and groups them by
// their owner id.
func (r *Resolver) forwardBatch(ctx context.Context, parents []schema.Document, parentCollection, target string, rest query.RelationPath) (func(), error) {
	ids := idsOf(parents)
	if len(ids) == 0 {
		return attachGroups(parents, target, nil), nil
	}
	children, err := r.finder.Find(ctx, target, persistence.FindOptions{Where: r.ownedBy(parentCollection, ids)})
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]schema.Document)
	for _, c := range children {
		owner := r.refs.OwnerID(c)
		groups[owner] = append(groups[owner], c)
	}
	if err := r.resolveLevel(ctx, children, target, rest); err != nil {
		return nil, err
	}
	return attachGroups(parents, target, groups), nil
}

// reverseBatch loads the owners of parents that point at target and groups
// each owner under the id of the parent pointing at it.
func (r *Resolver) reverseBatch(ctx context.Context, parents []schema.Document, target string, rest query.RelationPath) (func(), error) {
	var ownerIDs []string
	seen := make(map[string]bool)
	for _, p := range parents {
		if r.refs.OwnerCollection(p) != target {
			continue
		}
		if id := r.refs.OwnerID(p); id != "" && !seen[id] {
			seen[id] = true
			ownerIDs = append(ownerIDs, id)
		}
	}
	if len(ownerIDs) == 0 {
		return attachGroups(parents, target, nil), nil
	}
	owners, err := r.finder.Find(ctx, target, persistence.FindOptions{Where: query.WhereIn(schema.IDField, ownerIDs)})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]schema.Document, len(owners))
	for _, o := range owners {
		byID[o.ID()] = o
	}
	groups := make(map[string][]schema.Document)
	for _, p := range parents {
		if r.refs.OwnerCollection(p) != target {
			continue
		}
		if o, ok := byID[r.refs.OwnerID(p)]; ok {
			groups[p.ID()] = []schema.Document{o}
		}
	}
	if err := r.resolveLevel(ctx, owners, target, rest); err != nil {
		return nil, err
	}
	return attachGroups(parents, target, groups), nil
}

// attachGroups sets each parent's group under name. Parents without related
// rows get an empty list.
func attachGroups(parents []schema.Document, name string, groups map[string][]schema.Document) func() {
	return func() {
		for _, p := range parents {
			group := groups[p.ID()]
			if group == nil {
				group = []schema.Document{}
			}
			p[name] = group
		}
	}
}

// resolveLevel resolves one hop for every parent with a single query, then
// recurses into the rows it reached. Declared relations continue from their
// target collection, which need not match the segment name.
func (r *Resolver) resolveLevel(ctx context.Context, parents []schema.Document, collection string, segments query.RelationPath) error {
	if len(segments) == 0 || len(parents) == 0 {
		return nil
	}
	head, rest := segments.Head()

	if r.refs.IsReference(head) {
		var children []schema.Document
		groups := make(map[string][]schema.Document)
		if ids := idsOf(parents); len(ids) > 0 {
			var err error
			children, err = r.finder.Find(ctx, head, persistence.FindOptions{Where: r.ownedBy(collection, ids)})
			if err != nil {
				return err
			}
			for _, c := range children {
				owner := r.refs.OwnerID(c)
				groups[owner] = append(groups[owner], c)
			}
		}
		for _, p := range parents {
			group := groups[p.ID()]
			if group == nil {
				group = []schema.Document{}
			}
			p[head] = group
		}
		return r.resolveLevel(ctx, children, head, rest)
	}

	rel, ok := r.registry.Relation(collection, head)
	if !ok {
		return fmt.Errorf("%w: '%s' on collection '%s'", schema.ErrUnknownRelation, head, collection)
	}
	groups, fetched, err := persistence.FetchRelation(ctx, r.finder, rel, parents)
	if err != nil {
		return err
	}
	persistence.AttachRelation(parents, head, rel, groups)
	return r.resolveLevel(ctx, fetched, rel.Target, rest)
}

func (r *Resolver) ownedBy(collection string, ids []string) *query.Where {
	return query.WhereIn(r.refs.OwnerIDField, ids).
		Set(r.refs.OwnerCollectionField, query.Equals{Value: collection})
}

func (r *Resolver) findByID(ctx context.Context, collection, id string) (schema.Document, error) {
	if id == "" {
		return nil, nil
	}
	rows, err := r.finder.Find(ctx, collection, persistence.FindOptions{
		Where: query.WhereEquals(schema.IDField, id),
		Limit: 1,
	})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func idsOf(docs []schema.Document) []string {
	var ids []string
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		if id := d.ID(); id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
