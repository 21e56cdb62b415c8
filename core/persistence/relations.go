package persistence

import (
	"context"
	"fmt"
	"slices"

	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
)

// FetchRelation loads the rows reachable through rel from every parent with a
// single query and groups them by the parent-side key. It returns the groups
// and the flat list of fetched rows.
func FetchRelation(ctx context.Context, f Finder, rel *schema.RelationDefinition, parents []schema.Document) (map[string][]schema.Document, []schema.Document, error) {
	var keys []string
	for _, p := range parents {
		k := schema.KeyOf(p[rel.LocalField])
		if k != "" && !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	groups := make(map[string][]schema.Document, len(keys))
	if len(keys) == 0 {
		return groups, nil, nil
	}

	rows, err := f.Find(ctx, rel.Target, FindOptions{Where: query.WhereIn(rel.ForeignField, keys)})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load relation target '%s': %w", rel.Target, err)
	}
	for _, row := range rows {
		k := schema.KeyOf(row[rel.ForeignField])
		groups[k] = append(groups[k], row)
	}
	return groups, rows, nil
}

// AttachRelation stores grouped rows on each parent under name: a list for
// to-many relations, the first row or nil otherwise.
func AttachRelation(parents []schema.Document, name string, rel *schema.RelationDefinition, groups map[string][]schema.Document) {
	for _, p := range parents {
		group := groups[schema.KeyOf(p[rel.LocalField])]
		if rel.Many() {
			if group == nil {
				group = []schema.Document{}
			}
			p[name] = group
			continue
		}
		if len(group) > 0 {
			p[name] = group[0]
		} else {
			p[name] = nil
		}
	}
}

// LoadRelations resolves an inclusion tree over rows of collection, one query
// per relation per level, attaching results in place.
func LoadRelations(ctx context.Context, f Finder, registry *schema.Registry, collection string, rows []schema.Document, tree query.RelationTree) error {
	if len(tree) == 0 || len(rows) == 0 {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("loading relations of '%s' requires a schema registry", collection)
	}
	for _, name := range tree.Names() {
		rel, ok := registry.Relation(collection, name)
		if !ok {
			return fmt.Errorf("%w: '%s' on collection '%s'", schema.ErrUnknownRelation, name, collection)
		}
		groups, fetched, err := FetchRelation(ctx, f, rel, rows)
		if err != nil {
			return err
		}
		if err := LoadRelations(ctx, f, registry, rel.Target, fetched, tree[name]); err != nil {
			return err
		}
		AttachRelation(rows, name, rel, groups)
	}
	return nil
}
