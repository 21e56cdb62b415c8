package memstore

import (
	"context"
	"fmt"

	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
)

type equality struct {
	ref   persistence.ColumnRef
	value any
}

type searchQuery struct {
	store      *Store
	collection string
	joins      map[string]*schema.RelationDefinition
	equals     []equality
	groups     [][]persistence.ColumnRef
	patterns   []string
}

func (q *searchQuery) RootAlias() string {
	return q.collection
}

func (q *searchQuery) IsJoined(alias string) bool {
	if alias == q.collection {
		return true
	}
	_, ok := q.joins[alias]
	return ok
}

func (q *searchQuery) LeftJoin(relation, alias string) error {
	if q.store.registry == nil {
		return fmt.Errorf("%w: '%s' on collection '%s'", schema.ErrUnknownRelation, relation, q.collection)
	}
	rel, ok := q.store.registry.Relation(q.collection, relation)
	if !ok {
		return fmt.Errorf("%w: '%s' on collection '%s'", schema.ErrUnknownRelation, relation, q.collection)
	}
	q.joins[alias] = rel
	return nil
}

func (q *searchQuery) AndWhereEquals(ref persistence.ColumnRef, value any) {
	q.equals = append(q.equals, equality{ref: ref, value: value})
}

func (q *searchQuery) AndWhereAnyLike(refs []persistence.ColumnRef, pattern string) {
	q.groups = append(q.groups, refs)
	q.patterns = append(q.patterns, pattern)
}

// values returns what ref reads on row: the row's own column, or the column
// of every joined row.
func (q *searchQuery) values(row schema.Document, ref persistence.ColumnRef) []any {
	if ref.Alias == q.collection {
		return []any{row[ref.Column]}
	}
	rel, ok := q.joins[ref.Alias]
	if !ok {
		return nil
	}
	key := schema.KeyOf(row[rel.LocalField])
	t, ok := q.store.tables[rel.Target]
	if !ok || key == "" {
		return nil
	}
	var out []any
	for _, r := range t.rows {
		if schema.KeyOf(r[rel.ForeignField]) == key {
			out = append(out, r[ref.Column])
		}
	}
	return out
}

func (q *searchQuery) matches(row schema.Document) bool {
	p := q.store.processor
	for _, eq := range q.equals {
		found := false
		for _, v := range q.values(row, eq.ref) {
			if p.MatchCondition(query.Equals{Value: eq.value}, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, refs := range q.groups {
		found := false
		for _, ref := range refs {
			for _, v := range q.values(row, ref) {
				if v != nil && p.MatchLike(schema.KeyOf(v), q.patterns[i], false) {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (q *searchQuery) SelectIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.store.queries.Add(1)
	q.store.mu.RLock()
	defer q.store.mu.RUnlock()

	t, err := q.store.tableFor(q.collection)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, row := range t.rows {
		if q.matches(row) {
			ids = append(ids, row.ID())
		}
	}
	return ids, nil
}
