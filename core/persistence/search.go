package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"go.uber.org/zap"
)

// TermSeparator splits a search value into terms that must all match.
const TermSeparator = "-"

// SearchScope narrows a search query before it runs, for instance to the
// rows of one tenant.
type SearchScope func(q SearchQuery) error

// ScopeEquals returns a scope restricting a root column to value.
func ScopeEquals(column string, value any) SearchScope {
	return func(q SearchQuery) error {
		if err := schema.ValidateIdentifier(column); err != nil {
			return err
		}
		q.AndWhereEquals(ColumnRef{Alias: q.RootAlias(), Column: column}, value)
		return nil
	}
}

// SearchResolver turns a free-text search over field paths into the ids of
// matching rows.
type SearchResolver struct {
	store  DataStore
	logger *zap.Logger
}

// NewSearchResolver creates a resolver over store.
func NewSearchResolver(store DataStore, logger *zap.Logger) *SearchResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchResolver{store: store, logger: logger}
}

// ParseFieldPath reads "alias.column" as a column of a joined relation and
// anything else as a column of the root. Both parts must be identifiers.
func ParseFieldPath(path, rootAlias string) (ColumnRef, error) {
	path = strings.TrimSpace(path)
	var parts []string
	for _, p := range strings.Split(path, ".") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	ref := ColumnRef{Alias: rootAlias, Column: path}
	if len(parts) == 2 {
		ref = ColumnRef{Alias: parts[0], Column: parts[1]}
	}
	if err := schema.ValidateIdentifier(ref.Alias); err != nil {
		return ColumnRef{}, err
	}
	if err := schema.ValidateIdentifier(ref.Column); err != nil {
		return ColumnRef{}, err
	}
	return ref, nil
}

// SplitSearchTerms splits value on "-" when present. A value without the
// separator is a single term.
func SplitSearchTerms(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if !strings.Contains(value, TermSeparator) {
		return []string{value}
	}
	var terms []string
	for _, t := range strings.Split(value, TermSeparator) {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// ResolveMatchingIDs returns the ids of rows in collection where, for every
// term, at least one of fieldPaths contains the term case-insensitively. An
// empty value or field list selects every row the scope admits.
func (r *SearchResolver) ResolveMatchingIDs(ctx context.Context, collection string, fieldPaths []string, value string, scope SearchScope) ([]string, error) {
	q, err := r.store.NewSearchQuery(collection)
	if err != nil {
		return nil, err
	}
	root := q.RootAlias()

	refs := make([]ColumnRef, 0, len(fieldPaths))
	for _, p := range fieldPaths {
		ref, err := ParseFieldPath(p, root)
		if err != nil {
			return nil, fmt.Errorf("search field '%s': %w", p, err)
		}
		refs = append(refs, ref)
	}

	if scope != nil {
		if err := scope(q); err != nil {
			return nil, err
		}
	}

	terms := SplitSearchTerms(value)
	if len(terms) > 0 && len(refs) > 0 {
		for _, ref := range refs {
			if ref.Alias == root || q.IsJoined(ref.Alias) {
				continue
			}
			if err := q.LeftJoin(ref.Alias, ref.Alias); err != nil {
				return nil, err
			}
		}
		for _, term := range terms {
			q.AndWhereAnyLike(refs, "%"+term+"%")
		}
	}

	ids, err := q.SelectIDs(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Search resolved",
		zap.String("collection", collection),
		zap.Strings("fields", fieldPaths),
		zap.Int("terms", len(terms)),
		zap.Int("matches", len(ids)),
	)
	return ids, nil
}
