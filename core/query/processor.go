package query

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"go.uber.org/zap"
)

// RelationLoader returns the rows reachable from doc through relation and the
// loader to use one level further down. The processor calls it when a
// condition tree descends into a relation.
type RelationLoader func(doc schema.Document, relation string) ([]schema.Document, RelationLoader, error)

// DataProcessor evaluates condition trees, orders and page windows in Go.
// Stores without a query language of their own (and tests) use it in place of
// a compiled statement.
type DataProcessor struct {
	patterns *lru.Cache[string, *regexp.Regexp]
	logger   *zap.Logger
}

// PatternCacheSize bounds the compiled LIKE patterns a DataProcessor keeps.
const PatternCacheSize = 256

// NewDataProcessor creates a new DataProcessor instance.
func NewDataProcessor(logger *zap.Logger) *DataProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	// lru.New only fails for a non-positive size.
	patterns, _ := lru.New[string, *regexp.Regexp](PatternCacheSize)
	return &DataProcessor{
		patterns: patterns,
		logger:   logger,
	}
}

// Filter returns the rows matching where, preserving their order.
func (p *DataProcessor) Filter(rows []schema.Document, where *Where, load RelationLoader) ([]schema.Document, error) {
	if where.IsEmpty() {
		return rows, nil
	}
	out := make([]schema.Document, 0, len(rows))
	for _, row := range rows {
		ok, err := p.Match(row, where, load)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	p.logger.Debug("Filtered rows in Go", zap.Int("input", len(rows)), zap.Int("output", len(out)))
	return out, nil
}

// Match reports whether doc satisfies every condition of where. A relation
// sub-tree is satisfied when any related row satisfies it; a row without
// related rows is tested against an empty row, the way a LEFT JOIN would.
func (p *DataProcessor) Match(doc schema.Document, where *Where, load RelationLoader) (bool, error) {
	if where == nil {
		return true, nil
	}
	for _, field := range where.Fields() {
		if !p.MatchCondition(where.Conditions[field], lookup(doc, field)) {
			return false, nil
		}
	}
	for _, name := range where.RelationNames() {
		sub := where.Relations[name]
		if sub.IsEmpty() {
			continue
		}
		if load == nil {
			return false, fmt.Errorf("condition on relation '%s' needs a relation loader", name)
		}
		related, next, err := load(doc, name)
		if err != nil {
			return false, err
		}
		if len(related) == 0 {
			related = []schema.Document{{}}
		}
		matched := false
		for _, r := range related {
			ok, err := p.Match(r, sub, next)
			if err != nil {
				return false, err
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

// MatchCondition evaluates a single condition against a value. Comparisons
// against a missing value are false, except for null checks.
func (p *DataProcessor) MatchCondition(c Condition, value any) bool {
	switch cond := c.(type) {
	case Equals:
		return value != nil && equalValues(value, cond.Value)
	case Not:
		if _, isNull := cond.Condition.(IsNull); !isNull && value == nil {
			return false
		}
		return !p.MatchCondition(cond.Condition, value)
	case Range:
		if value == nil {
			return false
		}
		if cond.Lower != nil {
			cmp := CompareValues(value, cond.Lower.Value)
			if cmp < 0 || (cmp == 0 && !cond.Lower.Inclusive) {
				return false
			}
		}
		if cond.Upper != nil {
			cmp := CompareValues(value, cond.Upper.Value)
			if cmp > 0 || (cmp == 0 && !cond.Upper.Inclusive) {
				return false
			}
		}
		return true
	case Pattern:
		if value == nil {
			return false
		}
		return p.MatchLike(schema.KeyOf(value), cond.Like(), cond.Unaccented)
	case SetMembership:
		if value == nil {
			return false
		}
		return slices.ContainsFunc(cond.Values, func(v any) bool { return equalValues(value, v) })
	case IsNull:
		return value == nil
	case Or:
		for _, member := range cond.Conditions {
			if p.MatchCondition(member, value) {
				return true
			}
		}
		return false
	default:
		p.logger.Warn("Unknown condition node", zap.String("type", fmt.Sprintf("%T", c)))
		return false
	}
}

// MatchLike applies a case-insensitive LIKE pattern (% and _ wildcards).
func (p *DataProcessor) MatchLike(value, pattern string, unaccented bool) bool {
	pattern = Fold(pattern, unaccented)
	re, ok := p.patterns.Get(pattern)
	if !ok {
		var sb strings.Builder
		sb.WriteString("(?s)^")
		for _, r := range pattern {
			switch r {
			case '%':
				sb.WriteString(".*")
			case '_':
				sb.WriteString(".")
			default:
				sb.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		sb.WriteString("$")
		re = regexp.MustCompile(sb.String())
		p.patterns.Add(pattern, re)
	}
	return re.MatchString(Fold(value, unaccented))
}

// Sort orders rows in place. Missing values sort first in ascending order.
func (p *DataProcessor) Sort(rows []schema.Document, order Order) {
	if len(order) == 0 {
		return
	}
	slices.SortStableFunc(rows, func(a, b schema.Document) int {
		for _, e := range order {
			cmp := CompareValues(lookup(a, e.Property), lookup(b, e.Property))
			if cmp == 0 {
				continue
			}
			if e.Direction == OrderDesc {
				return -cmp
			}
			return cmp
		}
		return 0
	})
}

// Window applies offset and limit. A limit of zero or less means no limit.
func (p *DataProcessor) Window(rows []schema.Document, limit, offset int) []schema.Document {
	if offset >= len(rows) {
		return []schema.Document{}
	}
	if offset > 0 {
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// CompareValues orders two values: numerically when both read as numbers,
// chronologically when both read as timestamps, textually otherwise. nil sorts
// before everything.
func CompareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := ToFloat64(a); ok {
		if fb, ok := ToFloat64(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := ToTime(a); ok {
		if tb, ok := ToTime(b); ok {
			return ta.Compare(tb)
		}
	}
	return strings.Compare(schema.KeyOf(a), schema.KeyOf(b))
}

func equalValues(a, b any) bool {
	if fa, ok := ToFloat64(a); ok {
		if fb, ok := ToFloat64(b); ok {
			return fa == fb
		}
	}
	return schema.KeyOf(a) == schema.KeyOf(b)
}

// lookup reads a possibly dotted field from a document, descending into
// embedded objects.
func lookup(doc schema.Document, field string) any {
	if v, ok := doc[field]; ok {
		return v
	}
	head, rest, found := strings.Cut(field, PathSeparator)
	if !found {
		return nil
	}
	switch inner := doc[head].(type) {
	case schema.Document:
		return lookup(inner, rest)
	case map[string]any:
		return lookup(schema.Document(inner), rest)
	}
	return nil
}
