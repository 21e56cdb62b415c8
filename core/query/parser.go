package query

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Separators of the query-string grammar.
const (
	ClauseSeparator  = "&&"
	PartSeparator    = ":"
	IncludeSeparator = "|"
	PathSeparator    = "."
)

// DefaultMaxPathDepth bounds the number of hops in an include path.
const DefaultMaxPathDepth = 10

var sortClausePattern = regexp.MustCompile(`^([a-zA-Z0-9_]+):(asc|desc)$`)

// ParseFilters parses `prop:rule:value&&prop2:rule2:value2`. Everything after the
// second colon belongs to the value, so values may contain colons themselves.
// An empty expression yields no filters.
func ParseFilters(raw string) ([]FilterCriterion, error) {
	if raw == "" {
		return nil, nil
	}

	clauses := strings.Split(raw, ClauseSeparator)
	filters := make([]FilterCriterion, 0, len(clauses))
	for _, clause := range clauses {
		parts := strings.Split(clause, PartSeparator)
		property := parts[0]
		var rule, value string
		if len(parts) > 1 {
			rule = parts[1]
		}
		if len(parts) > 2 {
			value = strings.Join(parts[2:], PartSeparator)
		}

		if property == "" || rule == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFilterFormat, clause)
		}

		r := FilterRule(rule)
		if !r.RequiresValue() {
			filters = append(filters, FilterCriterion{Property: property, Rule: r})
			continue
		}
		if !r.IsStandard() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFilterRule, rule)
		}
		if value == "" {
			return nil, fmt.Errorf("%w: property %s", ErrMissingFilterValue, property)
		}
		filters = append(filters, FilterCriterion{Property: property, Rule: r, Value: value})
	}
	return filters, nil
}

// ParseSorts parses `prop:asc&&prop2:desc`. Directions are case-sensitive.
func ParseSorts(raw string) ([]SortCriterion, error) {
	if raw == "" {
		return nil, nil
	}

	clauses := strings.Split(raw, ClauseSeparator)
	sorts := make([]SortCriterion, 0, len(clauses))
	for _, clause := range clauses {
		m := sortClausePattern.FindStringSubmatch(clause)
		if m == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSortFormat, clause)
		}
		sorts = append(sorts, SortCriterion{Property: m[1], Direction: SortDirection(m[2])})
	}
	return sorts, nil
}

// ParseIncludes splits `path1|path2` into relation paths. Paths are not checked
// against any schema here; unknown relations surface when they are resolved.
func ParseIncludes(raw string) (IncludeSpec, error) {
	if raw == "" {
		return nil, nil
	}
	paths := strings.Split(raw, IncludeSeparator)
	for _, p := range paths {
		if _, err := ParseRelationPath(p, DefaultMaxPathDepth); err != nil {
			return nil, err
		}
	}
	return IncludeSpec(paths), nil
}

// ParseRelationPath splits a dotted path into hops, rejecting empty hops and
// paths longer than maxDepth. A maxDepth of zero or less uses the default.
func ParseRelationPath(raw string, maxDepth int) (RelationPath, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxPathDepth
	}
	segments := strings.Split(strings.TrimSpace(raw), PathSeparator)
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidIncludeFormat, raw)
		}
	}
	if len(segments) > maxDepth {
		return nil, fmt.Errorf("%w: %q has %d hops, limit is %d", ErrPathTooDeep, raw, len(segments), maxDepth)
	}
	return RelationPath(segments), nil
}

// ParseRelationPaths parses a piped reverse-include expression such as
// `attachments|owner.category` into relation paths.
func ParseRelationPaths(raw string, maxDepth int) ([]RelationPath, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var paths []RelationPath
	for _, p := range strings.Split(raw, IncludeSeparator) {
		path, err := ParseRelationPath(p, maxDepth)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// SplitPaths splits a piped include expression without validating the paths.
// Blank entries are dropped.
func SplitPaths(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, IncludeSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PaginationOptions tunes ParsePagination.
type PaginationOptions struct {
	DefaultSize    int
	UnlimitedBound int
}

// DefaultPaginationOptions returns the stock page defaults.
func DefaultPaginationOptions() PaginationOptions {
	return PaginationOptions{DefaultSize: DefaultPageSize, UnlimitedBound: DefaultUnlimitedBound}
}

// ParsePagination parses the page and size parameters. Missing values take the
// defaults; size may be the literal "unlimited" in any case.
func ParsePagination(page, size string, opts PaginationOptions) (Pagination, error) {
	if opts.DefaultSize <= 0 {
		opts.DefaultSize = DefaultPageSize
	}
	if opts.UnlimitedBound <= 0 {
		opts.UnlimitedBound = DefaultUnlimitedBound
	}

	p := DefaultPage
	if page != "" {
		n, err := strconv.Atoi(strings.TrimSpace(page))
		if err != nil {
			return Pagination{}, fmt.Errorf("%w: page %q", ErrInvalidPagination, page)
		}
		p = n
	}
	if p < 1 {
		return Pagination{}, fmt.Errorf("%w: page must be at least 1", ErrInvalidPagination)
	}

	if strings.EqualFold(strings.TrimSpace(size), UnlimitedSize) {
		if err := checkOffset(p, opts.UnlimitedBound); err != nil {
			return Pagination{}, err
		}
		pg := NewPagination(p, opts.UnlimitedBound)
		pg.Unlimited = true
		return pg, nil
	}

	s := opts.DefaultSize
	if size != "" {
		n, err := strconv.Atoi(strings.TrimSpace(size))
		if err != nil {
			return Pagination{}, fmt.Errorf("%w: size %q", ErrInvalidPagination, size)
		}
		s = n
	}
	if s < 1 {
		return Pagination{}, fmt.Errorf("%w: size must be at least 1", ErrInvalidPagination)
	}
	if err := checkOffset(p, s); err != nil {
		return Pagination{}, err
	}
	return NewPagination(p, s), nil
}

// checkOffset rejects pages whose offset does not fit in an int.
func checkOffset(page, size int) error {
	if page-1 > math.MaxInt/size {
		return fmt.Errorf("%w: page %d is out of range", ErrInvalidPagination, page)
	}
	return nil
}
