// Package query defines the criteria language accepted from callers: filter,
// sort, include and pagination expressions, the typed criteria they parse into,
// and the translation of those criteria into a store-neutral condition tree.
package query

import (
	"encoding/json"
	"slices"
	"strings"
)

// FilterRule is one operator in the fixed filter vocabulary.
type FilterRule string

// Supported filter rules.
const (
	FilterRuleEq             FilterRule = "eq"
	FilterRuleNeq            FilterRule = "neq"
	FilterRuleGt             FilterRule = "gt"
	FilterRuleGte            FilterRule = "gte"
	FilterRuleLt             FilterRule = "lt"
	FilterRuleLte            FilterRule = "lte"
	FilterRuleLike           FilterRule = "like"
	FilterRuleNotLike        FilterRule = "nlike"
	FilterRuleIn             FilterRule = "in"
	FilterRuleNotIn          FilterRule = "nin"
	FilterRuleIsNull         FilterRule = "isnull"
	FilterRuleIsNotNull      FilterRule = "isnotnull"
	FilterRuleStartsWith     FilterRule = "startsWith"
	FilterRuleEndsWith       FilterRule = "endsWith"
	FilterRuleLikeUnaccented FilterRule = "likeUnaccented"
)

var standardFilterRules = []FilterRule{
	FilterRuleEq,
	FilterRuleNeq,
	FilterRuleGt,
	FilterRuleGte,
	FilterRuleLt,
	FilterRuleLte,
	FilterRuleLike,
	FilterRuleNotLike,
	FilterRuleIn,
	FilterRuleNotIn,
	FilterRuleIsNull,
	FilterRuleIsNotNull,
	FilterRuleStartsWith,
	FilterRuleEndsWith,
	FilterRuleLikeUnaccented,
}

// IsStandard checks if the rule is part of the supported vocabulary.
func (r FilterRule) IsStandard() bool {
	return slices.Contains(standardFilterRules, r)
}

// RequiresValue reports whether the rule needs a value. Null checks do not.
func (r FilterRule) RequiresValue() bool {
	return r != FilterRuleIsNull && r != FilterRuleIsNotNull
}

// GetStandardFilterRules returns every supported rule.
func GetStandardFilterRules() []FilterRule {
	return slices.Clone(standardFilterRules)
}

// FilterCriterion is a single parsed filter clause.
type FilterCriterion struct {
	Property string     `json:"property"` // Dot-separated property path.
	Rule     FilterRule `json:"rule"`
	Value    string     `json:"value,omitempty"`
}

// SortDirection specifies the direction for sorting.
type SortDirection string

// Supported sort directions.
const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// SortCriterion is a single parsed sort clause.
type SortCriterion struct {
	Property  string        `json:"property"`
	Direction SortDirection `json:"direction"`
}

// IncludeSpec is the flat list of dot-separated relation paths to load.
type IncludeSpec []string

// RelationPath is an include path split into its hops.
type RelationPath []string

// String joins the path back into its dotted form.
func (p RelationPath) String() string {
	return strings.Join(p, ".")
}

// Head returns the first hop and the remaining ones.
func (p RelationPath) Head() (string, RelationPath) {
	if len(p) == 0 {
		return "", nil
	}
	return p[0], p[1:]
}

// UnlimitedSize is the literal callers send to disable the page bound.
const UnlimitedSize = "unlimited"

// Pagination defaults.
const (
	DefaultPage           = 1
	DefaultPageSize       = 10
	DefaultUnlimitedBound = 10000
)

// Pagination is a parsed page request. Limit and Offset are derived; when
// Unlimited is set Limit holds the internal bound but Size is reported as the
// literal "unlimited".
type Pagination struct {
	Page      int
	Size      int
	Unlimited bool
	Limit     int
	Offset    int
}

// NewPagination derives limit and offset for a bounded page.
func NewPagination(page, size int) Pagination {
	return Pagination{Page: page, Size: size, Limit: size, Offset: (page - 1) * size}
}

// ReportedSize is the size echoed back to callers.
func (p Pagination) ReportedSize() any {
	if p.Unlimited {
		return UnlimitedSize
	}
	return p.Size
}

// MarshalJSON reports the sentinel instead of the internal bound.
func (p Pagination) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Page   int `json:"page"`
		Size   any `json:"size"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}{p.Page, p.ReportedSize(), p.Limit, p.Offset})
}

// Criteria bundles everything a caller can ask of a collection in one request.
type Criteria struct {
	Filters []FilterCriterion
	Sorts   []SortCriterion
	Include IncludeSpec
	// Extra holds equality conditions merged into the translated filters.
	// An entry overrides a translated condition on the same top-level key.
	Extra map[string]any
}

// HasFilterOn reports whether any filter targets the given property.
func (c Criteria) HasFilterOn(property string) bool {
	return slices.ContainsFunc(c.Filters, func(f FilterCriterion) bool {
		return f.Property == property
	})
}
