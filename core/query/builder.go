package query

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
)

// CriteriaBuilder provides a fluent API for building Criteria in code. Its
// String form is the query string the parsers accept, so criteria built here
// and criteria parsed from a request go through the same translation.
type CriteriaBuilder struct {
	criteria Criteria
}

// NewCriteriaBuilder creates a new, empty builder instance.
func NewCriteriaBuilder() *CriteriaBuilder {
	return &CriteriaBuilder{}
}

// Build returns the constructed Criteria.
func (cb *CriteriaBuilder) Build() Criteria {
	return cb.criteria
}

// Clone creates a copy of the builder that can be extended independently.
func (cb *CriteriaBuilder) Clone() *CriteriaBuilder {
	return &CriteriaBuilder{criteria: Criteria{
		Filters: slices.Clone(cb.criteria.Filters),
		Sorts:   slices.Clone(cb.criteria.Sorts),
		Include: slices.Clone(cb.criteria.Include),
		Extra:   maps.Clone(cb.criteria.Extra),
	}}
}

// Reset clears the builder.
func (cb *CriteriaBuilder) Reset() *CriteriaBuilder {
	cb.criteria = Criteria{}
	return cb
}

// Where begins a filter on a dotted property path.
func (cb *CriteriaBuilder) Where(property string) *FilterConditionBuilder {
	return &FilterConditionBuilder{parent: cb, property: property}
}

// Equal adds an extra equality condition, applied after translation.
func (cb *CriteriaBuilder) Equal(field string, value any) *CriteriaBuilder {
	if cb.criteria.Extra == nil {
		cb.criteria.Extra = make(map[string]any)
	}
	cb.criteria.Extra[field] = value
	return cb
}

// OrderBy adds a sort clause.
func (cb *CriteriaBuilder) OrderBy(property string, direction SortDirection) *CriteriaBuilder {
	cb.criteria.Sorts = append(cb.criteria.Sorts, SortCriterion{Property: property, Direction: direction})
	return cb
}

// OrderByAsc adds an ascending sort clause.
func (cb *CriteriaBuilder) OrderByAsc(property string) *CriteriaBuilder {
	return cb.OrderBy(property, SortDirectionAsc)
}

// OrderByDesc adds a descending sort clause.
func (cb *CriteriaBuilder) OrderByDesc(property string) *CriteriaBuilder {
	return cb.OrderBy(property, SortDirectionDesc)
}

// Include adds relation paths to load.
func (cb *CriteriaBuilder) Include(paths ...string) *CriteriaBuilder {
	cb.criteria.Include = append(cb.criteria.Include, paths...)
	return cb
}

// FilterConditionBuilder is used to build a single filter clause.
type FilterConditionBuilder struct {
	parent   *CriteriaBuilder
	property string
}

// Eq adds an equality condition.
func (fcb *FilterConditionBuilder) Eq(value any) *CriteriaBuilder {
	return fcb.add(FilterRuleEq, schema.KeyOf(value))
}

// Neq adds a negated equality condition.
func (fcb *FilterConditionBuilder) Neq(value any) *CriteriaBuilder {
	return fcb.add(FilterRuleNeq, schema.KeyOf(value))
}

// Gt adds a strict lower bound.
func (fcb *FilterConditionBuilder) Gt(value any) *CriteriaBuilder {
	return fcb.add(FilterRuleGt, schema.KeyOf(value))
}

// Gte adds an inclusive lower bound.
func (fcb *FilterConditionBuilder) Gte(value any) *CriteriaBuilder {
	return fcb.add(FilterRuleGte, schema.KeyOf(value))
}

// Lt adds a strict upper bound.
func (fcb *FilterConditionBuilder) Lt(value any) *CriteriaBuilder {
	return fcb.add(FilterRuleLt, schema.KeyOf(value))
}

// Lte adds an inclusive upper bound.
func (fcb *FilterConditionBuilder) Lte(value any) *CriteriaBuilder {
	return fcb.add(FilterRuleLte, schema.KeyOf(value))
}

// Between adds both inclusive bounds.
func (fcb *FilterConditionBuilder) Between(lower, upper any) *CriteriaBuilder {
	fcb.Gte(lower)
	return fcb.Lte(upper)
}

// Like adds a case-insensitive contains match.
func (fcb *FilterConditionBuilder) Like(value string) *CriteriaBuilder {
	return fcb.add(FilterRuleLike, value)
}

// NotLike adds a negated contains match.
func (fcb *FilterConditionBuilder) NotLike(value string) *CriteriaBuilder {
	return fcb.add(FilterRuleNotLike, value)
}

// StartsWith adds a case-insensitive prefix match.
func (fcb *FilterConditionBuilder) StartsWith(value string) *CriteriaBuilder {
	return fcb.add(FilterRuleStartsWith, value)
}

// EndsWith adds a case-insensitive suffix match.
func (fcb *FilterConditionBuilder) EndsWith(value string) *CriteriaBuilder {
	return fcb.add(FilterRuleEndsWith, value)
}

// LikeUnaccented adds an accent-insensitive contains match.
func (fcb *FilterConditionBuilder) LikeUnaccented(value string) *CriteriaBuilder {
	return fcb.add(FilterRuleLikeUnaccented, value)
}

// In adds a set membership condition.
func (fcb *FilterConditionBuilder) In(values ...any) *CriteriaBuilder {
	return fcb.add(FilterRuleIn, encodeSet(values))
}

// Nin adds a negated set membership condition.
func (fcb *FilterConditionBuilder) Nin(values ...any) *CriteriaBuilder {
	return fcb.add(FilterRuleNotIn, encodeSet(values))
}

// IsNull adds a null check.
func (fcb *FilterConditionBuilder) IsNull() *CriteriaBuilder {
	return fcb.add(FilterRuleIsNull, "")
}

// IsNotNull adds a negated null check.
func (fcb *FilterConditionBuilder) IsNotNull() *CriteriaBuilder {
	return fcb.add(FilterRuleIsNotNull, "")
}

func (fcb *FilterConditionBuilder) add(rule FilterRule, value string) *CriteriaBuilder {
	fcb.parent.criteria.Filters = append(fcb.parent.criteria.Filters, FilterCriterion{
		Property: fcb.property,
		Rule:     rule,
		Value:    value,
	})
	return fcb.parent
}

func encodeSet(values []any) string {
	if values == nil {
		values = []any{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// CriteriaValidationError represents an error found during criteria validation.
type CriteriaValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error returns the error message for a CriteriaValidationError.
func (ve CriteriaValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// Unwrap exposes the taxonomy error behind the validation failure.
func (ve CriteriaValidationError) Unwrap() error {
	return ve.Err
}

// CriteriaValidationResult contains the results of a criteria validation.
type CriteriaValidationResult struct {
	IsValid bool
	Errors  []CriteriaValidationError
}

// Validate checks the built criteria against the same rules the parsers apply.
func (cb *CriteriaBuilder) Validate() CriteriaValidationResult {
	var errs []CriteriaValidationError

	for i, f := range cb.criteria.Filters {
		field := fmt.Sprintf("filters[%d]", i)
		switch {
		case f.Property == "":
			errs = append(errs, CriteriaValidationError{field, "property cannot be empty", ErrInvalidFilterFormat})
		case !f.Rule.IsStandard():
			errs = append(errs, CriteriaValidationError{field, fmt.Sprintf("unknown rule %q", f.Rule), ErrUnknownFilterRule})
		case f.Rule.RequiresValue() && f.Value == "":
			errs = append(errs, CriteriaValidationError{field, "value is required", ErrMissingFilterValue})
		}
	}

	for i, s := range cb.criteria.Sorts {
		if !sortClausePattern.MatchString(s.Property + PartSeparator + string(s.Direction)) {
			errs = append(errs, CriteriaValidationError{fmt.Sprintf("sorts[%d]", i), "malformed sort clause", ErrInvalidSortFormat})
		}
	}

	for i, p := range cb.criteria.Include {
		if _, err := ParseRelationPath(p, DefaultMaxPathDepth); err != nil {
			errs = append(errs, CriteriaValidationError{fmt.Sprintf("include[%d]", i), err.Error(), err})
		}
	}

	return CriteriaValidationResult{
		IsValid: len(errs) == 0,
		Errors:  errs,
	}
}

// FilterString renders the filters in the `prop:rule:value&&…` grammar.
func (cb *CriteriaBuilder) FilterString() string {
	clauses := make([]string, len(cb.criteria.Filters))
	for i, f := range cb.criteria.Filters {
		if f.Rule.RequiresValue() {
			clauses[i] = f.Property + PartSeparator + string(f.Rule) + PartSeparator + f.Value
		} else {
			clauses[i] = f.Property + PartSeparator + string(f.Rule)
		}
	}
	return strings.Join(clauses, ClauseSeparator)
}

// SortString renders the sorts in the `prop:direction&&…` grammar.
func (cb *CriteriaBuilder) SortString() string {
	clauses := make([]string, len(cb.criteria.Sorts))
	for i, s := range cb.criteria.Sorts {
		clauses[i] = s.Property + PartSeparator + string(s.Direction)
	}
	return strings.Join(clauses, ClauseSeparator)
}

// IncludeString renders the include paths in the `a.b|c` grammar.
func (cb *CriteriaBuilder) IncludeString() string {
	return strings.Join(cb.criteria.Include, IncludeSeparator)
}

// Values renders the criteria as request query parameters.
func (cb *CriteriaBuilder) Values() url.Values {
	v := url.Values{}
	if s := cb.FilterString(); s != "" {
		v.Set("filter", s)
	}
	if s := cb.SortString(); s != "" {
		v.Set("sort", s)
	}
	if s := cb.IncludeString(); s != "" {
		v.Set("include", s)
	}
	return v
}

// String returns the encoded query string.
func (cb *CriteriaBuilder) String() string {
	if enc := cb.Values().Encode(); enc != "" {
		return enc
	}
	return "EMPTY CRITERIA"
}
