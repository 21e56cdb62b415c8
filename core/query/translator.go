package query

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Order directions as understood by stores.
const (
	OrderAsc  = "ASC"
	OrderDesc = "DESC"
)

// OrderEntry is one property of an Order.
type OrderEntry struct {
	Property  string
	Direction string
}

// Order is an ordered property to direction mapping.
type Order []OrderEntry

// Direction returns the direction recorded for property.
func (o Order) Direction(property string) (string, bool) {
	for _, e := range o {
		if e.Property == property {
			return e.Direction, true
		}
	}
	return "", false
}

// GetOrder maps sort criteria to store order. Properties keep the position of
// their first appearance; a repeated property takes its last direction.
func GetOrder(sorts []SortCriterion) Order {
	order := make(Order, 0, len(sorts))
	index := make(map[string]int, len(sorts))
	for _, s := range sorts {
		dir := OrderDesc
		if s.Direction == SortDirectionAsc {
			dir = OrderAsc
		}
		if i, ok := index[s.Property]; ok {
			order[i].Direction = dir
			continue
		}
		index[s.Property] = len(order)
		order = append(order, OrderEntry{Property: s.Property, Direction: dir})
	}
	return order
}

// rangeBounds collects gte/lte values for one terminal path.
type rangeBounds struct {
	node     *Where
	field    string
	min, max *string
}

// GetWhere compiles filters into a condition tree. Dotted properties walk into
// nested relation trees. gte and lte on the same path coalesce into a single
// inclusive range whatever their order; any other rule repeated on one path is
// OR-ed with what is already there.
func GetWhere(filters []FilterCriterion) (*Where, error) {
	where := NewWhere()
	var ranges []*rangeBounds
	rangeIndex := make(map[string]*rangeBounds)

	for _, f := range filters {
		node, field, err := walkPath(where, f.Property)
		if err != nil {
			return nil, err
		}

		if f.Rule == FilterRuleGte || f.Rule == FilterRuleLte {
			rb, ok := rangeIndex[f.Property]
			if !ok {
				rb = &rangeBounds{node: node, field: field}
				rangeIndex[f.Property] = rb
				ranges = append(ranges, rb)
			}
			v := f.Value
			if f.Rule == FilterRuleGte {
				rb.min = &v
			} else {
				rb.max = &v
			}
			continue
		}

		cond, err := compileRule(f)
		if err != nil {
			return nil, err
		}
		node.Add(field, cond)
	}

	for _, rb := range ranges {
		r := Range{}
		if rb.min != nil {
			r.Lower = &Bound{Value: *rb.min, Inclusive: true}
		}
		if rb.max != nil {
			r.Upper = &Bound{Value: *rb.max, Inclusive: true}
		}
		rb.node.Add(rb.field, r)
	}
	return where, nil
}

func walkPath(root *Where, property string) (*Where, string, error) {
	segments := strings.Split(property, PathSeparator)
	field := segments[len(segments)-1]
	if field == "" {
		return nil, "", fmt.Errorf("%w: invalid property path %q", ErrInvalidFilterFormat, property)
	}
	node := root
	for _, seg := range segments[:len(segments)-1] {
		if seg == "" {
			return nil, "", fmt.Errorf("%w: invalid property path %q", ErrInvalidFilterFormat, property)
		}
		node = node.Nested(seg)
	}
	return node, field, nil
}

func compileRule(f FilterCriterion) (Condition, error) {
	switch f.Rule {
	case FilterRuleEq:
		return Equals{Value: f.Value}, nil
	case FilterRuleNeq:
		return Not{Condition: Equals{Value: f.Value}}, nil
	case FilterRuleGt:
		return Range{Lower: &Bound{Value: f.Value}}, nil
	case FilterRuleLt:
		return Range{Upper: &Bound{Value: f.Value}}, nil
	case FilterRuleLike:
		if IsNumeric(f.Value) {
			return Equals{Value: f.Value}, nil
		}
		return Pattern{Value: f.Value, Mode: PatternContains}, nil
	case FilterRuleNotLike:
		if IsNumeric(f.Value) {
			return Not{Condition: Equals{Value: f.Value}}, nil
		}
		return Not{Condition: Pattern{Value: f.Value, Mode: PatternContains}}, nil
	case FilterRuleStartsWith:
		return Pattern{Value: f.Value, Mode: PatternPrefix}, nil
	case FilterRuleEndsWith:
		return Pattern{Value: f.Value, Mode: PatternSuffix}, nil
	case FilterRuleLikeUnaccented:
		return Pattern{Value: f.Value, Mode: PatternContains, Unaccented: true}, nil
	case FilterRuleIn, FilterRuleNotIn:
		values, err := parseSet(f.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: property %s: %v", ErrInvalidFilterFormat, f.Property, err)
		}
		if f.Rule == FilterRuleNotIn {
			return Not{Condition: SetMembership{Values: values}}, nil
		}
		return SetMembership{Values: values}, nil
	case FilterRuleIsNull:
		return IsNull{}, nil
	case FilterRuleIsNotNull:
		return Not{Condition: IsNull{}}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilterRule, f.Rule)
	}
}

// parseSet reads a JSON array literal written with single quotes. Literals that
// are already valid JSON are taken as they are, so values may hold apostrophes.
func parseSet(raw string) ([]any, error) {
	var values []any
	if err := json.Unmarshal([]byte(raw), &values); err == nil {
		return values, nil
	}
	if err := json.Unmarshal([]byte(strings.ReplaceAll(raw, "'", `"`)), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// IsNumeric reports whether a filter value reads as a number.
func IsNumeric(v string) bool {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return err == nil && !math.IsNaN(f)
}

// GetRelation expands include paths into a nested inclusion tree. Shared
// prefixes merge, so feeding the tree's own paths back in reproduces it.
func GetRelation(include IncludeSpec) RelationTree {
	tree := RelationTree{}
	for _, raw := range include {
		var path RelationPath
		for _, seg := range strings.Split(raw, PathSeparator) {
			if seg = strings.TrimSpace(seg); seg != "" {
				path = append(path, seg)
			}
		}
		if len(path) > 0 {
			tree.Add(path)
		}
	}
	return tree
}
