// Package mongodb renders condition trees as BSON filters and serves
// collections of a MongoDB database through persistence.Finder, so a document
// store can hold reference collections next to a relational one.
package mongodb

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrRelationCondition is returned for conditions placed on a relation; the
// document store does not join collections.
var ErrRelationCondition = errors.New("relation conditions are not supported by the document store")

// IDField is the key MongoDB stores document identity under.
const IDField = "_id"

// foldClasses maps a base letter to the accented Latin-1 and Latin
// Extended-A letters that reduce to it.
var foldClasses = buildFoldClasses()

func buildFoldClasses() map[rune][]rune {
	out := make(map[rune][]rune)
	for r := rune(0x00C0); r <= 0x017F; r++ {
		base := []rune(strings.ToLower(query.Unaccent(string(r))))
		if len(base) != 1 || base[0] == unicode.ToLower(r) {
			continue
		}
		out[base[0]] = append(out[base[0]], r)
	}
	return out
}

// AccentInsensitive returns a regular expression matching s literally with
// every letter also matching its accented forms. Combine it with the "i"
// option for case-insensitivity.
func AccentInsensitive(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(query.Unaccent(s)) {
		if variants, ok := foldClasses[r]; ok {
			sb.WriteString("[" + string(r) + string(variants) + "]")
			continue
		}
		sb.WriteString(regexp.QuoteMeta(string(r)))
	}
	return sb.String()
}

// storedName maps an engine field name to the stored key.
func storedName(field string) string {
	if field == schema.IDField {
		return IDField
	}
	return field
}

// CompileWhere renders where as a filter document. sc supplies field types so
// textual filter values compare against typed stored values; it may be nil.
func CompileWhere(sc *schema.SchemaDefinition, where *query.Where) (bson.D, error) {
	filter := bson.D{}
	if where.IsEmpty() {
		return filter, nil
	}
	for _, name := range where.RelationNames() {
		if !where.Relations[name].IsEmpty() {
			return nil, fmt.Errorf("%w: '%s'", ErrRelationCondition, name)
		}
	}

	var logical bson.A
	for _, field := range where.Fields() {
		if err := schema.ValidateIdentifier(field); err != nil {
			return nil, err
		}
		expr, err := compileCondition(field, sc.FindField(field), where.Conditions[field])
		if err != nil {
			return nil, fmt.Errorf("condition on '%s': %w", field, err)
		}
		if strings.HasPrefix(expr.Key, "$") {
			logical = append(logical, bson.D{expr})
			continue
		}
		filter = append(filter, expr)
	}
	switch len(logical) {
	case 0:
	case 1:
		filter = append(filter, logical[0].(bson.D)...)
	default:
		filter = append(filter, bson.E{Key: "$and", Value: logical})
	}
	return filter, nil
}

func compileCondition(field string, def *schema.FieldDefinition, cond query.Condition) (bson.E, error) {
	key := storedName(field)
	op := func(operator string, v any) bson.E {
		return bson.E{Key: key, Value: bson.D{{Key: operator, Value: v}}}
	}

	switch c := cond.(type) {
	case query.Equals:
		v, err := convert(field, def, c.Value)
		if err != nil {
			return bson.E{}, err
		}
		return op("$eq", v), nil
	case query.IsNull:
		return op("$eq", nil), nil
	case query.Pattern:
		return bson.E{Key: key, Value: patternRegex(c)}, nil
	case query.Range:
		bounds := bson.D{}
		for _, b := range []struct {
			bound     *query.Bound
			inclusive string
			exclusive string
		}{{c.Lower, "$gte", "$gt"}, {c.Upper, "$lte", "$lt"}} {
			if b.bound == nil {
				continue
			}
			v, err := convert(field, def, b.bound.Value)
			if err != nil {
				return bson.E{}, err
			}
			operator := b.exclusive
			if b.bound.Inclusive {
				operator = b.inclusive
			}
			bounds = append(bounds, bson.E{Key: operator, Value: v})
		}
		if len(bounds) == 0 {
			return op("$ne", nil), nil
		}
		return bson.E{Key: key, Value: bounds}, nil
	case query.SetMembership:
		values, err := convertAll(field, def, c.Values)
		if err != nil {
			return bson.E{}, err
		}
		return op("$in", values), nil
	case query.Not:
		switch inner := c.Condition.(type) {
		case query.Equals:
			v, err := convert(field, def, inner.Value)
			if err != nil {
				return bson.E{}, err
			}
			return op("$ne", v), nil
		case query.IsNull:
			return op("$ne", nil), nil
		case query.SetMembership:
			values, err := convertAll(field, def, inner.Values)
			if err != nil {
				return bson.E{}, err
			}
			return op("$nin", values), nil
		case query.Pattern:
			return op("$not", patternRegex(inner)), nil
		}
		expr, err := compileCondition(field, def, c.Condition)
		if err != nil {
			return bson.E{}, err
		}
		return bson.E{Key: "$nor", Value: bson.A{bson.D{expr}}}, nil
	case query.Or:
		members := bson.A{}
		for _, m := range c.Conditions {
			expr, err := compileCondition(field, def, m)
			if err != nil {
				return bson.E{}, err
			}
			members = append(members, bson.D{expr})
		}
		return bson.E{Key: "$or", Value: members}, nil
	default:
		return bson.E{}, fmt.Errorf("unsupported condition node %T", cond)
	}
}

func patternRegex(p query.Pattern) primitive.Regex {
	expr := regexp.QuoteMeta(p.Value)
	if p.Unaccented {
		expr = AccentInsensitive(p.Value)
	}
	switch p.Mode {
	case query.PatternPrefix:
		expr = "^" + expr
	case query.PatternSuffix:
		expr += "$"
	}
	return primitive.Regex{Pattern: expr, Options: "i"}
}

func convertAll(field string, def *schema.FieldDefinition, values []any) (bson.A, error) {
	out := make(bson.A, 0, len(values))
	for _, v := range values {
		c, err := convert(field, def, v)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// convert turns a filter value into what the store holds for field. Ids that
// read as ObjectIDs become ObjectIDs; other values follow the declared type.
func convert(field string, def *schema.FieldDefinition, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if field == schema.IDField {
		if s, ok := v.(string); ok {
			if oid, err := primitive.ObjectIDFromHex(s); err == nil {
				return oid, nil
			}
		}
		return v, nil
	}
	if def == nil {
		return v, nil
	}
	switch def.Type {
	case schema.FieldTypeInteger:
		if f, ok := query.ToFloat64(v); ok && f == float64(int64(f)) {
			return int64(f), nil
		}
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		if f, ok := query.ToFloat64(v); ok {
			return f, nil
		}
	case schema.FieldTypeBoolean:
		if s, ok := v.(string); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("expected boolean for field '%s', got %q", field, s)
			}
			return b, nil
		}
	case schema.FieldTypeDateTime:
		if t, ok := query.ToTime(v); ok {
			return t, nil
		}
	}
	return v, nil
}

// CompileSort renders an order as a sort document.
func CompileSort(order query.Order) (bson.D, error) {
	sort := bson.D{}
	for _, o := range order {
		if err := schema.ValidateIdentifier(o.Property); err != nil {
			return nil, fmt.Errorf("sort error: %w", err)
		}
		dir := 1
		if strings.EqualFold(o.Direction, query.OrderDesc) {
			dir = -1
		}
		sort = append(sort, bson.E{Key: storedName(o.Property), Value: dir})
	}
	return sort, nil
}
