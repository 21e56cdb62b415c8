package query

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewDataProcessor(t *testing.T) {
	p := NewDataProcessor(nil)
	assert.NotNil(t, p)
	assert.NotNil(t, p.logger)
	assert.NotNil(t, p.patterns)

	p = NewDataProcessor(zap.NewNop())
	assert.NotNil(t, p)
}

func TestDataProcessor_PatternCacheIsBounded(t *testing.T) {
	p := NewDataProcessor(nil)
	for i := 0; i < PatternCacheSize*3; i++ {
		pattern := fmt.Sprintf("%%item-%d%%", i)
		assert.True(t, p.MatchLike(fmt.Sprintf("Item-%d", i), pattern, false))
	}
	assert.Equal(t, PatternCacheSize, p.patterns.Len())

	// Evicted patterns are compiled again on demand.
	assert.True(t, p.MatchLike("ITEM-0", "%item-0%", false))
	assert.False(t, p.MatchLike("ITEM-1", "%item-0%", false))
}

func TestDataProcessor_MatchCondition(t *testing.T) {
	p := NewDataProcessor(nil)
	between := Range{Lower: &Bound{Value: "10", Inclusive: true}, Upper: &Bound{Value: "20", Inclusive: true}}

	tests := []struct {
		name     string
		cond     Condition
		value    any
		expected bool
	}{
		{"equals string", Equals{Value: "john"}, "john", true},
		{"equals number from text", Equals{Value: "10"}, int64(10), true},
		{"equals bool from text", Equals{Value: "true"}, true, true},
		{"equals nil", Equals{Value: "x"}, nil, false},
		{"not equals", Not{Condition: Equals{Value: "john"}}, "jane", true},
		{"not equals on nil is unknown", Not{Condition: Equals{Value: "john"}}, nil, false},
		{"between lower edge", between, 10, true},
		{"between upper edge", between, 20.0, true},
		{"between below", between, 9, false},
		{"between above", between, 21, false},
		{"strict lower bound", Range{Lower: &Bound{Value: "10"}}, 10, false},
		{"strict upper bound", Range{Upper: &Bound{Value: "10"}}, 9.5, true},
		{"range on timestamps", Range{Lower: &Bound{Value: "2024-01-01T00:00:00Z", Inclusive: true}}, "2024-06-01T00:00:00Z", true},
		{"pattern contains ignores case", Pattern{Value: "OHN"}, "John Doe", true},
		{"pattern contains miss", Pattern{Value: "xyz"}, "John Doe", false},
		{"pattern prefix", Pattern{Value: "jo", Mode: PatternPrefix}, "John", true},
		{"pattern prefix miss", Pattern{Value: "hn", Mode: PatternPrefix}, "John", false},
		{"pattern suffix", Pattern{Value: "HN", Mode: PatternSuffix}, "John", true},
		{"pattern keeps regexp metacharacters literal", Pattern{Value: "a.c"}, "abc", false},
		{"pattern accented without folding", Pattern{Value: "jose"}, "José", false},
		{"pattern unaccented", Pattern{Value: "jose", Unaccented: true}, "José Martí", true},
		{"pattern unaccented both sides", Pattern{Value: "crème", Unaccented: true}, "CREME brulee", true},
		{"set membership", SetMembership{Values: []any{"a", float64(2)}}, int64(2), true},
		{"set membership miss", SetMembership{Values: []any{"a"}}, "b", false},
		{"not in set", Not{Condition: SetMembership{Values: []any{"a"}}}, "b", true},
		{"is null", IsNull{}, nil, true},
		{"is null on value", IsNull{}, "x", false},
		{"is not null", Not{Condition: IsNull{}}, "x", true},
		{"is not null on nil", Not{Condition: IsNull{}}, nil, false},
		{"or any member", Or{Conditions: []Condition{Equals{Value: "a"}, Equals{Value: "b"}}}, "b", true},
		{"or no member", Or{Conditions: []Condition{Equals{Value: "a"}, IsNull{}}}, "c", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, p.MatchCondition(tt.cond, tt.value))
		})
	}
}

func TestDataProcessor_FilterWithRelations(t *testing.T) {
	p := NewDataProcessor(nil)
	owners := map[string][]schema.Document{
		"1": {{"name": "Ann"}},
		"2": {{"name": "Bob"}},
	}
	var load RelationLoader
	load = func(doc schema.Document, relation string) ([]schema.Document, RelationLoader, error) {
		assert.Equal(t, "owner", relation)
		return owners[doc.ID()], load, nil
	}
	rows := []schema.Document{{"id": "1"}, {"id": "2"}, {"id": "3"}}

	where := NewWhere()
	where.Nested("owner").Set("name", Pattern{Value: "an"})
	out, err := p.Filter(rows, where, load)
	require.NoError(t, err)
	assert.Equal(t, []schema.Document{{"id": "1"}}, out)

	where = NewWhere()
	where.Nested("owner").Set("name", IsNull{})
	out, err = p.Filter(rows, where, load)
	require.NoError(t, err)
	assert.Equal(t, []schema.Document{{"id": "3"}}, out)

	_, err = p.Filter(rows, where, nil)
	assert.Error(t, err)

	boom := errors.New("boom")
	_, err = p.Filter(rows, where, func(schema.Document, string) ([]schema.Document, RelationLoader, error) { return nil, nil, boom })
	assert.ErrorIs(t, err, boom)

	out, err = p.Filter(rows, NewWhere(), nil)
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestDataProcessor_SortAndWindow(t *testing.T) {
	p := NewDataProcessor(nil)
	rows := []schema.Document{
		{"id": "a", "price": 3.0, "name": "mug"},
		{"id": "b", "price": 1.0, "name": "cup"},
		{"id": "c", "price": 3.0, "name": "bowl"},
		{"id": "d", "price": nil, "name": "jar"},
	}

	p.Sort(rows, Order{{Property: "price", Direction: OrderDesc}, {Property: "name", Direction: OrderAsc}})
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID()
	}
	assert.Equal(t, []string{"c", "a", "b", "d"}, ids)

	assert.Len(t, p.Window(rows, 2, 0), 2)
	assert.Equal(t, "b", p.Window(rows, 2, 2)[0].ID())
	assert.Len(t, p.Window(rows, 0, 1), 3)
	assert.Empty(t, p.Window(rows, 10, 4))
}

func TestLookupDottedField(t *testing.T) {
	doc := schema.Document{"meta": map[string]any{"size": "L"}, "a.b": 1}
	assert.Equal(t, "L", lookup(doc, "meta.size"))
	assert.Equal(t, 1, lookup(doc, "a.b"))
	assert.Nil(t, lookup(doc, "meta.colour"))
	assert.Nil(t, lookup(doc, "missing.x"))
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, 0, CompareValues(nil, nil))
	assert.Equal(t, -1, CompareValues(nil, 1))
	assert.Equal(t, 1, CompareValues(2, nil))
	assert.Equal(t, -1, CompareValues("9", "10"))
	assert.Equal(t, -1, CompareValues("apple", "banana"))
	assert.Equal(t, 1, CompareValues("2024-02-01T00:00:00Z", "2024-01-31T23:59:59Z"))
}
