package memstore

import (
	"context"
	"testing"

	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	reg, err := schema.NewRegistry(nil,
		&schema.SchemaDefinition{
			Name: "products",
			Fields: map[string]*schema.FieldDefinition{
				"id":         {Type: schema.FieldTypeString},
				"name":       {Type: schema.FieldTypeString},
				"price":      {Type: schema.FieldTypeNumber},
				"categoryId": {Type: schema.FieldTypeString},
			},
			Relations: map[string]*schema.RelationDefinition{
				"category": {Target: "categories"},
				"variants": {Target: "variants", Kind: schema.RelationHasMany, ForeignField: "productId"},
			},
		},
		&schema.SchemaDefinition{
			Name: "categories",
			Fields: map[string]*schema.FieldDefinition{
				"id":   {Type: schema.FieldTypeString},
				"name": {Type: schema.FieldTypeString},
			},
		},
		&schema.SchemaDefinition{
			Name: "variants",
			Fields: map[string]*schema.FieldDefinition{
				"id":        {Type: schema.FieldTypeString},
				"sku":       {Type: schema.FieldTypeString},
				"productId": {Type: schema.FieldTypeString},
			},
		},
	)
	require.NoError(t, err)

	s := New(reg, nil)
	s.Seed("categories",
		schema.Document{"id": "c1", "name": "Kitchen"},
		schema.Document{"id": "c2", "name": "Garden"},
	)
	s.Seed("products",
		schema.Document{"id": "p1", "name": "Mug", "price": 8.0, "categoryId": "c1"},
		schema.Document{"id": "p2", "name": "Bowl", "price": 12.0, "categoryId": "c1"},
		schema.Document{"id": "p3", "name": "Rake", "price": 25.0, "categoryId": "c2"},
	)
	s.Seed("variants",
		schema.Document{"id": "v1", "sku": "MUG-RED", "productId": "p1"},
		schema.Document{"id": "v2", "sku": "MUG-BLUE", "productId": "p1"},
	)
	return s
}

func TestStore_FindAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	where := query.NewWhere().Set("price", query.Range{Lower: &query.Bound{Value: "10", Inclusive: true}})
	rows, total, err := s.FindAndCount(ctx, "products", persistence.FindOptions{
		Where: where,
		Order: query.Order{{Property: "price", Direction: query.OrderDesc}},
		Limit: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "p3", rows[0].ID())
}

func TestStore_FindWithRelationCondition(t *testing.T) {
	s := newTestStore(t)
	where := query.NewWhere()
	where.Nested("category").Set("name", query.Pattern{Value: "kitch"})

	rows, err := s.Find(context.Background(), "products", persistence.FindOptions{Where: where})
	require.NoError(t, err)
	var ids []string
	for _, r := range rows {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"p1", "p2"}, ids)
}

func TestStore_FindLoadsRelations(t *testing.T) {
	s := newTestStore(t)
	tree := query.RelationTree{}
	tree.Add(query.RelationPath{"category"})
	tree.Add(query.RelationPath{"variants"})

	rows, err := s.Find(context.Background(), "products", persistence.FindOptions{
		Where:     query.WhereIn("id", []string{"p1", "p3"}),
		Order:     query.Order{{Property: "id", Direction: query.OrderAsc}},
		Relations: tree,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "Kitchen", rows[0]["category"].(schema.Document)["name"])
	assert.Len(t, rows[0]["variants"], 2)
	assert.Equal(t, "Garden", rows[1]["category"].(schema.Document)["name"])
	assert.Equal(t, []schema.Document{}, rows[1]["variants"])
}

func TestStore_ReadsAreCopies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, err := s.FindOne(ctx, "products", persistence.FindOptions{Where: query.WhereEquals("id", "p1")})
	require.NoError(t, err)
	doc["name"] = "changed"

	again, err := s.FindOne(ctx, "products", persistence.FindOptions{Where: query.WhereEquals("id", "p1")})
	require.NoError(t, err)
	assert.Equal(t, "Mug", again["name"])

	none, err := s.FindOne(ctx, "products", persistence.FindOptions{Where: query.WhereEquals("id", "nope")})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_SaveUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, "products", []schema.Document{
		{"id": "p1", "price": 9.5},
		{"name": "Spoon", "price": 2.0},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, "Mug", saved[0]["name"])
	assert.Equal(t, 9.5, saved[0]["price"])
	assert.NotEmpty(t, saved[1].ID())

	n, err := s.Count(ctx, "products", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestStore_Aggregate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		fn       persistence.AggregateFunc
		expected float64
	}{
		{persistence.AggregateMax, 25},
		{persistence.AggregateMin, 8},
		{persistence.AggregateSum, 45},
	}
	for _, tt := range tests {
		t.Run(string(tt.fn), func(t *testing.T) {
			v, err := s.Aggregate(ctx, "products", tt.fn, "price", nil)
			require.NoError(t, err)
			require.NotNil(t, v)
			assert.Equal(t, tt.expected, *v)
		})
	}

	v, err := s.Aggregate(ctx, "products", persistence.AggregateMax, "price", query.WhereEquals("id", "nope"))
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = s.Aggregate(ctx, "products", "AVG", "price", nil)
	assert.ErrorIs(t, err, persistence.ErrUnsupportedAggregate)
}

func TestStore_UnknownCollection(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Find(context.Background(), "ghosts", persistence.FindOptions{})
	assert.ErrorIs(t, err, schema.ErrUnknownCollection)
}

func TestStore_SearchQuery(t *testing.T) {
	s := newTestStore(t)
	q, err := s.NewSearchQuery("products")
	require.NoError(t, err)
	assert.Equal(t, "products", q.RootAlias())
	assert.False(t, q.IsJoined("category"))
	require.NoError(t, q.LeftJoin("category", "category"))
	assert.True(t, q.IsJoined("category"))
	assert.ErrorIs(t, q.LeftJoin("owner", "owner"), schema.ErrUnknownRelation)

	q.AndWhereAnyLike([]persistence.ColumnRef{
		{Alias: "products", Column: "name"},
		{Alias: "category", Column: "name"},
	}, "%GARD%")
	ids, err := q.SelectIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"p3"}, ids)
}

func TestStore_CountsQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Find(ctx, "products", persistence.FindOptions{})
	require.NoError(t, err)
	_, err = s.Count(ctx, "products", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Queries())
	s.ResetQueries()
	assert.Zero(t, s.Queries())
}
