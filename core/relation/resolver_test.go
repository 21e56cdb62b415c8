package relation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/relation"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"github.com/kenny-nguyen-softdev/go-criteria/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	owned := func(name string, extra string) *schema.SchemaDefinition {
		return &schema.SchemaDefinition{
			Name: name,
			Fields: map[string]*schema.FieldDefinition{
				"id":              {Type: schema.FieldTypeString},
				extra:             {Type: schema.FieldTypeString},
				"ownerId":         {Type: schema.FieldTypeString},
				"ownerCollection": {Type: schema.FieldTypeString},
			},
		}
	}
	reg, err := schema.NewRegistry(schema.NewReferenceRegistry("attachments", "comments"),
		&schema.SchemaDefinition{
			Name: "products",
			Fields: map[string]*schema.FieldDefinition{
				"id":         {Type: schema.FieldTypeString},
				"name":       {Type: schema.FieldTypeString},
				"categoryId": {Type: schema.FieldTypeString},
			},
			Relations: map[string]*schema.RelationDefinition{
				"category": {Target: "categories"},
			},
		},
		&schema.SchemaDefinition{
			Name: "categories",
			Fields: map[string]*schema.FieldDefinition{
				"id":   {Type: schema.FieldTypeString},
				"name": {Type: schema.FieldTypeString},
			},
			Relations: map[string]*schema.RelationDefinition{
				"products": {Target: "products", Kind: schema.RelationHasMany, ForeignField: "categoryId"},
			},
		},
		&schema.SchemaDefinition{
			Name: "users",
			Fields: map[string]*schema.FieldDefinition{
				"id":   {Type: schema.FieldTypeString},
				"name": {Type: schema.FieldTypeString},
			},
		},
		owned("attachments", "url"),
		owned("comments", "body"),
	)
	require.NoError(t, err)
	return reg
}

func newFixture(t *testing.T, opts *relation.Options) (*relation.Resolver, *memstore.Store) {
	t.Helper()
	reg := newRegistry(t)
	s := memstore.New(reg, nil)
	s.Seed("categories",
		schema.Document{"id": "cat1", "name": "Tools"},
		schema.Document{"id": "cat2", "name": "Toys"},
	)
	s.Seed("products",
		schema.Document{"id": "p1", "name": "Hammer", "categoryId": "cat1"},
		schema.Document{"id": "p2", "name": "Saw", "categoryId": "cat1"},
		schema.Document{"id": "p3", "name": "Ball", "categoryId": "cat2"},
	)
	s.Seed("attachments",
		schema.Document{"id": "a1", "url": "a1.png", "ownerId": "p1", "ownerCollection": "products"},
		schema.Document{"id": "a2", "url": "a2.png", "ownerId": "p1", "ownerCollection": "products"},
		schema.Document{"id": "a3", "url": "a3.png", "ownerId": "p2", "ownerCollection": "products"},
		schema.Document{"id": "a4", "url": "a4.png", "ownerId": "p1", "ownerCollection": "users"},
	)
	s.Seed("comments",
		schema.Document{"id": "cm1", "body": "nice", "ownerId": "p1", "ownerCollection": "products"},
		schema.Document{"id": "cm2", "body": "blurry", "ownerId": "a1", "ownerCollection": "attachments"},
		schema.Document{"id": "cm3", "body": "tidy", "ownerId": "cat1", "ownerCollection": "categories"},
	)
	s.ResetQueries()
	return relation.New(s, reg, opts), s
}

func ids(rows []schema.Document) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID())
	}
	return out
}

func paths(raw ...string) []query.RelationPath {
	out := make([]query.RelationPath, 0, len(raw))
	for _, p := range raw {
		out = append(out, splitDots(p))
	}
	return out
}

func splitDots(p string) query.RelationPath {
	path, err := query.ParseRelationPath(p, 100)
	if err != nil {
		panic(err)
	}
	return path
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("reference children of the root", func(t *testing.T) {
		r, s := newFixture(t, nil)
		included, err := r.Resolve(ctx, "p1", "products", paths("attachments"))
		require.NoError(t, err)
		assert.Equal(t, []string{"a1", "a2"}, ids(included["attachments"]))
		assert.Equal(t, int64(2), s.Queries())
	})

	t.Run("nested reference hop", func(t *testing.T) {
		r, _ := newFixture(t, nil)
		included, err := r.Resolve(ctx, "p1", "products", paths("attachments.comments"))
		require.NoError(t, err)
		require.Len(t, included["attachments"], 2)
		a1, a2 := included["attachments"][0], included["attachments"][1]
		assert.Equal(t, []string{"cm2"}, ids(a1["comments"].([]schema.Document)))
		assert.Equal(t, []schema.Document{}, a2["comments"])
	})

	t.Run("reverse hop to the generic owner", func(t *testing.T) {
		r, _ := newFixture(t, nil)
		included, err := r.Resolve(ctx, "cm1", "comments", paths("products.category"))
		require.NoError(t, err)
		require.Equal(t, []string{"p1"}, ids(included["products"]))
		category, ok := included["products"][0]["category"].(schema.Document)
		require.True(t, ok)
		assert.Equal(t, "Tools", category["name"])
	})

	t.Run("declared relation continues from its target collection", func(t *testing.T) {
		r, _ := newFixture(t, nil)
		included, err := r.Resolve(ctx, "p1", "products", paths("category.products"))
		require.NoError(t, err)
		require.Equal(t, []string{"cat1"}, ids(included["category"]))
		assert.Equal(t, []string{"p1", "p2"}, ids(included["category"][0]["products"].([]schema.Document)))
	})

	t.Run("missing root resolves nothing", func(t *testing.T) {
		r, _ := newFixture(t, nil)
		included, err := r.Resolve(ctx, "nope", "products", paths("attachments", "ghosts"))
		require.NoError(t, err)
		assert.Empty(t, included)
	})

	t.Run("paths reaching nothing are dropped", func(t *testing.T) {
		r, _ := newFixture(t, nil)
		included, err := r.Resolve(ctx, "p3", "products", paths("attachments", "comments"))
		require.NoError(t, err)
		assert.Empty(t, included)
	})

	t.Run("no paths issue no queries", func(t *testing.T) {
		r, s := newFixture(t, nil)
		included, err := r.Resolve(ctx, "p1", "products", nil)
		require.NoError(t, err)
		assert.Empty(t, included)
		assert.Zero(t, s.Queries())
	})

	t.Run("partial failure still succeeds", func(t *testing.T) {
		r, _ := newFixture(t, nil)
		included, err := r.Resolve(ctx, "p1", "products", paths("ghosts", "attachments", "phantoms"))
		require.NoError(t, err)
		assert.Len(t, included, 1)
		assert.Equal(t, []string{"a1", "a2"}, ids(included["attachments"]))
	})

	t.Run("every path failing fails the call", func(t *testing.T) {
		r, _ := newFixture(t, nil)
		_, err := r.Resolve(ctx, "p1", "products", paths("ghosts", "phantoms", "category.nope"))
		require.Error(t, err)
		assert.ErrorIs(t, err, relation.ErrAllRelationLookupsFailed)
		assert.ErrorIs(t, err, schema.ErrUnknownCollection)
		assert.ErrorIs(t, err, schema.ErrUnknownRelation)

		var all *relation.AllLookupsFailedError
		require.True(t, errors.As(err, &all))
		require.Len(t, all.Failures, 3)
		assert.Equal(t, "ghosts", all.Failures[0].Path)
		assert.Equal(t, "phantoms", all.Failures[1].Path)
		assert.Equal(t, "category.nope", all.Failures[2].Path)
		assert.Contains(t, err.Error(), "all relation lookups failed")
	})

	t.Run("path depth is bounded", func(t *testing.T) {
		r, _ := newFixture(t, &relation.Options{MaxDepth: 2})
		_, err := r.Resolve(ctx, "p1", "products", paths("attachments.comments.products"))
		assert.ErrorIs(t, err, query.ErrPathTooDeep)
	})

	t.Run("a repeated first hop keeps the last path", func(t *testing.T) {
		r, _ := newFixture(t, nil)
		included, err := r.Resolve(ctx, "p1", "products", paths("attachments", "attachments.comments"))
		require.NoError(t, err)
		require.Len(t, included["attachments"], 2)
		assert.Contains(t, included["attachments"][0], "comments")
	})
}

func TestResolveNested(t *testing.T) {
	ctx := context.Background()
	r, _ := newFixture(t, nil)

	product := schema.Document{"id": "p1", "categoryId": "cat1"}
	require.NoError(t, r.ResolveNested(ctx, product, "products", splitDots("category.products")))
	category := product["category"].(schema.Document)
	assert.Equal(t, "Tools", category["name"])
	assert.Equal(t, []string{"p1", "p2"}, ids(category["products"].([]schema.Document)))

	require.NoError(t, r.ResolveNested(ctx, product, "products", splitDots("comments")))
	assert.Equal(t, []string{"cm1"}, ids(product["comments"].([]schema.Document)))

	err := r.ResolveNested(ctx, product, "products", splitDots("owner"))
	assert.ErrorIs(t, err, schema.ErrUnknownRelation)

	err = r.ResolveNested(ctx, product, "products", nil)
	assert.ErrorIs(t, err, query.ErrInvalidIncludeFormat)
}

func TestResolveMany(t *testing.T) {
	ctx := context.Background()

	t.Run("one query for a hop across fifty parents", func(t *testing.T) {
		reg := newRegistry(t)
		s := memstore.New(reg, nil)
		parents := make([]schema.Document, 0, 50)
		for i := range 50 {
			id := fmt.Sprintf("p%02d", i)
			parents = append(parents, schema.Document{"id": id})
			s.Seed("attachments",
				schema.Document{"id": id + "-a", "ownerId": id, "ownerCollection": "products"},
				schema.Document{"id": id + "-b", "ownerId": id, "ownerCollection": "products"},
				schema.Document{"id": id + "-x", "ownerId": id, "ownerCollection": "users"},
			)
		}
		r := relation.New(s, reg, nil)

		out, err := r.ResolveMany(ctx, parents, "products", paths("attachments"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), s.Queries())
		require.Len(t, out, 50)
		for _, p := range out {
			children, ok := p["attachments"].([]schema.Document)
			require.True(t, ok, p.ID())
			require.Len(t, children, 2)
			for _, c := range children {
				assert.Equal(t, p.ID(), c["ownerId"])
				assert.Equal(t, "products", c["ownerCollection"])
			}
		}
	})

	t.Run("nested hops are batched per level", func(t *testing.T) {
		r, s := newFixture(t, nil)
		parents := []schema.Document{{"id": "p1"}, {"id": "p2"}, {"id": "p3"}}
		_, err := r.ResolveMany(ctx, parents, "products", paths("attachments.comments"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), s.Queries())

		p1 := parents[0]["attachments"].([]schema.Document)
		assert.Equal(t, []string{"a1", "a2"}, ids(p1))
		assert.Equal(t, []string{"cm2"}, ids(p1[0]["comments"].([]schema.Document)))
		assert.Equal(t, []string{"a3"}, ids(parents[1]["attachments"].([]schema.Document)))
		assert.Equal(t, []schema.Document{}, parents[2]["attachments"])
	})

	t.Run("reverse hop groups by the referencing row", func(t *testing.T) {
		r, s := newFixture(t, nil)
		parents := []schema.Document{
			{"id": "cm1", "ownerId": "p1", "ownerCollection": "products"},
			{"id": "cm2", "ownerId": "a1", "ownerCollection": "attachments"},
		}
		_, err := r.ResolveMany(ctx, parents, "comments", paths("products"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), s.Queries())
		assert.Equal(t, []string{"p1"}, ids(parents[0]["products"].([]schema.Document)))
		assert.Equal(t, []schema.Document{}, parents[1]["products"])
	})

	t.Run("declared relation", func(t *testing.T) {
		r, s := newFixture(t, nil)
		parents := []schema.Document{
			{"id": "p1", "categoryId": "cat1"},
			{"id": "p3", "categoryId": "cat2"},
		}
		_, err := r.ResolveMany(ctx, parents, "products", paths("category"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), s.Queries())
		assert.Equal(t, "Tools", parents[0]["category"].(schema.Document)["name"])
		assert.Equal(t, "Toys", parents[1]["category"].(schema.Document)["name"])
	})

	t.Run("partial and total failure", func(t *testing.T) {
		r, _ := newFixture(t, nil)
		parents := []schema.Document{{"id": "p1", "categoryId": "cat1"}}
		out, err := r.ResolveMany(ctx, parents, "products", paths("ghosts", "category"))
		require.NoError(t, err)
		assert.Contains(t, out[0], "category")

		out, err = r.ResolveMany(ctx, parents, "products", paths("ghosts"))
		assert.ErrorIs(t, err, relation.ErrAllRelationLookupsFailed)
		assert.Nil(t, out)
	})

	t.Run("nothing to resolve", func(t *testing.T) {
		r, s := newFixture(t, nil)
		out, err := r.ResolveMany(ctx, nil, "products", paths("attachments"))
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.Zero(t, s.Queries())
	})
}

func TestResolveOverRouter(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	primary := memstore.New(reg, nil)
	primary.Seed("products", schema.Document{"id": "p1", "name": "Hammer"})
	files := memstore.New(reg, nil)
	files.Seed("attachments", schema.Document{"id": "a1", "ownerId": "p1", "ownerCollection": "products"})

	router := persistence.NewRouter(primary).Route("attachments", files)
	r := relation.New(router, reg, nil)

	included, err := r.Resolve(ctx, "p1", "products", paths("attachments"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids(included["attachments"]))
	assert.Equal(t, int64(1), files.Queries())
	assert.Equal(t, int64(1), primary.Queries())
}
