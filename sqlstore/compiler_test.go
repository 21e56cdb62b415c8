package sqlstore_test

import (
	"testing"

	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"github.com/kenny-nguyen-softdev/go-criteria/postgres"
	"github.com/kenny-nguyen-softdev/go-criteria/sqlite"
	"github.com/kenny-nguyen-softdev/go-criteria/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(nil,
		&schema.SchemaDefinition{
			Name: "users",
			Fields: map[string]*schema.FieldDefinition{
				"id":        {Type: schema.FieldTypeString},
				"name":      {Type: schema.FieldTypeString, Required: boolPtr(true)},
				"age":       {Type: schema.FieldTypeInteger},
				"active":    {Type: schema.FieldTypeBoolean},
				"companyId": {Type: schema.FieldTypeString},
				"profile":   {Type: schema.FieldTypeObject},
				"createdAt": {Type: schema.FieldTypeDateTime},
			},
			Relations: map[string]*schema.RelationDefinition{
				"company": {Target: "companies"},
				"posts":   {Target: "posts", Kind: schema.RelationHasMany, ForeignField: "authorId"},
			},
		},
		&schema.SchemaDefinition{
			Name: "companies",
			Fields: map[string]*schema.FieldDefinition{
				"id":   {Type: schema.FieldTypeString},
				"name": {Type: schema.FieldTypeString},
			},
		},
		&schema.SchemaDefinition{
			Name: "posts",
			Fields: map[string]*schema.FieldDefinition{
				"id":       {Type: schema.FieldTypeString},
				"title":    {Type: schema.FieldTypeString},
				"authorId": {Type: schema.FieldTypeString},
			},
			Relations: map[string]*schema.RelationDefinition{
				"author": {Target: "users", LocalField: "authorId"},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func TestSelect(t *testing.T) {
	reg := newRegistry(t)

	t.Run("postgres numbers placeholders in order", func(t *testing.T) {
		c := sqlstore.NewCompiler(postgres.Dialect{}, reg)
		where, err := query.GetWhere([]query.FilterCriterion{
			{Property: "age", Rule: query.FilterRuleGte, Value: "18"},
			{Property: "name", Rule: query.FilterRuleLike, Value: "jo"},
			{Property: "age", Rule: query.FilterRuleLte, Value: "65"},
		})
		require.NoError(t, err)

		sql, args, err := c.Select("users", persistence.FindOptions{
			Where:  where,
			Order:  query.Order{{Property: "createdAt", Direction: query.OrderDesc}},
			Limit:  10,
			Offset: 20,
		})
		require.NoError(t, err)
		assert.Equal(t, `SELECT "users".* FROM "users" WHERE ("users"."age" >= $1 AND "users"."age" <= $2) AND CAST("users"."name" AS TEXT) ILIKE $3 ORDER BY "users"."createdAt" DESC LIMIT 10 OFFSET 20`, sql)
		assert.Equal(t, []any{int64(18), int64(65), "%jo%"}, args)
	})

	t.Run("sqlite offset without limit", func(t *testing.T) {
		c := sqlstore.NewCompiler(sqlite.Dialect{}, reg)
		sql, args, err := c.Select("users", persistence.FindOptions{Offset: 20})
		require.NoError(t, err)
		assert.Equal(t, `SELECT "users".* FROM "users" LIMIT -1 OFFSET 20`, sql)
		assert.Empty(t, args)
	})

	t.Run("rejects unsafe identifiers", func(t *testing.T) {
		c := sqlstore.NewCompiler(sqlite.Dialect{}, reg)
		_, _, err := c.Select("users", persistence.FindOptions{
			Order: query.Order{{Property: "name; DROP TABLE users", Direction: query.OrderAsc}},
		})
		assert.ErrorIs(t, err, schema.ErrInvalidIdentifier)

		_, _, err = c.Select("users", persistence.FindOptions{
			Where: query.WhereEquals(`name"`, "x"),
		})
		assert.ErrorIs(t, err, schema.ErrInvalidIdentifier)

		_, _, err = c.Select(`users"`, persistence.FindOptions{})
		assert.ErrorIs(t, err, schema.ErrInvalidIdentifier)
	})
}

func TestCompileWhereConditions(t *testing.T) {
	c := sqlstore.NewCompiler(sqlite.Dialect{}, newRegistry(t))

	tests := []struct {
		name     string
		field    string
		cond     query.Condition
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "boolean text",
			field:    "active",
			cond:     query.Equals{Value: "true"},
			wantSQL:  `"users"."active" = ?`,
			wantArgs: []any{1},
		},
		{
			name:     "not equals",
			field:    "name",
			cond:     query.Not{Condition: query.Equals{Value: "x"}},
			wantSQL:  `NOT ("users"."name" = ?)`,
			wantArgs: []any{"x"},
		},
		{
			name:    "is not null",
			field:   "name",
			cond:    query.Not{Condition: query.IsNull{}},
			wantSQL: `"users"."name" IS NOT NULL`,
		},
		{
			name:    "is null",
			field:   "companyId",
			cond:    query.IsNull{},
			wantSQL: `"users"."companyId" IS NULL`,
		},
		{
			name:    "empty set matches nothing",
			field:   "id",
			cond:    query.SetMembership{},
			wantSQL: `1 = 0`,
		},
		{
			name:     "set",
			field:    "id",
			cond:     query.SetMembership{Values: []any{"a", "b"}},
			wantSQL:  `"users"."id" IN (?, ?)`,
			wantArgs: []any{"a", "b"},
		},
		{
			name:     "negated set",
			field:    "age",
			cond:     query.Not{Condition: query.SetMembership{Values: []any{"1", "2"}}},
			wantSQL:  `NOT ("users"."age" IN (?, ?))`,
			wantArgs: []any{int64(1), int64(2)},
		},
		{
			name:     "prefix",
			field:    "name",
			cond:     query.Pattern{Value: "jo", Mode: query.PatternPrefix},
			wantSQL:  `casefold("users"."name") LIKE casefold(?)`,
			wantArgs: []any{"jo%"},
		},
		{
			name:     "suffix negated",
			field:    "name",
			cond:     query.Not{Condition: query.Pattern{Value: "son", Mode: query.PatternSuffix}},
			wantSQL:  `casefold("users"."name") NOT LIKE casefold(?)`,
			wantArgs: []any{"%son"},
		},
		{
			name:     "unaccented",
			field:    "name",
			cond:     query.Pattern{Value: "creme", Unaccented: true},
			wantSQL:  `casefold(unaccent("users"."name")) LIKE casefold(unaccent(?))`,
			wantArgs: []any{"%creme%"},
		},
		{
			name:     "exclusive lower bound",
			field:    "age",
			cond:     query.Range{Lower: &query.Bound{Value: "30"}},
			wantSQL:  `("users"."age" > ?)`,
			wantArgs: []any{int64(30)},
		},
		{
			name:     "or",
			field:    "name",
			cond:     query.Or{Conditions: []query.Condition{query.Equals{Value: "a"}, query.IsNull{}}},
			wantSQL:  `("users"."name" = ? OR "users"."name" IS NULL)`,
			wantArgs: []any{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := c.CompileWhere("users", "users", query.NewWhere().Set(tt.field, tt.cond))
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}

	t.Run("bad boolean", func(t *testing.T) {
		_, _, err := c.CompileWhere("users", "users", query.WhereEquals("active", "maybe"))
		assert.Error(t, err)
	})
}

func TestCompileWhereRelations(t *testing.T) {
	c := sqlstore.NewCompiler(sqlite.Dialect{}, newRegistry(t))

	t.Run("exists over the related collection", func(t *testing.T) {
		where := query.NewWhere()
		where.Nested("company").Set("name", query.Equals{Value: "Acme"})

		sql, args, err := c.CompileWhere("users", "users", where)
		require.NoError(t, err)
		assert.Equal(t, `EXISTS (SELECT 1 FROM "companies" AS "r1" WHERE "r1"."id" = "users"."companyId" AND "r1"."name" = ?)`, sql)
		assert.Equal(t, []any{"Acme"}, args)
	})

	t.Run("null checks also match rows without related rows", func(t *testing.T) {
		where := query.NewWhere()
		where.Nested("company").Set("name", query.IsNull{})

		sql, _, err := c.CompileWhere("users", "users", where)
		require.NoError(t, err)
		assert.Equal(t, `(EXISTS (SELECT 1 FROM "companies" AS "r1" WHERE "r1"."id" = "users"."companyId" AND "r1"."name" IS NULL) OR NOT EXISTS (SELECT 1 FROM "companies" AS "r1" WHERE "r1"."id" = "users"."companyId"))`, sql)
	})

	t.Run("nested relations get their own alias", func(t *testing.T) {
		where := query.NewWhere().Set("age", query.Equals{Value: "30"})
		where.Nested("posts").Nested("author").Set("name", query.Equals{Value: "Ann"})

		sql, args, err := c.CompileWhere("users", "users", where)
		require.NoError(t, err)
		assert.Equal(t, `"users"."age" = ? AND EXISTS (SELECT 1 FROM "posts" AS "r1" WHERE "r1"."authorId" = "users"."id" AND EXISTS (SELECT 1 FROM "users" AS "r2" WHERE "r2"."id" = "r1"."authorId" AND "r2"."name" = ?))`, sql)
		assert.Equal(t, []any{int64(30), "Ann"}, args)
	})

	t.Run("unknown relation", func(t *testing.T) {
		where := query.NewWhere()
		where.Nested("owner").Set("name", query.Equals{Value: "x"})

		_, _, err := c.CompileWhere("users", "users", where)
		assert.ErrorIs(t, err, schema.ErrUnknownRelation)
	})

	t.Run("empty sub-tree is ignored", func(t *testing.T) {
		where := query.NewWhere()
		where.Nested("company")

		sql, args, err := c.CompileWhere("users", "users", where)
		require.NoError(t, err)
		assert.Empty(t, sql)
		assert.Empty(t, args)
	})
}

func TestScalarQueries(t *testing.T) {
	c := sqlstore.NewCompiler(postgres.Dialect{}, newRegistry(t))
	where := query.WhereEquals("companyId", "c1")

	sql, args, err := c.Count("users", where)
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "users" WHERE "users"."companyId" = $1`, sql)
	assert.Equal(t, []any{"c1"}, args)

	sql, _, err = c.Exists("users", where)
	require.NoError(t, err)
	assert.Equal(t, `SELECT 1 FROM "users" WHERE "users"."companyId" = $1 LIMIT 1`, sql)

	sql, args, err = c.Aggregate("users", persistence.AggregateMax, "age", nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT MAX("users"."age") FROM "users"`, sql)
	assert.Empty(t, args)

	_, _, err = c.Aggregate("users", persistence.AggregateFunc("AVG"), "age", nil)
	assert.ErrorIs(t, err, persistence.ErrUnsupportedAggregate)

	_, _, err = c.Aggregate("users", persistence.AggregateSum, "age)", nil)
	assert.ErrorIs(t, err, schema.ErrInvalidIdentifier)
}

func TestWriteStatements(t *testing.T) {
	reg := newRegistry(t)

	t.Run("insert", func(t *testing.T) {
		c := sqlstore.NewCompiler(postgres.Dialect{}, reg)
		sql, args, err := c.Insert("users", schema.Document{
			"id":      "u1",
			"name":    "Ann",
			"active":  true,
			"profile": map[string]any{"a": 1},
			"company": schema.Document{"id": "c1"},
		})
		require.NoError(t, err)
		assert.Equal(t, `INSERT INTO "users" ("active", "id", "name", "profile") VALUES ($1, $2, $3, $4) RETURNING *`, sql)
		assert.Equal(t, []any{true, "u1", "Ann", `{"a":1}`}, args)
	})

	t.Run("update", func(t *testing.T) {
		c := sqlstore.NewCompiler(sqlite.Dialect{}, reg)
		sql, args, err := c.Update("users", "u1", schema.Document{"id": "u1", "age": "31", "active": "false"})
		require.NoError(t, err)
		assert.Equal(t, `UPDATE "users" SET "active" = ?, "age" = ? WHERE "id" = ? RETURNING *`, sql)
		assert.Equal(t, []any{0, int64(31), "u1"}, args)
	})

	t.Run("update without changes", func(t *testing.T) {
		c := sqlstore.NewCompiler(sqlite.Dialect{}, reg)
		sql, args, err := c.Update("users", "u1", schema.Document{"id": "u1"})
		require.NoError(t, err)
		assert.Equal(t, `UPDATE "users" SET "id" = "id" WHERE "id" = ? RETURNING *`, sql)
		assert.Equal(t, []any{"u1"}, args)
	})

	t.Run("undeclared field", func(t *testing.T) {
		c := sqlstore.NewCompiler(sqlite.Dialect{}, reg)
		_, _, err := c.Insert("users", schema.Document{"id": "u1", "nickname": "x"})
		assert.ErrorIs(t, err, schema.ErrUnknownField)
	})

	t.Run("unknown collection", func(t *testing.T) {
		c := sqlstore.NewCompiler(sqlite.Dialect{}, reg)
		_, _, err := c.Insert("ghosts", schema.Document{"id": "g1"})
		assert.ErrorIs(t, err, schema.ErrUnknownCollection)
	})
}

func TestCreateTableSQL(t *testing.T) {
	accounts := &schema.SchemaDefinition{
		Name: "accounts",
		Fields: map[string]*schema.FieldDefinition{
			"id":     {Type: schema.FieldTypeString},
			"email":  {Type: schema.FieldTypeString, Required: boolPtr(true), Unique: boolPtr(true)},
			"active": {Type: schema.FieldTypeBoolean, Default: true},
			"role":   {Type: schema.FieldTypeEnum, Values: []any{"admin", "member"}, Default: "member"},
			"meta":   {Type: schema.FieldTypeObject},
		},
		Indexes: []schema.IndexDefinition{
			{Fields: []string{"email", "role"}, Type: schema.IndexTypeNormal},
		},
	}

	tests := []struct {
		name    string
		dialect sqlstore.Dialect
		want    []string
	}{
		{
			name:    "sqlite",
			dialect: sqlite.Dialect{},
			want: []string{
				"CREATE TABLE IF NOT EXISTS \"accounts\" (\n" +
					"    \"active\" INTEGER DEFAULT 1,\n" +
					"    \"email\" TEXT NOT NULL UNIQUE,\n" +
					"    \"id\" TEXT,\n" +
					"    \"meta\" TEXT,\n" +
					"    \"role\" TEXT DEFAULT 'member' CHECK(\"role\" IN ('admin', 'member')),\n" +
					"    PRIMARY KEY (\"id\")\n" +
					");",
				`CREATE INDEX IF NOT EXISTS "idx_accounts_email_role" ON "accounts" ("email", "role");`,
			},
		},
		{
			name:    "postgres",
			dialect: postgres.Dialect{},
			want: []string{
				"CREATE TABLE IF NOT EXISTS \"accounts\" (\n" +
					"    \"active\" BOOLEAN DEFAULT true,\n" +
					"    \"email\" TEXT NOT NULL UNIQUE,\n" +
					"    \"id\" TEXT,\n" +
					"    \"meta\" JSONB,\n" +
					"    \"role\" TEXT DEFAULT 'member' CHECK(\"role\" IN ('admin', 'member')),\n" +
					"    PRIMARY KEY (\"id\")\n" +
					");",
				`CREATE INDEX IF NOT EXISTS "idx_accounts_email_role" ON "accounts" ("email", "role");`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sqlstore.NewCompiler(tt.dialect, nil)
			got, err := c.CreateTableSQL(accounts, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("without indexes", func(t *testing.T) {
		c := sqlstore.NewCompiler(sqlite.Dialect{}, nil)
		got, err := c.CreateTableSQL(accounts, &sqlstore.Options{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Contains(t, got[0], `CREATE TABLE "accounts" (`)
	})

	t.Run("unique index", func(t *testing.T) {
		c := sqlstore.NewCompiler(sqlite.Dialect{}, nil)
		got, err := c.CreateIndexSQL("accounts", schema.IndexDefinition{Fields: []string{"email"}, Type: schema.IndexTypeUnique, Name: "accounts_email"})
		require.NoError(t, err)
		assert.Equal(t, `CREATE UNIQUE INDEX IF NOT EXISTS "accounts_email" ON "accounts" ("email");`, got)
	})
}

func TestSearchQuerySQL(t *testing.T) {
	store := sqlstore.New(nil, postgres.Dialect{}, newRegistry(t), nil, nil)

	q, err := store.NewSearchQuery("users")
	require.NoError(t, err)
	assert.Equal(t, "users", q.RootAlias())
	assert.True(t, q.IsJoined("users"))

	require.NoError(t, q.LeftJoin("company", "company"))
	require.NoError(t, q.LeftJoin("company", "company"))
	assert.True(t, q.IsJoined("company"))

	q.AndWhereEquals(persistence.ColumnRef{Alias: "users", Column: "companyId"}, "c1")
	q.AndWhereAnyLike([]persistence.ColumnRef{
		{Alias: "users", Column: "name"},
		{Alias: "company", Column: "name"},
	}, "%acme%")

	renderer, ok := q.(interface{ SQL() (string, []any) })
	require.True(t, ok)
	sql, args := renderer.SQL()
	assert.Equal(t, `SELECT DISTINCT "users"."id" FROM "users" LEFT JOIN "companies" AS "company" ON "company"."id" = "users"."companyId" WHERE "users"."companyId" = $1 AND (CAST("users"."name" AS TEXT) ILIKE $2 OR CAST("company"."name" AS TEXT) ILIKE $3)`, sql)
	assert.Equal(t, []any{"c1", "%acme%", "%acme%"}, args)

	assert.ErrorIs(t, q.LeftJoin("owner", "owner"), schema.ErrUnknownRelation)

	_, err = store.NewSearchQuery("ghosts")
	assert.ErrorIs(t, err, schema.ErrUnknownCollection)
}
