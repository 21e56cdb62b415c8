package sqlstore

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"go.uber.org/zap"
)

// statement accumulates bind parameters while SQL text is produced, so
// placeholders are numbered in the order they appear.
type statement struct {
	dialect Dialect
	args    []any
	aliases int
}

func (s *statement) bind(v any) string {
	s.args = append(s.args, v)
	return s.dialect.Placeholder(len(s.args))
}

func (s *statement) nextAlias() string {
	s.aliases++
	return fmt.Sprintf("r%d", s.aliases)
}

// Compiler turns condition trees and find options into SQL for one dialect.
// Every value is bound; identifiers are validated before they are quoted.
type Compiler struct {
	dialect   Dialect
	registry  *schema.Registry
	processor *query.DataProcessor
}

// NewCompiler creates a compiler. The registry resolves relation conditions
// and field types; it may be nil when neither is needed.
func NewCompiler(dialect Dialect, registry *schema.Registry) *Compiler {
	return &Compiler{
		dialect:   dialect,
		registry:  registry,
		processor: query.NewDataProcessor(zap.NewNop()),
	}
}

// Dialect returns the dialect the compiler renders.
func (c *Compiler) Dialect() Dialect {
	return c.dialect
}

func (c *Compiler) newStatement() *statement {
	return &statement{dialect: c.dialect}
}

func (c *Compiler) schemaOf(collection string) *schema.SchemaDefinition {
	if c.registry == nil {
		return nil
	}
	sc, err := c.registry.Schema(collection)
	if err != nil {
		return nil
	}
	return sc
}

func fieldOf(sc *schema.SchemaDefinition, name string) *schema.FieldDefinition {
	if sc == nil {
		return nil
	}
	return sc.FindField(name)
}

// Select renders a row query for opts. Relations are not joined; the store
// loads them with separate statements.
func (c *Compiler) Select(collection string, opts persistence.FindOptions) (string, []any, error) {
	if err := schema.ValidateIdentifier(collection); err != nil {
		return "", nil, err
	}
	st := c.newStatement()
	table := QuoteIdentifier(collection)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("SELECT %s.* FROM %s", table, table))
	if err := c.writeWhere(&sb, st, collection, opts.Where); err != nil {
		return "", nil, err
	}
	if len(opts.Order) > 0 {
		var orderByClauses []string
		for _, o := range opts.Order {
			if err := schema.ValidateIdentifier(o.Property); err != nil {
				return "", nil, fmt.Errorf("sort error: %w", err)
			}
			dir := query.OrderAsc
			if strings.EqualFold(o.Direction, query.OrderDesc) {
				dir = query.OrderDesc
			}
			orderByClauses = append(orderByClauses, fmt.Sprintf("%s %s", column(collection, o.Property), dir))
		}
		sb.WriteString(" ORDER BY " + strings.Join(orderByClauses, ", "))
	}
	sb.WriteString(c.dialect.Window(opts.Limit, opts.Offset))
	return sb.String(), st.args, nil
}

// Count renders a COUNT(*) over rows matching where.
func (c *Compiler) Count(collection string, where *query.Where) (string, []any, error) {
	return c.scalar(collection, "COUNT(*)", where, "")
}

// Exists renders a query returning at most one row when where matches.
func (c *Compiler) Exists(collection string, where *query.Where) (string, []any, error) {
	return c.scalar(collection, "1", where, c.dialect.Window(1, 0))
}

// Aggregate renders fn over field for rows matching where.
func (c *Compiler) Aggregate(collection string, fn persistence.AggregateFunc, field string, where *query.Where) (string, []any, error) {
	if !fn.IsSupported() {
		return "", nil, fmt.Errorf("%w: %s", persistence.ErrUnsupportedAggregate, fn)
	}
	if err := schema.ValidateIdentifier(field); err != nil {
		return "", nil, err
	}
	return c.scalar(collection, fmt.Sprintf("%s(%s)", fn, column(collection, field)), where, "")
}

func (c *Compiler) scalar(collection, projection string, where *query.Where, suffix string) (string, []any, error) {
	if err := schema.ValidateIdentifier(collection); err != nil {
		return "", nil, err
	}
	st := c.newStatement()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("SELECT %s FROM %s", projection, QuoteIdentifier(collection)))
	if err := c.writeWhere(&sb, st, collection, where); err != nil {
		return "", nil, err
	}
	sb.WriteString(suffix)
	return sb.String(), st.args, nil
}

func (c *Compiler) writeWhere(sb *strings.Builder, st *statement, collection string, where *query.Where) error {
	if where.IsEmpty() {
		return nil
	}
	whereSQL, err := c.compileWhere(st, collection, collection, where)
	if err != nil {
		return fmt.Errorf("error building WHERE clause: %w", err)
	}
	if whereSQL != "" {
		sb.WriteString(" WHERE " + whereSQL)
	}
	return nil
}

// CompileWhere renders where against collection under alias and returns the
// clause with its parameters.
func (c *Compiler) CompileWhere(collection, alias string, where *query.Where) (string, []any, error) {
	st := c.newStatement()
	out, err := c.compileWhere(st, collection, alias, where)
	return out, st.args, err
}

// compileWhere ANDs the conditions of where. A relation sub-tree becomes an
// EXISTS over the related collection; when the sub-tree would also accept a
// row with no related rows at all, rows without related rows match too.
func (c *Compiler) compileWhere(st *statement, collection, alias string, where *query.Where) (string, error) {
	if where.IsEmpty() {
		return "", nil
	}
	sc := c.schemaOf(collection)
	var clauses []string
	for _, field := range where.Fields() {
		if err := schema.ValidateIdentifier(field); err != nil {
			return "", err
		}
		clause, err := c.compileCondition(st, column(alias, field), fieldOf(sc, field), where.Conditions[field])
		if err != nil {
			return "", fmt.Errorf("condition on '%s': %w", field, err)
		}
		clauses = append(clauses, clause)
	}

	for _, name := range where.RelationNames() {
		sub := where.Relations[name]
		if sub.IsEmpty() {
			continue
		}
		if c.registry == nil {
			return "", fmt.Errorf("%w: '%s' on collection '%s'", schema.ErrUnknownRelation, name, collection)
		}
		rel, ok := c.registry.Relation(collection, name)
		if !ok {
			return "", fmt.Errorf("%w: '%s' on collection '%s'", schema.ErrUnknownRelation, name, collection)
		}
		ra := st.nextAlias()
		from := fmt.Sprintf("%s AS %s", QuoteIdentifier(rel.Target), QuoteIdentifier(ra))
		link := fmt.Sprintf("%s = %s", column(ra, rel.ForeignField), column(alias, rel.LocalField))
		inner, err := c.compileWhere(st, rel.Target, ra, sub)
		if err != nil {
			return "", err
		}
		clause := fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s AND %s)", from, link, inner)
		if c.matchesEmpty(sub) {
			clause = fmt.Sprintf("(%s OR NOT EXISTS (SELECT 1 FROM %s WHERE %s))", clause, from, link)
		}
		clauses = append(clauses, clause)
	}
	return strings.Join(clauses, " AND "), nil
}

// matchesEmpty reports whether sub accepts a related row made only of nulls.
func (c *Compiler) matchesEmpty(sub *query.Where) bool {
	var none query.RelationLoader
	none = func(schema.Document, string) ([]schema.Document, query.RelationLoader, error) {
		return nil, none, nil
	}
	ok, err := c.processor.Match(schema.Document{}, sub, none)
	return err == nil && ok
}

func (c *Compiler) compileCondition(st *statement, expr string, field *schema.FieldDefinition, cond query.Condition) (string, error) {
	switch cd := cond.(type) {
	case query.Equals:
		v, err := c.prepareValue(field, cd.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", expr, st.bind(v)), nil
	case query.Not:
		if _, ok := cd.Condition.(query.IsNull); ok {
			return fmt.Sprintf("%s IS NOT NULL", expr), nil
		}
		if p, ok := cd.Condition.(query.Pattern); ok {
			return c.compilePattern(st, expr, p, true), nil
		}
		inner, err := c.compileCondition(st, expr, field, cd.Condition)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s)", inner), nil
	case query.Range:
		var parts []string
		for _, b := range []struct {
			bound     *query.Bound
			inclusive string
			exclusive string
		}{{cd.Lower, ">=", ">"}, {cd.Upper, "<=", "<"}} {
			if b.bound == nil {
				continue
			}
			v, err := c.prepareValue(field, b.bound.Value)
			if err != nil {
				return "", err
			}
			op := b.exclusive
			if b.bound.Inclusive {
				op = b.inclusive
			}
			parts = append(parts, fmt.Sprintf("%s %s %s", expr, op, st.bind(v)))
		}
		if len(parts) == 0 {
			return fmt.Sprintf("%s IS NOT NULL", expr), nil
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case query.Pattern:
		return c.compilePattern(st, expr, cd, false), nil
	case query.SetMembership:
		if len(cd.Values) == 0 {
			return "1 = 0", nil
		}
		placeholders := make([]string, 0, len(cd.Values))
		for _, raw := range cd.Values {
			v, err := c.prepareValue(field, raw)
			if err != nil {
				return "", err
			}
			placeholders = append(placeholders, st.bind(v))
		}
		return fmt.Sprintf("%s IN (%s)", expr, strings.Join(placeholders, ", ")), nil
	case query.IsNull:
		return fmt.Sprintf("%s IS NULL", expr), nil
	case query.Or:
		if len(cd.Conditions) == 0 {
			return "1 = 0", nil
		}
		var members []string
		for _, m := range cd.Conditions {
			s, err := c.compileCondition(st, expr, field, m)
			if err != nil {
				return "", err
			}
			members = append(members, s)
		}
		return "(" + strings.Join(members, " OR ") + ")", nil
	default:
		return "", fmt.Errorf("unsupported condition node %T", cond)
	}
}

func (c *Compiler) compilePattern(st *statement, expr string, p query.Pattern, negate bool) string {
	ph := st.bind(p.Like())
	if p.Unaccented {
		return c.dialect.Like(c.dialect.Unaccent(expr), c.dialect.Unaccent(ph), negate)
	}
	return c.dialect.Like(expr, ph, negate)
}

// writableFields returns the declared fields of doc in a stable order.
// Relation keys are skipped; undeclared keys are rejected.
func (c *Compiler) writableFields(collection string, doc schema.Document) (*schema.SchemaDefinition, []string, error) {
	if err := schema.ValidateIdentifier(collection); err != nil {
		return nil, nil, err
	}
	sc := c.schemaOf(collection)
	if sc == nil {
		return nil, nil, fmt.Errorf("%w: '%s'", schema.ErrUnknownCollection, collection)
	}
	var fields []string
	for name := range doc {
		if sc.FindRelation(name) != nil {
			continue
		}
		if !sc.HasField(name) {
			return nil, nil, fmt.Errorf("%w: '%s' on collection '%s'", schema.ErrUnknownField, name, collection)
		}
		fields = append(fields, name)
	}
	slices.Sort(fields)
	return sc, fields, nil
}

// Insert renders an INSERT of doc returning the stored row.
func (c *Compiler) Insert(collection string, doc schema.Document) (string, []any, error) {
	sc, fields, err := c.writableFields(collection, doc)
	if err != nil {
		return "", nil, err
	}
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("no fields provided for insert")
	}
	st := c.newStatement()
	quotedFields := make([]string, 0, len(fields))
	placeholders := make([]string, 0, len(fields))
	for _, name := range fields {
		v, err := c.prepareValue(sc.FindField(name), doc[name])
		if err != nil {
			return "", nil, fmt.Errorf("error preparing value for field '%s': %w", name, err)
		}
		quotedFields = append(quotedFields, QuoteIdentifier(name))
		placeholders = append(placeholders, st.bind(v))
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		QuoteIdentifier(collection), strings.Join(quotedFields, ", "), strings.Join(placeholders, ", "))
	return sql, st.args, nil
}

// Update renders an UPDATE of the row identified by id with the fields of doc,
// returning the stored row. The id itself is never rewritten.
func (c *Compiler) Update(collection string, id any, doc schema.Document) (string, []any, error) {
	sc, fields, err := c.writableFields(collection, doc)
	if err != nil {
		return "", nil, err
	}
	st := c.newStatement()
	var setClauses []string
	for _, name := range fields {
		if name == schema.IDField {
			continue
		}
		v, err := c.prepareValue(sc.FindField(name), doc[name])
		if err != nil {
			return "", nil, fmt.Errorf("error preparing value for field '%s': %w", name, err)
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", QuoteIdentifier(name), st.bind(v)))
	}
	if len(setClauses) == 0 {
		// Nothing to change: still return the row.
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", QuoteIdentifier(schema.IDField), QuoteIdentifier(schema.IDField)))
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s RETURNING *",
		QuoteIdentifier(collection), strings.Join(setClauses, ", "), QuoteIdentifier(schema.IDField), st.bind(id))
	return sql, st.args, nil
}
