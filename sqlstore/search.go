package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"go.uber.org/zap"
)

type join struct {
	alias string
	rel   *schema.RelationDefinition
}

// searchQuery renders SELECT DISTINCT root.id FROM root LEFT JOIN ... WHERE
// ... with every value bound. Aliases are joined at most once.
type searchQuery struct {
	store      *Store
	collection string
	joins      []join
	joined     map[string]bool
	st         *statement
	clauses    []string
}

func newSearchQuery(s *Store, collection string) *searchQuery {
	return &searchQuery{
		store:      s,
		collection: collection,
		joined:     map[string]bool{collection: true},
		st:         s.compiler.newStatement(),
	}
}

func (q *searchQuery) RootAlias() string {
	return q.collection
}

func (q *searchQuery) IsJoined(alias string) bool {
	return q.joined[alias]
}

func (q *searchQuery) LeftJoin(relation, alias string) error {
	if err := schema.ValidateIdentifier(alias); err != nil {
		return err
	}
	if q.store.registry == nil {
		return fmt.Errorf("%w: '%s' on collection '%s'", schema.ErrUnknownRelation, relation, q.collection)
	}
	rel, ok := q.store.registry.Relation(q.collection, relation)
	if !ok {
		return fmt.Errorf("%w: '%s' on collection '%s'", schema.ErrUnknownRelation, relation, q.collection)
	}
	if q.joined[alias] {
		return nil
	}
	q.joins = append(q.joins, join{alias: alias, rel: rel})
	q.joined[alias] = true
	return nil
}

func (q *searchQuery) AndWhereEquals(ref persistence.ColumnRef, value any) {
	q.clauses = append(q.clauses, fmt.Sprintf("%s = %s", column(ref.Alias, ref.Column), q.st.bind(value)))
}

func (q *searchQuery) AndWhereAnyLike(refs []persistence.ColumnRef, pattern string) {
	if len(refs) == 0 {
		return
	}
	ors := make([]string, 0, len(refs))
	for _, ref := range refs {
		ors = append(ors, q.store.compiler.dialect.Like(column(ref.Alias, ref.Column), q.st.bind(pattern), false))
	}
	q.clauses = append(q.clauses, "("+strings.Join(ors, " OR ")+")")
}

// SQL renders the statement and its parameters.
func (q *searchQuery) SQL() (string, []any) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("SELECT DISTINCT %s FROM %s", column(q.collection, schema.IDField), QuoteIdentifier(q.collection)))
	for _, j := range q.joins {
		sb.WriteString(fmt.Sprintf(" LEFT JOIN %s AS %s ON %s = %s",
			QuoteIdentifier(j.rel.Target),
			QuoteIdentifier(j.alias),
			column(j.alias, j.rel.ForeignField),
			column(q.collection, j.rel.LocalField),
		))
	}
	if len(q.clauses) > 0 {
		sb.WriteString(" WHERE " + strings.Join(q.clauses, " AND "))
	}
	return sb.String(), q.st.args
}

func (q *searchQuery) SelectIDs(ctx context.Context) ([]string, error) {
	sqlQuery, params := q.SQL()
	q.store.logger.Debug("Executing SQL SELECT", zap.String("sql", sqlQuery), zap.Any("params", params))
	rows, err := q.store.db.QueryContext(ctx, sqlQuery, params...)
	if err != nil {
		q.store.logger.Error("Failed to execute search query", zap.Error(err), zap.String("sql", sqlQuery))
		return nil, fmt.Errorf("failed to execute search query: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id any
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, schema.KeyOf(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return ids, nil
}
