// Package sqlstore is a database/sql DataStore. It compiles condition trees to
// parameterized SQL through a Dialect, loads declared relations with one
// statement per relation, and builds search queries that join relations on
// demand.
package sqlstore

import (
	"strings"

	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
)

// Dialect captures what differs between SQL engines.
type Dialect interface {
	// Name is the database/sql driver name.
	Name() string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// Like renders a case-insensitive LIKE of expr against a bound pattern.
	Like(expr, pattern string, negate bool) string
	// Unaccent wraps expr so diacritics are stripped before comparison.
	Unaccent(expr string) string
	// ColumnType maps a field type to a column type.
	ColumnType(t schema.FieldType) string
	// Window renders LIMIT/OFFSET. A limit of zero or less means no limit.
	Window(limit, offset int) string
	// NativeBool reports whether booleans are bound as-is rather than as 0/1.
	NativeBool() bool
}

// QuoteIdentifier properly quotes an identifier. Both supported engines use
// double quotes.
func QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// column renders alias."column".
func column(alias, name string) string {
	return QuoteIdentifier(alias) + "." + QuoteIdentifier(name)
}
