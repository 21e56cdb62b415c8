// Package query provides a set of utility functions to support the translator
// and processor. These helpers handle value conversion and text folding.
package query

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ToFloat64 is a utility function that converts a value of various numeric types
// to a float64. It returns the converted float64 and a boolean indicating whether
// the conversion was successful.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case []byte:
		return ToFloat64(string(val))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ToTime converts time.Time values and RFC3339 strings.
func ToTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(val))
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

// Unaccent strips combining marks after canonical decomposition, so "Crème
// brûlée" becomes "Creme brulee". Letters without a decomposition are kept.
func Unaccent(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold lower-cases s and, when unaccented is set, strips its diacritics.
func Fold(s string, unaccented bool) string {
	if unaccented {
		s = Unaccent(s)
	}
	return strings.ToLower(s)
}
