package query

import "errors"

// Client-input errors raised while parsing or translating criteria. They are
// wrapped with context; match them with errors.Is.
var (
	ErrInvalidFilterFormat   = errors.New("invalid filter format")
	ErrUnknownFilterRule     = errors.New("unknown filter rule")
	ErrMissingFilterValue    = errors.New("missing filter value")
	ErrInvalidSortFormat     = errors.New("invalid sort format")
	ErrInvalidPagination     = errors.New("invalid pagination")
	ErrInvalidIncludeFormat  = errors.New("invalid include format")
	ErrUnsupportedFilterRule = errors.New("unsupported filter rule")
	ErrPathTooDeep           = errors.New("relation path too deep")
)

// IsClientError reports whether err was caused by malformed caller input.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidFilterFormat,
		ErrUnknownFilterRule,
		ErrMissingFilterValue,
		ErrInvalidSortFormat,
		ErrInvalidPagination,
		ErrInvalidIncludeFormat,
		ErrUnsupportedFilterRule,
		ErrPathTooDeep,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
