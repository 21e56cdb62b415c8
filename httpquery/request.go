// Package httpquery binds the criteria engine to gin: it reads the listing
// query parameters, runs them through a persistence.Executor and renders the
// page, mapping engine errors onto HTTP status codes.
package httpquery

import (
	"github.com/gin-gonic/gin"
	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
)

// Query parameters read by Parse.
const (
	ParamFilter      = "filter"
	ParamSort        = "sort"
	ParamInclude     = "include"
	ParamIncludeRef  = "includeRef"
	ParamPage        = "page"
	ParamSize        = "size"
	ParamSearchKey   = "searchKey"
	ParamSearchValue = "searchValue"
)

// ParseOptions tunes Parse.
type ParseOptions struct {
	Pagination query.PaginationOptions
	// MaxPathDepth bounds includeRef paths. Zero uses query.DefaultMaxPathDepth.
	MaxPathDepth int
}

// Request is a parsed listing request.
type Request struct {
	Criteria   query.Criteria
	Pagination query.Pagination
	// Search is nil unless both searchKey and searchValue were given.
	Search *persistence.SearchRequest
	// References are the includeRef paths resolved after the page is loaded.
	References []query.RelationPath
}

// Parse reads the listing parameters of c. Every error it returns is a client
// error in the query.IsClientError sense.
func Parse(c *gin.Context, opts ParseOptions) (*Request, error) {
	filters, err := query.ParseFilters(c.Query(ParamFilter))
	if err != nil {
		return nil, err
	}
	sorts, err := query.ParseSorts(c.Query(ParamSort))
	if err != nil {
		return nil, err
	}
	include, err := query.ParseIncludes(c.Query(ParamInclude))
	if err != nil {
		return nil, err
	}
	refs, err := query.ParseRelationPaths(c.Query(ParamIncludeRef), opts.MaxPathDepth)
	if err != nil {
		return nil, err
	}
	pagination, err := query.ParsePagination(c.Query(ParamPage), c.Query(ParamSize), opts.Pagination)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Criteria: query.Criteria{
			Filters: filters,
			Sorts:   sorts,
			Include: include,
		},
		Pagination: pagination,
		References: refs,
	}
	key, value := c.Query(ParamSearchKey), c.Query(ParamSearchValue)
	if key != "" && value != "" {
		req.Search = &persistence.SearchRequest{Key: key, Value: value}
	}
	return req, nil
}
