package httpquery

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Message string `json:"message"`
}

// StatusOf maps an engine error to the HTTP status it is reported with.
func StatusOf(err error) int {
	var validation *persistence.ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case query.IsClientError(err),
		errors.Is(err, schema.ErrInvalidIdentifier),
		errors.Is(err, schema.ErrUnknownField),
		errors.Is(err, schema.ErrUnknownRelation),
		errors.Is(err, persistence.ErrUnsupportedAggregate):
		return http.StatusBadRequest
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, schema.ErrUnknownCollection),
		errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// SendError replies with the status of err. Server-side failures are reported
// without their cause.
func SendError(c *gin.Context, err error) {
	status := StatusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": ErrorResponse{Message: message}})
}

// PageResponse is the body of a listing reply.
type PageResponse struct {
	Count int               `json:"count"`
	Rows  []schema.Document `json:"rows"`
	Page  int               `json:"page"`
	// Size is the page size, or "unlimited".
	Size any `json:"size"`
}

func newPageResponse(page *persistence.Page, p query.Pagination) PageResponse {
	return PageResponse{
		Count: page.Count,
		Rows:  page.Rows,
		Page:  p.Page,
		Size:  p.ReportedSize(),
	}
}
