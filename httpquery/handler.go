package httpquery

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/relation"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"go.uber.org/zap"
)

// Options configures a Handler. All fields are optional.
type Options struct {
	Logger *zap.Logger
	Parse  ParseOptions
	// Events receives the lifecycle events of every executor the handler runs.
	Events *persistence.EventHub
	// Resolver follows includeRef paths. When nil one is built over the store.
	Resolver *relation.Resolver
}

// Handler serves registered collections of one store.
type Handler struct {
	store    persistence.DataStore
	registry *schema.Registry
	resolver *relation.Resolver
	events   *persistence.EventHub
	parse    ParseOptions
	logger   *zap.Logger
}

// NewHandler creates a handler over store.
func NewHandler(store persistence.DataStore, registry *schema.Registry, opts *Options) *Handler {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = relation.New(store, registry, &relation.Options{
			Logger:   logger,
			MaxDepth: opts.Parse.MaxPathDepth,
		})
	}
	return &Handler{
		store:    store,
		registry: registry,
		resolver: resolver,
		events:   opts.Events,
		parse:    opts.Parse,
		logger:   logger,
	}
}

// Register mounts the handler's routes on r.
func Register(r gin.IRouter, h *Handler) {
	r.GET("/:collection", h.List)
	r.GET("/:collection/:id", h.Get)
}

func (h *Handler) executor(collection string) (*persistence.Executor, error) {
	return persistence.NewExecutor(h.store, h.registry, collection, &persistence.ExecutorOptions{
		Logger: h.logger,
		Events: h.events,
	})
}

// List serves GET /:collection.
func (h *Handler) List(c *gin.Context) {
	collection := c.Param("collection")
	req, err := Parse(c, h.parse)
	if err != nil {
		SendError(c, err)
		return
	}
	exec, err := h.executor(collection)
	if err != nil {
		SendError(c, err)
		return
	}

	ctx := c.Request.Context()
	page, err := exec.Paginate(ctx, persistence.PaginateRequest{
		Pagination: req.Pagination,
		Criteria:   req.Criteria,
		Search:     req.Search,
	})
	if err != nil {
		h.fail(c, collection, err)
		return
	}
	if len(req.References) > 0 {
		if _, err := h.resolver.ResolveMany(ctx, page.Rows, collection, req.References); err != nil {
			h.fail(c, collection, err)
			return
		}
	}
	c.JSON(http.StatusOK, newPageResponse(page, req.Pagination))
}

// Get serves GET /:collection/:id. It honours include and includeRef; other
// listing parameters are ignored.
func (h *Handler) Get(c *gin.Context) {
	collection := c.Param("collection")
	req, err := Parse(c, h.parse)
	if err != nil {
		SendError(c, err)
		return
	}
	exec, err := h.executor(collection)
	if err != nil {
		SendError(c, err)
		return
	}

	ctx := c.Request.Context()
	criteria := req.Criteria
	criteria.Filters, criteria.Sorts = nil, nil
	criteria.Extra = map[string]any{schema.IDField: c.Param("id")}
	doc, err := exec.FindOneOrFailByCriteria(ctx, criteria)
	if err != nil {
		h.fail(c, collection, err)
		return
	}
	if len(req.References) > 0 {
		if _, err := h.resolver.ResolveMany(ctx, []schema.Document{doc}, collection, req.References); err != nil {
			h.fail(c, collection, err)
			return
		}
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) fail(c *gin.Context, collection string, err error) {
	if StatusOf(err) == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("collection", collection),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	SendError(c, err)
}
