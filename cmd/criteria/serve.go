package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kenny-nguyen-softdev/go-criteria/config"
	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/relation"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"github.com/kenny-nguyen-softdev/go-criteria/httpquery"
	"github.com/kenny-nguyen-softdev/go-criteria/mongodb"
	"github.com/kenny-nguyen-softdev/go-criteria/postgres"
	"github.com/kenny-nguyen-softdev/go-criteria/sqlite"
	"github.com/kenny-nguyen-softdev/go-criteria/sqlstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type serveOptions struct {
	*rootOptions
	Addr    string
	Migrate bool
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve registered collections over HTTP",
		Long: `Serve GET /:collection and GET /:collection/:id for every collection of
the registry, reading filter, sort, include, includeRef, page, size, searchKey
and searchValue from the query string.

Reference collections are read from MongoDB when CRITERIA_MONGO_URI is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address, overrides CRITERIA_HTTP_ADDR")
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", true, "create missing tables before serving")

	return cmd
}

func openStore(ctx context.Context, cfg *config.Config, registry *schema.Registry, logger *zap.Logger) (*sqlstore.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DSN, registry, logger)
	default:
		return sqlite.Open(cfg.DSN, registry, logger)
	}
}

// queryLogger logs every executor operation at debug level.
func queryLogger(logger *zap.Logger) persistence.EventCallbackFunction {
	return func(ctx context.Context, event persistence.QueryEvent) error {
		fields := []zap.Field{
			zap.String("event", string(event.Type)),
			zap.String("operation", event.Operation),
		}
		if event.Collection != nil {
			fields = append(fields, zap.String("collection", *event.Collection))
		}
		if event.Duration != nil {
			fields = append(fields, zap.Int64("durationMs", *event.Duration))
		}
		if event.Error != nil {
			fields = append(fields, zap.String("error", *event.Error))
		}
		logger.Debug("Query event", fields...)
		return nil
	}
}

// requestLogger logs each request once it has been served.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, logger := opts.cfg, opts.logger
	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if opts.Migrate {
		if err := store.EnsureCollections(ctx); err != nil {
			return err
		}
	}

	router := persistence.NewRouter(store)
	if cfg.MongoURI != "" {
		docs, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, registry, logger)
		if err != nil {
			return err
		}
		defer docs.Close(context.Background())
		for _, c := range registry.References().Collections() {
			router.Route(c, docs)
		}
		logger.Info("Reference collections routed to MongoDB",
			zap.Strings("collections", registry.References().Collections()),
			zap.String("database", cfg.MongoDatabase))
	}

	hub, err := persistence.NewEventHub()
	if err != nil {
		return fmt.Errorf("failed to create event hub: %w", err)
	}
	for _, event := range []persistence.QueryEventType{persistence.QuerySuccess, persistence.QueryFailed} {
		hub.RegisterSubscription(persistence.SubscriptionOptions{Event: event, Callback: queryLogger(logger)})
	}

	handler := httpquery.NewHandler(store, registry, &httpquery.Options{
		Logger: logger,
		Events: hub,
		Parse: httpquery.ParseOptions{
			Pagination:   cfg.Pagination(),
			MaxPathDepth: cfg.MaxPathDepth,
		},
		Resolver: relation.New(router, registry, &relation.Options{
			Logger:   logger,
			MaxDepth: cfg.MaxPathDepth,
		}),
	})

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	httpquery.Register(engine, handler)

	addr := cfg.HTTPAddr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	srv := &http.Server{Addr: addr, Handler: engine}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", addr), zap.String("driver", cfg.Driver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
