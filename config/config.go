// Package config reads process configuration from the environment.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"github.com/sethvargo/go-envconfig"
)

// Supported relational drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver     string `env:"CRITERIA_DRIVER,default=sqlite"`
	DSN        string `env:"CRITERIA_DSN,default=file:criteria.db?cache=shared"`
	SchemaFile string `env:"CRITERIA_SCHEMA_FILE"`
	HTTPAddr   string `env:"CRITERIA_HTTP_ADDR,default=:8080"`
	LogLevel   string `env:"CRITERIA_LOG_LEVEL,default=info"`
	LogDev     bool   `env:"CRITERIA_LOG_DEVELOPMENT,default=false"`

	DefaultPageSize int `env:"CRITERIA_DEFAULT_PAGE_SIZE,default=10"`
	UnlimitedBound  int `env:"CRITERIA_UNLIMITED_BOUND,default=10000"`
	MaxPathDepth    int `env:"CRITERIA_MAX_PATH_DEPTH,default=10"`

	// When MongoURI is set, reference collections are read from MongoDB.
	MongoURI      string `env:"CRITERIA_MONGO_URI"`
	MongoDatabase string `env:"CRITERIA_MONGO_DATABASE,default=criteria"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads the configuration through l.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &cfg, l); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the environment cannot constrain by type.
func (c *Config) Validate() error {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported driver %q, expected %s or %s", c.Driver, DriverSQLite, DriverPostgres)
	}
	if c.DefaultPageSize < 1 {
		return fmt.Errorf("default page size must be positive, got %d", c.DefaultPageSize)
	}
	if c.UnlimitedBound < c.DefaultPageSize {
		return fmt.Errorf("unlimited bound %d is below the default page size", c.UnlimitedBound)
	}
	if c.MaxPathDepth < 1 {
		return fmt.Errorf("max path depth must be positive, got %d", c.MaxPathDepth)
	}
	return nil
}

// Pagination returns the page options derived from the configuration.
func (c *Config) Pagination() query.PaginationOptions {
	return query.PaginationOptions{
		DefaultSize:    c.DefaultPageSize,
		UnlimitedBound: c.UnlimitedBound,
	}
}

// Registry loads the schema registry named by SchemaFile.
func (c *Config) Registry() (*schema.Registry, error) {
	if c.SchemaFile == "" {
		return nil, fmt.Errorf("no schema file configured, set CRITERIA_SCHEMA_FILE")
	}
	f, err := os.Open(c.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()
	return schema.LoadRegistry(f)
}
