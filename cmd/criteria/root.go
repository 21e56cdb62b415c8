package main

import (
	"fmt"
	"slices"

	"github.com/kenny-nguyen-softdev/go-criteria/config"
	"github.com/kenny-nguyen-softdev/go-criteria/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// validFormats are the accepted values of --format.
var validFormats = []string{"text", "json"}

// rootOptions holds the global flags and what PersistentPreRunE derives from
// them.
type rootOptions struct {
	Format     string
	SchemaFile string
	LogLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "criteria",
		Short: "Compile and serve criteria queries",
		Long: `criteria turns filter, sort, include and pagination expressions into
store queries. It can print the statement a listing request compiles to, or
serve registered collections over HTTP.

Configuration is read from CRITERIA_* environment variables; flags override it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			if opts.SchemaFile != "" {
				cfg.SchemaFile = opts.SchemaFile
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
			if err != nil {
				return err
			}
			opts.cfg, opts.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.SchemaFile, "schema", "", "registry file (YAML or JSON), overrides CRITERIA_SCHEMA_FILE")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level, overrides CRITERIA_LOG_LEVEL")

	cmd.AddCommand(newExplainCommand(opts))
	cmd.AddCommand(newServeCommand(opts))

	return cmd
}
