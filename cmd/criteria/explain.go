package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/kenny-nguyen-softdev/go-criteria/core/persistence"
	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/mongodb"
	"github.com/kenny-nguyen-softdev/go-criteria/postgres"
	"github.com/kenny-nguyen-softdev/go-criteria/sqlite"
	"github.com/kenny-nguyen-softdev/go-criteria/sqlstore"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const dialectMongo = "mongodb"

type explainOptions struct {
	*rootOptions
	Collection string
	Filter     string
	Sort       string
	Include    string
	Page       string
	Size       string
	Dialect    string
}

// explanation is what explain prints. SQL dialects fill Statement and Params,
// the document store fills Filter and Sort.
type explanation struct {
	Dialect   string          `json:"dialect"`
	Statement string          `json:"statement,omitempty"`
	Params    []any           `json:"params,omitempty"`
	Filter    json.RawMessage `json:"filter,omitempty"`
	Sort      json.RawMessage `json:"sort,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
	Relations []string        `json:"relations,omitempty"`
}

func newExplainCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &explainOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Print the query a listing request compiles to",
		Long: `Compile the listing parameters of one collection into the statement the
configured store would run for the page, without touching any store.

Example:
  criteria explain --collection products --filter 'price:gte:10&&price:lte:20' --dialect postgres`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.Collection, "collection", "c", "", "collection to query")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter expression, e.g. 'age:gte:18&&name:like:jo'")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "sort expression, e.g. 'name:asc'")
	cmd.Flags().StringVar(&opts.Include, "include", "", "relations to load, e.g. 'company|posts'")
	cmd.Flags().StringVar(&opts.Page, "page", "", "page number")
	cmd.Flags().StringVar(&opts.Size, "size", "", "page size or 'unlimited'")
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "", "sqlite, postgres or mongodb (default: CRITERIA_DRIVER)")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func runExplain(opts *explainOptions, out io.Writer) error {
	registry, err := opts.cfg.Registry()
	if err != nil {
		return err
	}
	sc, err := registry.Schema(opts.Collection)
	if err != nil {
		return err
	}

	req, err := parseListing(opts)
	if err != nil {
		return err
	}
	findOpts, err := persistence.PageOptions(sc, req)
	if err != nil {
		return err
	}

	dialect := strings.ToLower(opts.Dialect)
	if dialect == "" {
		dialect = opts.cfg.Driver
	}
	ex := explanation{Dialect: dialect, Relations: findOpts.Relations.Paths()}

	switch dialect {
	case "sqlite", "postgres":
		var d sqlstore.Dialect = sqlite.Dialect{}
		if dialect == "postgres" {
			d = postgres.Dialect{}
		}
		ex.Statement, ex.Params, err = sqlstore.NewCompiler(d, registry).Select(opts.Collection, findOpts)
		if err != nil {
			return err
		}
	case dialectMongo:
		filter, err := mongodb.CompileWhere(sc, findOpts.Where)
		if err != nil {
			return err
		}
		sort, err := mongodb.CompileSort(findOpts.Order)
		if err != nil {
			return err
		}
		if ex.Filter, err = bson.MarshalExtJSON(filter, false, false); err != nil {
			return err
		}
		if ex.Sort, err = bson.MarshalExtJSON(sort, false, false); err != nil {
			return err
		}
		ex.Limit, ex.Offset = findOpts.Limit, findOpts.Offset
	default:
		return fmt.Errorf("unsupported dialect %q", dialect)
	}

	opts.logger.Debug("Explained query", zap.String("collection", opts.Collection), zap.String("dialect", dialect))
	return writeExplanation(out, opts.Format, ex)
}

func parseListing(opts *explainOptions) (persistence.PaginateRequest, error) {
	filters, err := query.ParseFilters(opts.Filter)
	if err != nil {
		return persistence.PaginateRequest{}, err
	}
	sorts, err := query.ParseSorts(opts.Sort)
	if err != nil {
		return persistence.PaginateRequest{}, err
	}
	include, err := query.ParseIncludes(opts.Include)
	if err != nil {
		return persistence.PaginateRequest{}, err
	}
	pagination, err := query.ParsePagination(opts.Page, opts.Size, opts.cfg.Pagination())
	if err != nil {
		return persistence.PaginateRequest{}, err
	}
	return persistence.PaginateRequest{
		Pagination: pagination,
		Criteria:   query.Criteria{Filters: filters, Sorts: sorts, Include: include},
	}, nil
}

func writeExplanation(out io.Writer, format string, ex explanation) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ex)
	}

	fmt.Fprintf(out, "dialect:   %s\n", ex.Dialect)
	if ex.Statement != "" {
		fmt.Fprintf(out, "statement: %s\n", ex.Statement)
		fmt.Fprintf(out, "params:    %v\n", ex.Params)
	} else {
		fmt.Fprintf(out, "filter:    %s\n", ex.Filter)
		fmt.Fprintf(out, "sort:      %s\n", ex.Sort)
		fmt.Fprintf(out, "limit:     %d\n", ex.Limit)
		fmt.Fprintf(out, "offset:    %d\n", ex.Offset)
	}
	if len(ex.Relations) > 0 {
		fmt.Fprintf(out, "relations: %s\n", strings.Join(ex.Relations, ", "))
	}
	return nil
}
