package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/hatdata/internal/repository"
	"github.com/roach88/hatdata/internal/schema"
	"github.com/roach88/hatdata/internal/storage"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Page     int
	PageSize int
	SortBy   string
	Desc     bool
}

// InspectResult is the JSON payload of the inspect command.
type InspectResult struct {
	Schema  string               `json:"schema"`
	Total   int                  `json:"total"`
	Page    *repository.PageInfo `json:"page,omitempty"`
	Records []map[string]any     `json:"records"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <schema.yaml>",
		Short: "List the records stored for a schema",
		Long: `Load a schema's repository from a SQLite file (or s3:// target) and
list its records. Text output shows display values; JSON output shows
submit values.

Example:
  hatdata inspect --db ./local.db ./schemas/customers.yaml
  hatdata inspect --db ./local.db --sort name --page-size 20 --page 2 ./customers.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database or s3:// target (required)")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page to show when paginating")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "records per page (0 shows all)")
	cmd.Flags().StringVar(&opts.SortBy, "sort", "", "property to sort by")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "sort descending")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runInspect(opts *InspectOptions, schemaPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := loadSchema(formatter, schemaPath)
	if err != nil {
		return err
	}
	if !isRemoteTarget(opts.Database) {
		if _, err := os.Stat(opts.Database); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.Database), nil)
		}
	}

	adapter, err := openMedium(ctx, opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStorage, "failed to open storage", err)
	}
	repo, err := repository.New(s, repository.WithAdapter(adapter), repository.WithLogger(formatter.Logger()))
	if err != nil {
		_ = storage.Close(adapter)
		return formatter.Fail(ExitCommandError, ErrCodeInvalidSchema, "failed to create repository", err)
	}
	defer repo.Destroy()

	if err := repo.Load(ctx); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStorage, "failed to load records", err)
	}
	formatter.VerboseLog("Loaded %s record(s) from %s", humanize.Comma(int64(repo.Len())), opts.Database)

	if opts.SortBy != "" {
		if _, ok := s.Property(opts.SortBy); !ok {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("unknown property %q", opts.SortBy), nil)
		}
		dir := schema.DirectionAsc
		if opts.Desc {
			dir = schema.DirectionDesc
		}
		repo.Sort(opts.SortBy, dir)
	}
	if opts.PageSize > 0 {
		repo.SetPageSize(opts.PageSize)
		repo.SetPage(opts.Page)
	}

	entities := repo.GetEntities()
	if formatter.IsJSON() {
		result := InspectResult{Schema: s.Name, Total: repo.Len(), Records: make([]map[string]any, 0, len(entities))}
		if repo.IsPaginated() {
			info := repo.PageInfo()
			result.Page = &info
		}
		for _, e := range entities {
			result.Records = append(result.Records, e.GetSubmitValues())
		}
		return formatter.Success(result)
	}

	w := formatter.Writer
	if repo.IsPaginated() {
		info := repo.PageInfo()
		fmt.Fprintf(w, "%s: %s record(s), page %d of %d\n", s.Name, humanize.Comma(int64(info.Total)), info.Page, info.TotalPages)
	} else {
		fmt.Fprintf(w, "%s: %s record(s)\n", s.Name, humanize.Comma(int64(repo.Len())))
	}
	names := s.PropertyNames()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	writeRow(tw, names, func(name string) any { return name })
	for _, e := range entities {
		values := e.GetDisplayValues()
		writeRow(tw, names, func(name string) any { return values[name] })
	}
	return tw.Flush()
}

func writeRow(w io.Writer, names []string, cell func(string) any) {
	for i, name := range names {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		v := cell(name)
		if v == nil {
			v = ""
		}
		fmt.Fprint(w, v)
	}
	fmt.Fprintln(w)
}

func isRemoteTarget(target string) bool {
	return strings.HasPrefix(target, "s3://")
}

// loadSchema reads one schema file, reporting failures through formatter.
func loadSchema(formatter *OutputFormatter, path string) (*schema.Schema, error) {
	s, err := schema.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("schema file not found: %s", path), nil)
	}
	if err != nil {
		return nil, formatter.Fail(ExitFailure, ErrCodeInvalidSchema, "invalid schema", err)
	}
	return s, nil
}
