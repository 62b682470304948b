package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/hatdata/internal/engine"
	"github.com/roach88/hatdata/internal/registry"
	"github.com/roach88/hatdata/internal/repository"
	"github.com/roach88/hatdata/internal/schema"
	"github.com/roach88/hatdata/internal/storage"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Local     string
	Remote    string
	Watch     bool
	SyncRate  string
	RetryRate string
}

// SyncResult is the payload reported after a one-shot sync.
type SyncResult struct {
	Schema   string    `json:"schema"`
	Mode     string    `json:"mode"`
	Records  int       `json:"records"`
	LastSync time.Time `json:"last_sync"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync <schema.yaml>",
		Short: "Mirror a remote repository into a local one",
		Long: `Run a local-mirror sync for one schema: pending local changes are
pushed to the remote, then the local store is replaced with the remote's
records.

The remote is a SQLite file or an s3://bucket/prefix target (region and
endpoint from HATDATA_S3_REGION / HATDATA_S3_ENDPOINT). With --watch the
scheduler keeps syncing at --sync-rate, retrying failures at --retry-rate,
until interrupted.

Example:
  hatdata sync --local ./local.db --remote ./remote.db ./customers.yaml
  hatdata sync --local ./local.db --remote s3://acme/hatdata --watch ./customers.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args[0], cmd)
		},
	}

	defaults := engine.DefaultConfig()
	cmd.Flags().StringVar(&opts.Local, "local", "", "path to the local SQLite database (required)")
	cmd.Flags().StringVar(&opts.Remote, "remote", "", "remote SQLite database or s3:// target (required)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep syncing until interrupted")
	cmd.Flags().StringVar(&opts.SyncRate, "sync-rate", defaults.SyncRate, "offset between successful syncs")
	cmd.Flags().StringVar(&opts.RetryRate, "retry-rate", defaults.RetryRate, "offset before retrying a failed sync")
	_ = cmd.MarkFlagRequired("local")
	_ = cmd.MarkFlagRequired("remote")

	return cmd
}

// mediumFactory opens the local or remote target for every schema.
func mediumFactory(target string) registry.AdapterFactory {
	return func(ctx context.Context, _ *schema.Schema) (storage.Adapter, error) {
		return openMedium(ctx, target)
	}
}

func runSync(opts *SyncOptions, schemaPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := formatter.Logger()

	s, err := loadSchema(formatter, schemaPath)
	if err != nil {
		return err
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	local, err := openRepository(ctx, s, opts.Local, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStorage, "failed to open local storage", err)
	}
	remote, err := openRepository(ctx, s, opts.Remote, logger)
	if err != nil {
		_ = local.Destroy()
		return formatter.Fail(ExitCommandError, ErrCodeStorage, "failed to open remote storage", err)
	}

	eng, err := engine.New(local, remote,
		engine.WithConfig(engine.Config{
			Mode:      engine.ModeLocalMirror,
			SyncRate:  opts.SyncRate,
			RetryRate: opts.RetryRate,
			AutoSync:  opts.Watch,
			IsOnline:  true,
		}),
		engine.WithLogger(logger),
	)
	if err != nil {
		_ = local.Destroy()
		_ = remote.Destroy()
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "invalid sync configuration", err)
	}
	defer func() {
		if err := eng.Destroy(); err != nil {
			logger.Error("error closing storage", "error", err)
		}
	}()

	if err := local.Load(ctx); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStorage, "failed to load local records", err)
	}

	if opts.Watch {
		return watch(ctx, cancel, eng, formatter)
	}

	if err := eng.Sync(ctx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSync, "sync failed", err)
	}
	if lastErr := eng.LastError(); lastErr != nil {
		return formatter.Fail(ExitFailure, ErrCodeSync, "sync failed", lastErr)
	}
	result := SyncResult{
		Schema:   s.Name,
		Mode:     eng.Mode().String(),
		Records:  local.Len(),
		LastSync: eng.LastSync(),
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s synced: %s record(s)\n", s.Name, humanize.Comma(int64(result.Records)))
	return nil
}

// openRepository builds the schema's repository on target through a
// single-schema registry factory.
func openRepository(ctx context.Context, s *schema.Schema, target string, logger *slog.Logger) (*repository.Repository, error) {
	reg := registry.New(
		registry.WithAdapterFactory(mediumFactory(target)),
		registry.WithLogger(logger),
	)
	if err := reg.AddSchema(s); err != nil {
		return nil, err
	}
	return reg.CreateRepository(ctx, s.Name)
}

// watch runs the auto-sync loop until a signal or cancellation.
func watch(ctx context.Context, cancel context.CancelFunc, eng *engine.Engine, formatter *OutputFormatter) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			formatter.VerboseLog("received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := eng.StartAutoSync(ctx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSync, "sync failed", err)
	}
	fmt.Fprintf(formatter.Writer, "Watching. Next sync %s. Press Ctrl-C to stop.\n",
		humanize.RelTime(time.Now(), eng.NextSync(), "ago", "from now"))

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "sync loop error", err)
	}
	return nil
}
