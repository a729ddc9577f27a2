package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/ctedash/internal/app"
	"github.com/JonMunkholm/ctedash/internal/config"
	"github.com/JonMunkholm/ctedash/internal/core"
	"github.com/JonMunkholm/ctedash/internal/cte"
	"github.com/JonMunkholm/ctedash/internal/logging"
)

type importOptions struct {
	mode         string
	merge        string
	rowIsolation bool
	isolationSet bool
	dryRun       bool
	parallel     int
	store        string
	origin       string
	envFile      string
}

func newRootCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:           "cteimport [flags] FILE...",
		Short:         "Import CT-e spreadsheets (CSV or XLSX)",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.isolationSet = cmd.Flags().Changed("row-isolation")
			return runImport(cmd.Context(), opts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", "", "INSERT_ONLY, UPDATE_ONLY or UPSERT (default: INGEST_DEFAULT_MODE)")
	cmd.Flags().StringVar(&opts.merge, "merge", "", "overwrite or fill_empty (default: overwrite)")
	cmd.Flags().BoolVar(&opts.rowIsolation, "row-isolation", false, "Reject failing rows individually instead of aborting the batch (default: INGEST_ROW_ISOLATION)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Run every batch and roll it back")
	cmd.Flags().IntVar(&opts.parallel, "parallel", 2, "Number of files imported at once")
	cmd.Flags().StringVar(&opts.store, "store", "", "Store driver: postgres or memory (default: STORE_DRIVER)")
	cmd.Flags().StringVar(&opts.origin, "origin", "", "origem_dados written on insert (default: <INGEST_ORIGIN_PREFIX>:<batch id>)")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded when present")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if opts.mode != "" {
			if _, err := core.ParseMode(opts.mode); err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --mode: %w", err))
			}
		}
		if _, err := cte.ParseMergePolicy(opts.merge); err != nil {
			return withCode(exitUsage, fmt.Errorf("invalid --merge: %w", err))
		}
		if opts.parallel < 1 {
			return withCode(exitUsage, fmt.Errorf("invalid --parallel %d: must be at least 1", opts.parallel))
		}
		switch opts.store {
		case "", config.DriverPostgres, config.DriverMemory:
		default:
			return withCode(exitUsage, fmt.Errorf("invalid --store %q", opts.store))
		}
		return nil
	}

	return cmd
}

// fileResult is one line of output.
type fileResult struct {
	File   string       `json:"file"`
	Report *core.Report `json:"report,omitempty"`
	Error  string       `json:"error,omitempty"`
}

func (r fileResult) ok() bool {
	return r.Error == "" && r.Report != nil && r.Report.Status == core.StatusCompleted
}

func runImport(ctx context.Context, opts importOptions, files []string, stdout, stderr io.Writer) error {
	// Existing environment wins over the env file.
	if err := godotenv.Load(opts.envFile); err != nil && !os.IsNotExist(err) {
		return withCode(exitSetup, fmt.Errorf("load %s: %w", opts.envFile, err))
	}
	if opts.store != "" {
		os.Setenv("STORE_DRIVER", opts.store)
	}

	cfg, err := config.Load()
	if err != nil {
		return withCode(exitSetup, err)
	}
	slog.SetDefault(logging.New(stderr, cfg.Logging.Level, cfg.Logging.Format))

	// The CLI owns the process; batches wait for each other instead of
	// failing with too many concurrent batches.
	cfg.Upload.MaxConcurrent = opts.parallel
	cfg.Upload.MaxWaitTime = cfg.Upload.Timeout

	st, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return withCode(exitSetup, err)
	}
	defer closeStore()

	svc := app.NewService(st, cfg, nil)
	batchOpts := core.Options{
		Mode:         core.Mode(opts.mode),
		Merge:        cte.MergePolicy(opts.merge),
		RowIsolation: cfg.Ingest.RowIsolation,
		DryRun:       opts.dryRun,
		Origin:       opts.origin,
	}
	if opts.isolationSet {
		batchOpts.RowIsolation = opts.rowIsolation
	}

	results := make([]fileResult, len(files))
	var g errgroup.Group
	g.SetLimit(opts.parallel)
	for i, path := range files {
		g.Go(func() error {
			results[i] = importFile(ctx, svc, path, batchOpts)
			return nil
		})
	}
	_ = g.Wait()

	enc := json.NewEncoder(stdout)
	failed := 0
	for _, r := range results {
		if !r.ok() {
			failed++
		}
		if err := enc.Encode(r); err != nil {
			return withCode(exitSetup, fmt.Errorf("write report: %w", err))
		}
	}

	slog.Info("import finished", "files", len(files), "failed", failed)
	if failed > 0 {
		return withCode(exitFailed, fmt.Errorf("%d of %d files did not complete", failed, len(files)))
	}
	return nil
}

func importFile(ctx context.Context, svc *core.Service, path string, opts core.Options) fileResult {
	res := fileResult{File: path}

	f, err := os.Open(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	up := core.Upload{
		Body:     f,
		FileName: filepath.Base(path),
	}

	rep, err := svc.Ingest(ctx, up, opts)
	if err != nil {
		res.Error = core.FormatUserError(err)
		slog.Warn("file not imported",
			"ext", strings.ToLower(filepath.Ext(path)),
			"error", err,
		)
		return res
	}
	res.Report = rep
	return res
}
