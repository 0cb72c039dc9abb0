package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"longitudinal/internal/blob"
	"longitudinal/internal/config"
	"longitudinal/internal/metrics"
	"longitudinal/internal/mixed/rscript"
	"longitudinal/internal/persistence"
	"longitudinal/internal/pipeline"
	"longitudinal/internal/report"
)

// app carries state from the root's pre-run hook to the subcommands.
type app struct {
	stdout, stderr io.Writer

	configPath string
	verbose    bool

	cfg *config.Config
	log *zap.Logger
}

// inputFlags are shared by run and reshape.
type inputFlags struct {
	input    string
	blobKey  string
	unmapped string
	comment  string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.input, "input", "", "wide dataset path (overrides input.path)")
	cmd.Flags().StringVar(&f.blobKey, "blob-key", "", "read the wide dataset from this blob key")
	cmd.Flags().StringVar(&f.unmapped, "unmapped", "", "unmapped occasion policy: strict or null")
	cmd.Flags().StringVar(&f.comment, "comment", "", "skip input lines starting with this character")
}

func (f *inputFlags) apply(cfg *config.Config) error {
	if f.input != "" {
		cfg.Input.Path = f.input
		cfg.Input.BlobKey = ""
	}
	if f.blobKey != "" {
		cfg.Input.BlobKey = f.blobKey
	}
	if f.unmapped != "" {
		cfg.Unmapped = f.unmapped
	}
	if f.comment != "" {
		cfg.Input.Comment = f.comment
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "longitudinal",
		Short:         "Person-period reshaping and mixed-model growth analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log, err = newLogger(cfg.Log, a.verbose, a.stderr)
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })
	root.PersistentFlags().StringVar(&a.configPath, "config", "longitudinal.yaml", "configuration file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(a.runCmd(), a.reshapeCmd(), a.runsCmd())
	return root
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError{err}
	}
	return nil
}

// newLogger builds a production zap logger writing JSON to w.
func newLogger(cfg config.LogConfig, verbose bool, w io.Writer) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	enc := zapcore.NewJSONEncoder(zc.EncoderConfig)
	if cfg.Development {
		enc = zapcore.NewConsoleEncoder(zc.EncoderConfig)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), zc.Level)
	return zap.New(core, zap.AddCaller()), nil
}

func (a *app) pipelineOptions() (pipeline.Options, error) {
	lopts, err := a.cfg.LoaderOptions()
	if err != nil {
		return pipeline.Options{}, err
	}
	policy, err := a.cfg.Policy()
	if err != nil {
		return pipeline.Options{}, err
	}
	models, err := a.cfg.ModelSpecs()
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Input: pipeline.Input{
			Path:    a.cfg.Input.Path,
			BlobKey: a.cfg.Input.BlobKey,
			Loader:  lopts,
		},
		Schema:  a.cfg.Schema,
		Policy:  policy,
		Models:  models,
		Compare: a.cfg.Compare,
	}, nil
}

func (a *app) openBlob(ctx context.Context) (blob.Store, error) {
	return blob.Open(ctx, blob.Config{Driver: a.cfg.Blob.Driver, Root: a.cfg.Blob.Root, S3: a.cfg.Blob.S3})
}

func (a *app) runCmd() *cobra.Command {
	var flags inputFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full analysis and write the report",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flags.apply(a.cfg); err != nil {
				return err
			}
			opts, err := a.pipelineOptions()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			artifacts, err := a.openBlob(ctx)
			if err != nil {
				return err
			}
			store, err := persistence.Open(ctx, a.cfg.Store.Driver, a.cfg.Store.DSN)
			if err != nil {
				return err
			}
			if store != nil {
				defer func() { _ = store.Close() }()
			}
			rec := metrics.New()
			p := pipeline.New(pipeline.Deps{
				Fitter: rscript.New(rscript.Config{
					Rscript: a.cfg.Fitter.Rscript,
					Timeout: a.cfg.Fitter.Timeout.Duration,
					WorkDir: a.cfg.Fitter.WorkDir,
				}, a.log.Named("rscript")),
				Blob:    artifacts,
				Store:   store,
				Metrics: rec,
				Log:     a.log.Named("pipeline"),
			})
			res, runErr := p.Run(ctx, opts)
			pushID := ""
			if res != nil {
				pushID = res.RunID
			}
			if err := rec.Push(ctx, a.cfg.Metrics.Pushgateway, a.cfg.Metrics.Job, pushID); err != nil {
				a.log.Warn("metrics push failed", zap.Error(err))
			}
			if runErr != nil {
				return runErr
			}
			fmt.Fprint(a.stdout, res.Report)
			fmt.Fprintf(a.stdout, "\nrun %s\n", res.RunID)
			for _, key := range res.Artifacts {
				fmt.Fprintf(a.stdout, "  %s\n", key)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *app) reshapeCmd() *cobra.Command {
	var (
		flags  inputFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "reshape",
		Short: "Write the recoded person-period table as CSV",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) (retErr error) {
			if err := flags.apply(a.cfg); err != nil {
				return err
			}
			opts, err := a.pipelineOptions()
			if err != nil {
				return err
			}
			deps := pipeline.Deps{Log: a.log.Named("pipeline")}
			if opts.Input.BlobKey != "" {
				if deps.Blob, err = a.openBlob(cmd.Context()); err != nil {
					return err
				}
			}
			res, err := pipeline.New(deps).Reshape(cmd.Context(), opts)
			if err != nil {
				return err
			}
			w := a.stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer func() {
					if cerr := f.Close(); cerr != nil && retErr == nil {
						retErr = fmt.Errorf("close output: %w", cerr)
					}
				}()
				w = f
			}
			if err := res.Long.WriteCSV(w); err != nil {
				return fmt.Errorf("write person-period table: %w", err)
			}
			a.log.Info("reshaped", zap.Int("subjects", res.Long.Subjects()), zap.Int("rows", res.Long.Len()),
				zap.Int("missing_outcomes", res.Long.MissingOutcomes()), zap.Int("unmapped", res.Unmapped))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write CSV here instead of stdout")
	return cmd
}

// openStore opens the configured run store, failing when none is configured.
func (a *app) openStore(ctx context.Context) (persistence.Store, error) {
	store, err := persistence.Open(ctx, a.cfg.Store.Driver, a.cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("no run store configured (store.driver is %q)", a.cfg.Store.Driver)
	}
	return store, nil
}

func (a *app) runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded in the run store",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			runs, err := store.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.ID, r.CreatedAt.Format(time.RFC3339), r.Source,
					strconv.Itoa(r.Subjects), strconv.Itoa(r.Rows), strconv.Itoa(r.Missing),
				})
			}
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("RUN", "CREATED", "SOURCE", "SUBJECTS", "ROWS", "MISSING").
				Rows(rows...)
			fmt.Fprintln(a.stdout, t.String())
			return nil
		},
	}
	cmd.AddCommand(a.runsShowCmd())
	return cmd
}

func (a *app) runsShowCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Re-render the report of a recorded run and list its artifacts",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) (retErr error) {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			rec, err := store.LoadRun(ctx, args[0])
			if err != nil {
				return err
			}
			summary := report.NewSummary(rec.Run.ID, rec.Run.Source, rec.Data, rec.Fits, rec.Comparison)
			if err := report.Write(a.stdout, summary); err != nil {
				return fmt.Errorf("write report: %w", err)
			}

			artifacts, err := a.openBlob(ctx)
			if err != nil {
				return err
			}
			infos, err := artifacts.List(ctx, pipeline.ArtifactKey(rec.Run.ID, "")+"/")
			if err != nil {
				return fmt.Errorf("list artifacts: %w", err)
			}
			fmt.Fprintf(a.stdout, "\nrun %s (%s)\n", rec.Run.ID, rec.Run.CreatedAt.Format(time.RFC3339))
			for _, info := range infos {
				fmt.Fprintf(a.stdout, "  %s (%d bytes)\n", info.Key, info.Size)
			}

			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer func() {
					if cerr := f.Close(); cerr != nil && retErr == nil {
						retErr = fmt.Errorf("close output: %w", cerr)
					}
				}()
				if err := rec.Data.WriteCSV(f); err != nil {
					return fmt.Errorf("write person-period table: %w", err)
				}
			}
			a.log.Info("run loaded", zap.String("run_id", rec.Run.ID), zap.Int("rows", rec.Data.Len()), zap.Int("fits", len(rec.Fits)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "also write the stored person-period table as CSV")
	return cmd
}
