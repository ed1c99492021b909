// Package cli implements the upcheck command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"upcheck/internal/config"
	"upcheck/internal/history"
	"upcheck/internal/kv"
	"upcheck/internal/memo"
	"upcheck/internal/metrics"
	"upcheck/internal/trace"
)

// app holds the state shared by every command of one process run.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configFile string
	logLevel   string

	cfg     config.Config
	logger  *log.Logger
	metrics *metrics.Metrics
	trace   *trace.Recorder
	db      *kv.Store
}

// Run executes the command line in args (excluding argv[0]) and returns the exit
// code. It never calls os.Exit, so tests can drive it directly.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteContextC(ctx)
	err = errors.Join(err, a.finish(cmd))
	if err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(stderr, msg)
		}
	}
	return ExitCode(err)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "upcheck",
		Short:         "Detect changed inputs and skip work that is up to date",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return invalidInvocationf("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default: ./upcheck.yaml if present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")

	root.AddCommand(
		a.diffCommand(),
		a.digestCommand(),
		a.checkCommand(),
		a.recordCommand(),
		a.historyCommand(),
		a.pipelineCommand(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(config.LoadOptions{File: a.configFile, SearchDir: "."})
	if err != nil {
		return configErrorf("%v", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
		if err := cfg.Validate(); err != nil {
			return invalidInvocationf("--log-level: %v", err)
		}
	}
	a.cfg = cfg
	a.logger = log.NewWithOptions(a.stderr, log.Options{
		Level:  cfg.Level(),
		Prefix: "upcheck",
	})
	a.metrics = metrics.New(nil)
	a.trace = trace.NewRecorder()
	return nil
}

// finish writes the metrics and trace files and releases the database. It runs
// whether or not the command failed.
func (a *app) finish(cmd *cobra.Command) error {
	var errs []error
	if a.metrics != nil {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if a.trace != nil && a.cfg.TraceFile != "" && cmd != nil {
		if err := a.writeTrace(cmd.CommandPath()); err != nil {
			errs = append(errs, fmt.Errorf("write trace: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		a.db = nil
	}
	return errors.Join(errs...)
}

func (a *app) writeTrace(subject string) error {
	data, err := a.trace.Trace(subject).CanonicalJSON()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(a.cfg.TraceFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(a.cfg.TraceFile, append(data, '\n'), 0o644)
}

func (a *app) database() (*kv.Store, error) {
	if a.db != nil {
		return a.db, nil
	}
	cfg := kv.DefaultConfig(a.cfg.DatabaseDir())
	cfg.Logger = a.logger
	cfg.GCInterval = 0
	db, err := kv.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.db = db
	return db, nil
}

func (a *app) historyStore() (history.Store, error) {
	if a.cfg.Store.Backend == config.BackendBadger {
		db, err := a.database()
		if err != nil {
			return nil, err
		}
		return history.NewBadgerStore(db), nil
	}
	return history.NewFileStore(a.cfg.HistoryDir())
}

func (a *app) memoCache() (memo.Cache, error) {
	if a.cfg.Store.Backend == config.BackendBadger {
		db, err := a.database()
		if err != nil {
			return nil, err
		}
		return memo.NewBadgerCache(db), nil
	}
	return memo.NewFileCache(a.cfg.CacheDir()), nil
}

// exactArgs is cobra.ExactArgs reporting through the invalid invocation exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return invalidInvocationf("%s: expected %d argument(s), got %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}
