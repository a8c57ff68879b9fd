// Command backtest replays historical futures data through a strategy and prints one JSON
// report per run.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coachpo/meltica-replay/internal/app/runner"
	"github.com/coachpo/meltica-replay/internal/backtest"
	"github.com/coachpo/meltica-replay/internal/config"
	"github.com/coachpo/meltica-replay/internal/strategy/strategies"
	"github.com/coachpo/meltica-replay/internal/strategy/strategies/js"
	"github.com/coachpo/meltica-replay/internal/telemetry"
)

const (
	defaultEnvFile           = ".env"
	telemetryShutdownTimeout = 5 * time.Second
	meterName                = "meltica-replay/backtest"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("backtest failed")
		cancel()
		os.Exit(1)
	}
}

func newRootCmd(out, logOut io.Writer) *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "backtest",
		Short:         "Deterministic futures event-replay backtests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file loaded before the configuration (ignored when missing)")
	root.AddCommand(newRunCmd(out, logOut), newStrategiesCmd(out))
	return root
}

func loadEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

type runOptions struct {
	configs  []string
	parallel int
	pretty   bool
}

func newRunCmd(out, logOut io.Writer) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run --config backtest.yaml [--config other.yaml]",
		Short: "Run one backtest per configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBacktests(cmd.Context(), out, logOut, opts)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.configs, "config", "c", nil, "backtest configuration file (repeatable)")
	cmd.Flags().IntVarP(&opts.parallel, "parallel", "p", 0, "maximum concurrent runs (0 runs all at once)")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "indent the JSON reports")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runBacktests(ctx context.Context, out, logOut io.Writer, opts runOptions) error {
	cfgs := make([]config.BacktestConfig, 0, len(opts.configs))
	for _, path := range opts.configs {
		cfg, err := config.Load(ctx, path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		cfgs = append(cfgs, cfg)
	}
	if len(cfgs) == 0 {
		return errors.New("at least one --config is required")
	}

	logger, err := newLogger(logOut, cfgs[0])
	if err != nil {
		return err
	}

	provider, err := telemetry.NewProvider(ctx, cfgs[0].TelemetryConfig())
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("telemetry shutdown failed")
		}
	}()
	meter := provider.Meter(meterName)

	registry := strategies.NewRegistry()
	js.Register(registry)
	runs := make([]*runner.Run, 0, len(cfgs))
	jobs := make([]backtest.Job, 0, len(cfgs))
	for i, cfg := range cfgs {
		run, err := runner.Build(runName(opts.configs[i]), cfg,
			runner.WithLogger(logger),
			runner.WithRegistry(registry),
			runner.WithMeter(meter))
		if err != nil {
			return fmt.Errorf("build %s: %w", opts.configs[i], err)
		}
		runs = append(runs, run)
		jobs = append(jobs, run.Job())
	}

	results, batchErr := backtest.RunBatch(ctx, jobs, opts.parallel,
		backtest.WithLogger(logger),
		backtest.WithMeter(meter))

	enc := json.NewEncoder(out)
	if opts.pretty {
		enc.SetIndent("", "  ")
	}
	for i, result := range results {
		if err := enc.Encode(runs[i].Report(result)); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return batchErr
}

func newLogger(out io.Writer, cfg config.BacktestConfig) (*logrus.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}

func runName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func newStrategiesCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the registered strategies and their parameters",
		RunE: func(*cobra.Command, []string) error {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(strategies.NewRegistry().List())
		},
	}
}
