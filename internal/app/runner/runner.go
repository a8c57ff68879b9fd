// Package runner assembles a backtest run from a loaded configuration.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/meltica-replay/errs"
	"github.com/coachpo/meltica-replay/internal/accounting"
	"github.com/coachpo/meltica-replay/internal/backtest"
	"github.com/coachpo/meltica-replay/internal/config"
	"github.com/coachpo/meltica-replay/internal/matching"
	"github.com/coachpo/meltica-replay/internal/replay"
	"github.com/coachpo/meltica-replay/internal/report"
	"github.com/coachpo/meltica-replay/internal/schema"
	"github.com/coachpo/meltica-replay/internal/strategy"
	"github.com/coachpo/meltica-replay/internal/strategy/strategies"
	"github.com/coachpo/meltica-replay/internal/strategy/strategies/js"
)

const component = "runner"

// Option configures optional runner behaviour.
type Option func(*options)

type options struct {
	logger   logrus.FieldLogger
	registry *strategies.Registry
	meter    metric.Meter
	source   replay.Source
}

// WithLogger sets the logger shared by every component of the run.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry resolves strategy names against reg instead of the built-in registry.
func WithRegistry(reg *strategies.Registry) Option {
	return func(o *options) {
		if reg != nil {
			o.registry = reg
		}
	}
}

// WithMeter records executor metrics on meter.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithSource replays src instead of the CSV files named in the configuration.
func WithSource(src replay.Source) Option {
	return func(o *options) {
		o.source = src
	}
}

// Run is one fully wired backtest.
type Run struct {
	name   string
	cfg    config.BacktestConfig
	fn     *strategy.Function
	exec   *backtest.SimulateExecutor
	ledger *accounting.Ledger
}

// Build wires calendar, directory, data source, ledger, matching engine, facade, strategy,
// replay channel and executor from cfg. name labels the run in logs and reports.
func Build(name string, cfg config.BacktestConfig, opts ...Option) (*Run, error) {
	o := options{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.registry == nil {
		o.registry = strategies.NewRegistry()
		js.Register(o.registry)
	}
	if name == "" {
		name = cfg.Strategy.ID
	}
	logger := o.logger.WithFields(logrus.Fields{"run": name, "strategy_id": cfg.Strategy.ID})

	cal, err := cfg.BuildCalendar()
	if err != nil {
		return nil, fmt.Errorf("build calendar: %w", err)
	}
	dir, err := cfg.BuildDirectory(cal)
	if err != nil {
		return nil, fmt.Errorf("build instrument directory: %w", err)
	}
	window, err := cfg.BuildWindow(cal)
	if err != nil {
		return nil, fmt.Errorf("build window: %w", err)
	}
	src := o.source
	if src == nil {
		csvSource, err := cfg.BuildSource()
		if err != nil {
			return nil, fmt.Errorf("build data source: %w", err)
		}
		src = csvSource
	}
	matchOpts, err := cfg.MatchingOptions()
	if err != nil {
		return nil, err
	}

	ledger := accounting.NewLedger(dir, accounting.WithLogger(logger))
	engine := matching.NewEngine(append(matchOpts,
		matching.WithLogger(logger),
		matching.WithNamespace(uuid.NewSHA1(uuid.NameSpaceOID, []byte(cfg.Strategy.ID))),
	)...)

	fn, err := strategy.NewFunction(strategy.FunctionConfig{
		StrategyID:  cfg.Strategy.ID,
		AccountID:   cfg.Strategy.AccountID,
		ProductCode: cfg.Strategy.ProductCode,
		Drive:       cfg.DriveSpec(),
		Instruments: append([]string(nil), cfg.Replay.Instruments...),
		Window:      window,
		FundBalance: cfg.Fund(),
		Mode:        cfg.StrategyMode(),
		Params:      cfg.Strategy.Params,
		Calendar:    cal,
		Directory:   dir,
		Accounting:  ledger,
		Matching:    engine,
		Reports:     report.NewBuilder(),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	strat, err := o.registry.New(cfg.StrategyRef(), fn, cfg.Strategy.Params)
	if err != nil {
		return nil, errs.New(component, errs.CodeInvalid,
			errs.WithMessage("unknown strategy"),
			errs.WithField("strategy", cfg.Strategy.Name),
			errs.WithCause(err))
	}

	channel, err := replay.NewChannel(cfg.ReplayConfig(window), src, cal,
		replay.WithDirectory(dir),
		replay.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("build replay channel: %w", err)
	}

	execOpts := []backtest.Option{backtest.WithLogger(logger)}
	if o.meter != nil {
		execOpts = append(execOpts, backtest.WithMeter(o.meter))
	}
	exec, err := backtest.NewSimulateExecutor(backtest.Config{
		Function:   fn,
		Strategy:   strat,
		Accounting: ledger,
		Matching:   engine,
		Channel:    channel,
	}, execOpts...)
	if err != nil {
		return nil, err
	}

	return &Run{name: name, cfg: cfg, fn: fn, exec: exec, ledger: ledger}, nil
}

// Name returns the run label.
func (r *Run) Name() string { return r.name }

// Run replays the configured window.
func (r *Run) Run(ctx context.Context) error { return r.exec.Run(ctx) }

// Summary returns the summary once the run has ended.
func (r *Run) Summary() (schema.Summary, bool) { return r.exec.Summary() }

// Provenance lists the facade construction parameters.
func (r *Run) Provenance() []schema.Param { return r.fn.Provenance() }

// Ledger exposes the accounting ledger of the run.
func (r *Run) Ledger() *accounting.Ledger { return r.ledger }

// Job wraps the run for backtest.RunBatch.
func (r *Run) Job() backtest.Job { return backtest.Job{Name: r.name, Runner: r} }

// Report is the document printed for each finished run.
type Report struct {
	Name       string          `json:"name"`
	StrategyID string          `json:"strategy_id"`
	Strategy   string          `json:"strategy"`
	Summary    *schema.Summary `json:"summary,omitempty"`
	Provenance []schema.Param  `json:"provenance"`
	Trades     int             `json:"trades"`
	Elapsed    string          `json:"elapsed"`
	Error      string          `json:"error,omitempty"`
}

// Report builds the output document from the batch result of this run.
func (r *Run) Report(result backtest.Result) Report {
	out := Report{
		Name:       r.name,
		StrategyID: r.cfg.Strategy.ID,
		Strategy:   r.cfg.Strategy.Name,
		Provenance: r.Provenance(),
		Trades:     len(r.ledger.AllFutureTrades()),
		Elapsed:    result.Elapsed.Round(time.Millisecond).String(),
	}
	if result.Err != nil {
		out.Error = result.Err.Error()
		return out
	}
	if summary, ok := r.Summary(); ok {
		out.Summary = &summary
	}
	return out
}
