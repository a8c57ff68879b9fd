// Package config loads and validates backtest run configuration from YAML.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/coachpo/meltica-replay/errs"
	"github.com/coachpo/meltica-replay/internal/replay"
	"github.com/coachpo/meltica-replay/internal/schema"
	"github.com/coachpo/meltica-replay/internal/strategy"
)

const component = "config"

// StrategyConfig identifies the strategy under test.
type StrategyConfig struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	AccountID   string         `yaml:"accountId"`
	ProductCode string         `yaml:"productCode"`
	Mode        string         `yaml:"mode"`
	Params      map[string]any `yaml:"params"`
}

// WindowConfig bounds the replay. Dates use YYYY-MM-DD.
type WindowConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// DriveConfig names the instrument that drives the replay.
type DriveConfig struct {
	Instrument  string `yaml:"instrument"`
	BarInterval int    `yaml:"barInterval"`
	BarType     string `yaml:"barType"`
}

// ReplayConfig selects the replayed stream and the instruments that ride along.
type ReplayConfig struct {
	Mode          string   `yaml:"mode"`
	Instruments   []string `yaml:"instruments"`
	SplitSessions bool     `yaml:"splitSessions"`
}

// DataConfig lists the historical CSV files.
type DataConfig struct {
	Ticks    []string `yaml:"ticks"`
	Bars     []string `yaml:"bars"`
	Timezone string   `yaml:"timezone"`
}

// CalendarConfig enumerates trading days.
type CalendarConfig struct {
	TradingDays []string `yaml:"tradingDays"`
}

// SessionConfig holds HH:MM session clock times.
type SessionConfig struct {
	NightOpen  string `yaml:"nightOpen"`
	NightClose string `yaml:"nightClose"`
	DayAMOpen  string `yaml:"dayAMOpen"`
	DayAMClose string `yaml:"dayAMClose"`
	DayPMOpen  string `yaml:"dayPMOpen"`
	DayPMClose string `yaml:"dayPMClose"`
}

// InstrumentConfig describes one contract of the instrument directory.
type InstrumentConfig struct {
	ID             string        `yaml:"id"`
	ProductCode    string        `yaml:"productCode"`
	Multiplier     string        `yaml:"multiplier"`
	MarginRate     string        `yaml:"marginRate"`
	PriceTick      string        `yaml:"priceTick"`
	NightSession   bool          `yaml:"nightSession"`
	Sessions       SessionConfig `yaml:"sessions"`
	NoNightSession []string      `yaml:"noNightSession"`
}

// FeeConfig selects the commission model: none, proportional (rate) or per_lot (amount).
type FeeConfig struct {
	Type   string `yaml:"type"`
	Rate   string `yaml:"rate"`
	Amount string `yaml:"amount"`
}

// MatchingConfig tunes the simulated exchange.
type MatchingConfig struct {
	Fee         FeeConfig `yaml:"fee"`
	SlippageBPS string    `yaml:"slippageBps"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	OTLPInsecure bool   `yaml:"otlpInsecure"`
	ServiceName  string `yaml:"serviceName"`
}

// BacktestConfig is one backtest run sourced from YAML.
type BacktestConfig struct {
	LogLevel    string             `yaml:"logLevel"`
	Strategy    StrategyConfig     `yaml:"strategy"`
	FundBalance string             `yaml:"fundBalance"`
	Window      WindowConfig       `yaml:"window"`
	Drive       DriveConfig        `yaml:"drive"`
	Replay      ReplayConfig       `yaml:"replay"`
	Data        DataConfig         `yaml:"data"`
	Calendar    CalendarConfig     `yaml:"calendar"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Matching    MatchingConfig     `yaml:"matching"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`

	// dir resolves relative data paths against the config file.
	dir string
}

// Load reads and validates a BacktestConfig from the provided YAML file. Environment overrides
// are applied before validation.
func Load(ctx context.Context, configPath string) (BacktestConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return BacktestConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return BacktestConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(bytes)
	if err != nil {
		return BacktestConfig{}, err
	}
	cfg.dir = filepath.Dir(filepath.Clean(strings.TrimSpace(configPath)))
	cfg.ApplyEnv()
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return BacktestConfig{}, err
	}
	return cfg, nil
}

// Parse unmarshals YAML into a BacktestConfig without validating it.
func Parse(data []byte) (BacktestConfig, error) {
	var cfg BacktestConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return BacktestConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalise()
	return cfg, nil
}

// normaliseStrategyName lowercases built-in names and the scheme of "scheme:ref" names,
// leaving refs such as script paths untouched.
func normaliseStrategyName(name string) string {
	name = strings.TrimSpace(name)
	if scheme, ref, ok := strings.Cut(name, ":"); ok {
		return strings.ToLower(strings.TrimSpace(scheme)) + ":" + strings.TrimSpace(ref)
	}
	return strings.ToLower(name)
}

func (c *BacktestConfig) normalise() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Strategy.ID = strings.TrimSpace(c.Strategy.ID)
	c.Strategy.Name = normaliseStrategyName(c.Strategy.Name)
	if c.Strategy.Name == "" {
		c.Strategy.Name = "noop"
	}
	c.Strategy.AccountID = strings.TrimSpace(c.Strategy.AccountID)
	c.Strategy.ProductCode = strings.TrimSpace(c.Strategy.ProductCode)
	c.Strategy.Mode = strings.ToLower(strings.TrimSpace(c.Strategy.Mode))
	if c.Strategy.Mode == "" {
		c.Strategy.Mode = string(strategy.ModeSimulate)
	}
	c.FundBalance = strings.TrimSpace(c.FundBalance)
	c.Window.Start = strings.TrimSpace(c.Window.Start)
	c.Window.End = strings.TrimSpace(c.Window.End)

	c.Drive.Instrument = strings.TrimSpace(c.Drive.Instrument)
	c.Drive.BarType = strings.ToUpper(strings.TrimSpace(c.Drive.BarType))
	c.Replay.Mode = strings.ToLower(strings.TrimSpace(c.Replay.Mode))
	if c.Replay.Mode == "" {
		c.Replay.Mode = string(replay.ModeBar)
	}
	if c.Replay.Mode == string(replay.ModeBar) {
		if c.Drive.BarType == "" {
			c.Drive.BarType = string(schema.BarTypeMinute)
		}
		if c.Drive.BarInterval <= 0 {
			c.Drive.BarInterval = 1
		}
	}
	for i, id := range c.Replay.Instruments {
		c.Replay.Instruments[i] = strings.TrimSpace(id)
	}

	c.Data.Timezone = strings.TrimSpace(c.Data.Timezone)
	for i, day := range c.Calendar.TradingDays {
		c.Calendar.TradingDays[i] = strings.TrimSpace(day)
	}
	for i := range c.Instruments {
		c.Instruments[i].ID = strings.TrimSpace(c.Instruments[i].ID)
		c.Instruments[i].ProductCode = strings.TrimSpace(c.Instruments[i].ProductCode)
	}

	c.Matching.Fee.Type = strings.ToLower(strings.TrimSpace(c.Matching.Fee.Type))
	if c.Matching.Fee.Type == "" {
		c.Matching.Fee.Type = "none"
	}
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
}

func invalid(message string, fields ...string) error {
	opts := []errs.Option{errs.WithMessage(message)}
	for i := 0; i+1 < len(fields); i += 2 {
		opts = append(opts, errs.WithField(fields[i], fields[i+1]))
	}
	return errs.New(component, errs.CodeInvalid, opts...)
}

// Validate performs semantic validation on the configuration.
func (c BacktestConfig) Validate() error {
	switch {
	case c.Strategy.ID == "":
		return errs.Required(component, "strategy id")
	case c.Strategy.AccountID == "":
		return errs.Required(component, "strategy accountId")
	case c.Drive.Instrument == "":
		return errs.Required(component, "drive instrument")
	case c.Window.Start == "" || c.Window.End == "":
		return errs.Required(component, "window")
	case len(c.Calendar.TradingDays) == 0:
		return errs.Required(component, "calendar tradingDays")
	case len(c.Data.Ticks) == 0 && len(c.Data.Bars) == 0:
		return errs.Required(component, "data files")
	}

	fund, err := decimal.NewFromString(c.FundBalance)
	if err != nil || !fund.IsPositive() {
		return invalid("fundBalance must be a positive number", "fund_balance", c.FundBalance)
	}
	switch strategy.Mode(c.Strategy.Mode) {
	case strategy.ModeSimulate, strategy.ModeLive:
	default:
		return invalid("strategy mode must be simulate or live", "mode", c.Strategy.Mode)
	}
	switch replay.Mode(c.Replay.Mode) {
	case replay.ModeTick:
		if len(c.Data.Ticks) == 0 {
			return errs.Required(component, "data ticks")
		}
	case replay.ModeBar:
		if len(c.Data.Bars) == 0 {
			return errs.Required(component, "data bars")
		}
		if !schema.BarType(c.Drive.BarType).Valid() {
			return invalid("drive barType must be MINUTE, HOUR or DAY", "bar_type", c.Drive.BarType)
		}
	default:
		return invalid("replay mode must be tick or bar", "mode", c.Replay.Mode)
	}

	if _, err := parseDate(c.Window.Start); err != nil {
		return invalid("window start must be YYYY-MM-DD", "start", c.Window.Start)
	}
	if _, err := parseDate(c.Window.End); err != nil {
		return invalid("window end must be YYYY-MM-DD", "end", c.Window.End)
	}
	for _, day := range c.Calendar.TradingDays {
		if _, err := parseDate(day); err != nil {
			return invalid("calendar trading day must be YYYY-MM-DD", "day", day)
		}
	}
	if c.Data.Timezone != "" {
		if _, err := c.Location(); err != nil {
			return invalid("unknown data timezone", "timezone", c.Data.Timezone)
		}
	}

	seen := make(map[string]struct{}, len(c.Instruments))
	for _, inst := range c.Instruments {
		if err := inst.validate(); err != nil {
			return err
		}
		seen[inst.ID] = struct{}{}
	}
	for _, id := range append([]string{c.Drive.Instrument}, c.Replay.Instruments...) {
		if _, ok := seen[id]; !ok {
			return invalid("instrument missing from instruments list", "instrument", id)
		}
	}

	if _, err := c.FeeModel(); err != nil {
		return err
	}
	if c.Matching.SlippageBPS != "" {
		bps, err := decimal.NewFromString(c.Matching.SlippageBPS)
		if err != nil || bps.IsNegative() {
			return invalid("matching slippageBps must be a non-negative number", "slippage_bps", c.Matching.SlippageBPS)
		}
	}
	return nil
}

func (i InstrumentConfig) validate() error {
	if i.ID == "" {
		return errs.Required(component, "instrument id")
	}
	for name, value := range map[string]string{"multiplier": i.Multiplier, "marginRate": i.MarginRate, "priceTick": i.PriceTick} {
		if value == "" {
			continue
		}
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return invalid(name+" must be a non-negative number", "instrument", i.ID)
		}
	}
	if _, err := i.sessions(); err != nil {
		return invalid("sessions must use HH:MM", "instrument", i.ID)
	}
	for _, day := range i.NoNightSession {
		if _, err := parseDate(strings.TrimSpace(day)); err != nil {
			return invalid("noNightSession must list YYYY-MM-DD dates", "instrument", i.ID)
		}
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open backtest config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
