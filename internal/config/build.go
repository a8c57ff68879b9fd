package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/coachpo/meltica-replay/internal/calendar"
	"github.com/coachpo/meltica-replay/internal/matching"
	"github.com/coachpo/meltica-replay/internal/replay"
	"github.com/coachpo/meltica-replay/internal/schema"
	"github.com/coachpo/meltica-replay/internal/strategy"
	"github.com/coachpo/meltica-replay/internal/telemetry"
)

func parseDate(value string) (time.Time, error) {
	return time.Parse(time.DateOnly, value)
}

// Location returns the zone data timestamps and dates are read in. UTC when unset.
func (c BacktestConfig) Location() (*time.Location, error) {
	if c.Data.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Data.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", c.Data.Timezone, err)
	}
	return loc, nil
}

func (c BacktestConfig) date(value string) (time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	return time.ParseInLocation(time.DateOnly, value, loc)
}

// Level parses the configured log level.
func (c BacktestConfig) Level() (logrus.Level, error) {
	return logrus.ParseLevel(c.LogLevel)
}

// Fund returns the starting fund balance.
func (c BacktestConfig) Fund() decimal.Decimal {
	fund, _ := decimal.NewFromString(c.FundBalance)
	return fund
}

// DriveSpec returns the drive instrument with its bar settings.
func (c BacktestConfig) DriveSpec() schema.DriveSpec {
	return schema.DriveSpec{
		InstrumentID: c.Drive.Instrument,
		BarInterval:  c.Drive.BarInterval,
		BarType:      schema.BarType(c.Drive.BarType),
	}
}

// StrategyMode returns the facade mode.
func (c BacktestConfig) StrategyMode() strategy.Mode { return strategy.Mode(c.Strategy.Mode) }

// BuildCalendar returns the trading calendar.
func (c BacktestConfig) BuildCalendar() (*calendar.Calendar, error) {
	days := make([]time.Time, 0, len(c.Calendar.TradingDays))
	for _, value := range c.Calendar.TradingDays {
		day, err := c.date(value)
		if err != nil {
			return nil, fmt.Errorf("calendar day %q: %w", value, err)
		}
		days = append(days, day)
	}
	return calendar.New(days)
}

// BuildDirectory returns the instrument directory over cal.
func (c BacktestConfig) BuildDirectory(cal *calendar.Calendar) (*calendar.Directory, error) {
	instruments := make([]calendar.Instrument, 0, len(c.Instruments))
	for _, cfg := range c.Instruments {
		inst, err := cfg.instrument()
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, inst)
	}
	return calendar.NewDirectory(cal, instruments...)
}

// BuildWindow normalises the configured window against cal.
func (c BacktestConfig) BuildWindow(cal schema.Calendar) (schema.TradingWindow, error) {
	start, err := c.date(c.Window.Start)
	if err != nil {
		return schema.TradingWindow{}, fmt.Errorf("window start: %w", err)
	}
	end, err := c.date(c.Window.End)
	if err != nil {
		return schema.TradingWindow{}, fmt.Errorf("window end: %w", err)
	}
	return calendar.NewTradingWindow(cal, start, end)
}

// FeeModel returns the configured commission model.
func (c BacktestConfig) FeeModel() (matching.FeeModel, error) {
	fee := c.Matching.Fee
	switch fee.Type {
	case "", "none":
		return matching.NoFee{}, nil
	case "proportional":
		rate, err := decimal.NewFromString(strings.TrimSpace(fee.Rate))
		if err != nil || rate.IsNegative() {
			return nil, invalid("proportional fee needs a non-negative rate", "rate", fee.Rate)
		}
		return matching.ProportionalFee{Rate: rate}, nil
	case "per_lot":
		amount, err := decimal.NewFromString(strings.TrimSpace(fee.Amount))
		if err != nil || amount.IsNegative() {
			return nil, invalid("per_lot fee needs a non-negative amount", "amount", fee.Amount)
		}
		return matching.PerLotFee{Amount: amount}, nil
	default:
		return nil, invalid("fee type must be none, proportional or per_lot", "type", fee.Type)
	}
}

// MatchingOptions returns the engine options for the configured fee and slippage.
func (c BacktestConfig) MatchingOptions() ([]matching.Option, error) {
	fees, err := c.FeeModel()
	if err != nil {
		return nil, err
	}
	opts := []matching.Option{matching.WithFeeModel(fees)}
	if c.Matching.SlippageBPS != "" {
		bps, err := decimal.NewFromString(c.Matching.SlippageBPS)
		if err != nil {
			return nil, invalid("matching slippageBps must be a number", "slippage_bps", c.Matching.SlippageBPS)
		}
		if bps.IsPositive() {
			opts = append(opts, matching.WithSlippageModel(matching.BasisPointSlippage{BPS: bps}))
		}
	}
	return opts, nil
}

// BuildSource returns the CSV source. Relative paths resolve against the config file directory.
func (c BacktestConfig) BuildSource() (*replay.CSVSource, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return replay.NewCSVSource(replay.CSVFiles{Ticks: c.resolve(c.Data.Ticks), Bars: c.resolve(c.Data.Bars)}, loc), nil
}

// StrategyRef returns the name handed to the strategy registry. A relative script path in a
// "js:" name is resolved against the config file's directory.
func (c BacktestConfig) StrategyRef() string {
	scheme, ref, ok := strings.Cut(c.Strategy.Name, ":")
	if !ok || scheme != "js" {
		return c.Strategy.Name
	}
	if resolved := c.resolve([]string{ref}); len(resolved) == 1 {
		ref = resolved[0]
	}
	return scheme + ":" + ref
}

func (c BacktestConfig) resolve(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) && c.dir != "" {
			p = filepath.Join(c.dir, p)
		}
		out = append(out, p)
	}
	return out
}

// ReplayConfig returns the channel configuration for window.
func (c BacktestConfig) ReplayConfig(window schema.TradingWindow) replay.Config {
	return replay.Config{
		DriveInstrument: c.Drive.Instrument,
		Instruments:     append([]string(nil), c.Replay.Instruments...),
		Window:          window,
		BarInterval:     c.Drive.BarInterval,
		BarType:         schema.BarType(c.Drive.BarType),
		Mode:            replay.Mode(c.Replay.Mode),
		SplitSessions:   c.Replay.SplitSessions,
	}
}

// TelemetryConfig layers the file's telemetry section over the OTEL_* environment defaults.
func (c BacktestConfig) TelemetryConfig() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Enabled = c.Telemetry.Enabled
	if c.Telemetry.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	}
	if c.Telemetry.OTLPInsecure {
		cfg.OTLPInsecure = true
	}
	if c.Telemetry.ServiceName != "" {
		cfg.ServiceName = c.Telemetry.ServiceName
	}
	return cfg
}

func (i InstrumentConfig) sessions() (calendar.Sessions, error) {
	var s calendar.Sessions
	fields := []struct {
		value string
		out   *time.Duration
	}{
		{i.Sessions.NightOpen, &s.NightOpen},
		{i.Sessions.NightClose, &s.NightClose},
		{i.Sessions.DayAMOpen, &s.DayAMOpen},
		{i.Sessions.DayAMClose, &s.DayAMClose},
		{i.Sessions.DayPMOpen, &s.DayPMOpen},
		{i.Sessions.DayPMClose, &s.DayPMClose},
	}
	for _, f := range fields {
		d, err := calendar.ParseClock(f.value)
		if err != nil {
			return calendar.Sessions{}, err
		}
		*f.out = d
	}
	return s, nil
}

func optionalDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (i InstrumentConfig) instrument() (calendar.Instrument, error) {
	sessions, err := i.sessions()
	if err != nil {
		return calendar.Instrument{}, fmt.Errorf("instrument %s: %w", i.ID, err)
	}
	return calendar.Instrument{
		ID:              i.ID,
		ProductCode:     i.ProductCode,
		Multiplier:      optionalDecimal(i.Multiplier),
		MarginRate:      optionalDecimal(i.MarginRate),
		PriceTick:       optionalDecimal(i.PriceTick),
		HasNightSession: i.NightSession,
		Sessions:        sessions,
		NoNightSession:  append([]string(nil), i.NoNightSession...),
	}, nil
}
