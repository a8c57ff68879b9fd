package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coachpo/meltica-replay/errs"
	"github.com/coachpo/meltica-replay/internal/matching"
	"github.com/coachpo/meltica-replay/internal/replay"
	"github.com/coachpo/meltica-replay/internal/schema"
)

const sampleYAML = `
logLevel: DEBUG
strategy:
  id: rb-cross
  name: MACross
  accountId: acc-1
  productCode: rb
  params:
    fast_window: 3
    slow_window: 8
fundBalance: "1000000"
window:
  start: "2024-03-02"
  end: "2024-03-06"
drive:
  instrument: rb2405
  barInterval: 1
  barType: minute
replay:
  instruments: [hc2405]
  splitSessions: true
data:
  bars: [bars.csv]
  timezone: Asia/Shanghai
calendar:
  tradingDays: ["2024-03-04", "2024-03-05", "2024-03-06"]
instruments:
  - id: rb2405
    productCode: rb
    multiplier: "10"
    marginRate: "0.1"
    priceTick: "1"
    nightSession: true
    sessions:
      nightOpen: "21:00"
      nightClose: "23:00"
      dayAMOpen: "09:00"
      dayAMClose: "11:30"
      dayPMOpen: "13:30"
      dayPMClose: "15:00"
  - id: hc2405
    productCode: hc
    multiplier: "10"
    marginRate: "0.1"
matching:
  fee:
    type: proportional
    rate: "0.0001"
  slippageBps: "2"
telemetry:
  enabled: false
  serviceName: replay-test
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backtest.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when config file missing")
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Strategy.Name != "macross" {
		t.Fatalf("expected strategy name macross, got %s", cfg.Strategy.Name)
	}
	if cfg.Strategy.Mode != "simulate" {
		t.Fatalf("expected default mode simulate, got %s", cfg.Strategy.Mode)
	}
	if cfg.Replay.Mode != string(replay.ModeBar) {
		t.Fatalf("expected default replay mode bar, got %s", cfg.Replay.Mode)
	}
	if cfg.Drive.BarType != "MINUTE" {
		t.Fatalf("expected bar type MINUTE, got %s", cfg.Drive.BarType)
	}
	if level, err := cfg.Level(); err != nil || level != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %v (%v)", level, err)
	}
	if got := cfg.Strategy.Params["fast_window"]; got != 3 {
		t.Fatalf("expected fast_window 3, got %v", got)
	}
	if cfg.Fund().String() != "1000000" {
		t.Fatalf("expected fund 1000000, got %s", cfg.Fund())
	}

	drive := cfg.DriveSpec()
	if drive.InstrumentID != "rb2405" || drive.BarType != schema.BarTypeMinute || drive.BarInterval != 1 {
		t.Fatalf("unexpected drive %+v", drive)
	}
}

func TestBuildCollaborators(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cal, err := cfg.BuildCalendar()
	if err != nil {
		t.Fatalf("BuildCalendar failed: %v", err)
	}
	loc, _ := time.LoadLocation("Asia/Shanghai")
	if got := cal.TradingDayCount(time.Date(2024, 3, 1, 0, 0, 0, 0, loc), time.Date(2024, 3, 31, 0, 0, 0, 0, loc)); got != 3 {
		t.Fatalf("expected 3 trading days, got %d", got)
	}

	window, err := cfg.BuildWindow(cal)
	if err != nil {
		t.Fatalf("BuildWindow failed: %v", err)
	}
	if want := time.Date(2024, 3, 4, 0, 0, 0, 0, loc); !window.Start().Equal(want) {
		t.Fatalf("expected window start %v, got %v", want, window.Start())
	}

	dir, err := cfg.BuildDirectory(cal)
	if err != nil {
		t.Fatalf("BuildDirectory failed: %v", err)
	}
	tt, err := dir.TradingTime(window.Start().AddDate(0, 0, 1), "rb2405")
	if err != nil {
		t.Fatalf("TradingTime failed: %v", err)
	}
	if !tt.HasNightSession || tt.NightOpen.Hour() != 21 {
		t.Fatalf("expected a 21:00 night session, got %+v", tt)
	}

	fees, err := cfg.FeeModel()
	if err != nil {
		t.Fatalf("FeeModel failed: %v", err)
	}
	if _, ok := fees.(matching.ProportionalFee); !ok {
		t.Fatalf("expected proportional fee, got %T", fees)
	}
	opts, err := cfg.MatchingOptions()
	if err != nil || len(opts) != 2 {
		t.Fatalf("expected fee and slippage options, got %d (%v)", len(opts), err)
	}

	rc := cfg.ReplayConfig(window)
	if !rc.SplitSessions || rc.Mode != replay.ModeBar || len(rc.Instruments) != 1 {
		t.Fatalf("unexpected replay config %+v", rc)
	}
	if got := cfg.resolve(cfg.Data.Bars); len(got) != 1 || got[0] != filepath.Join(filepath.Dir(path), "bars.csv") {
		t.Fatalf("expected bars path next to the config file, got %v", got)
	}

	tel := cfg.TelemetryConfig()
	if tel.Enabled || tel.ServiceName != "replay-test" {
		t.Fatalf("unexpected telemetry config %+v", tel)
	}
}

func TestScriptStrategyRef(t *testing.T) {
	body := strings.Replace(sampleYAML, "name: MACross", "name: JS:scripts/Cross.js", 1)
	path := writeConfig(t, body)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Strategy.Name != "js:scripts/Cross.js" {
		t.Fatalf("expected script path case preserved, got %s", cfg.Strategy.Name)
	}
	want := "js:" + filepath.Join(filepath.Dir(path), "scripts", "Cross.js")
	if got := cfg.StrategyRef(); got != want {
		t.Fatalf("expected ref %s, got %s", want, got)
	}

	cfg.Strategy.Name = "macross"
	if got := cfg.StrategyRef(); got != "macross" {
		t.Fatalf("expected built-in name unchanged, got %s", got)
	}
}

func TestValidateRejects(t *testing.T) {
	base, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}

	cases := map[string]func(*BacktestConfig){
		"missing strategy id":     func(c *BacktestConfig) { c.Strategy.ID = "" },
		"missing account":         func(c *BacktestConfig) { c.Strategy.AccountID = "" },
		"zero fund":               func(c *BacktestConfig) { c.FundBalance = "0" },
		"bad fund":                func(c *BacktestConfig) { c.FundBalance = "lots" },
		"bad mode":                func(c *BacktestConfig) { c.Strategy.Mode = "paper" },
		"bad replay mode":         func(c *BacktestConfig) { c.Replay.Mode = "depth" },
		"tick mode without ticks": func(c *BacktestConfig) { c.Replay.Mode = "tick" },
		"bad bar type":            func(c *BacktestConfig) { c.Drive.BarType = "WEEK" },
		"bad window":              func(c *BacktestConfig) { c.Window.Start = "03/02/2024" },
		"no calendar":             func(c *BacktestConfig) { c.Calendar.TradingDays = nil },
		"unknown drive":           func(c *BacktestConfig) { c.Drive.Instrument = "ag2406" },
		"unknown replay":          func(c *BacktestConfig) { c.Replay.Instruments = []string{"ag2406"} },
		"bad session":             func(c *BacktestConfig) { c.Instruments[0].Sessions.DayAMOpen = "9am" },
		"bad multiplier":          func(c *BacktestConfig) { c.Instruments[0].Multiplier = "-1" },
		"bad fee type":            func(c *BacktestConfig) { c.Matching.Fee.Type = "tiered" },
		"bad slippage":            func(c *BacktestConfig) { c.Matching.SlippageBPS = "-3" },
		"bad timezone":            func(c *BacktestConfig) { c.Data.Timezone = "Mars/Olympus" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Parse([]byte(sampleYAML))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			mutate(&cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !errs.Is(err, errs.CodeInvalid) {
				t.Fatalf("expected invalid_request code, got %v", err)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvFundBalance, "250000")
	t.Setenv(EnvWindowEnd, "2024-03-05")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvOTelEnabled, "true")

	cfg, err := Load(context.Background(), writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FundBalance != "250000" {
		t.Fatalf("expected fund override, got %s", cfg.FundBalance)
	}
	if cfg.Window.End != "2024-03-05" {
		t.Fatalf("expected end override, got %s", cfg.Window.End)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected log level override, got %s", cfg.LogLevel)
	}
	if !cfg.Telemetry.Enabled {
		t.Fatalf("expected telemetry enabled from env")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(context.Background(), filepath.Join("..", "..", "config", "backtest.example.yaml"))
	if err != nil {
		t.Fatalf("example config should load: %v", err)
	}
	if cfg.Strategy.ID != "rb-macross" {
		t.Fatalf("unexpected strategy id %s", cfg.Strategy.ID)
	}
	if _, err := cfg.BuildSource(); err != nil {
		t.Fatalf("BuildSource failed: %v", err)
	}
}
