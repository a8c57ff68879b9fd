package config

import (
	"os"
	"strings"
)

// Environment variables that override file values.
const (
	EnvLogLevel     = "REPLAY_LOG_LEVEL"
	EnvFundBalance  = "REPLAY_FUND_BALANCE"
	EnvWindowStart  = "REPLAY_START_DATE"
	EnvWindowEnd    = "REPLAY_END_DATE"
	EnvDataTimezone = "REPLAY_DATA_TIMEZONE"
	EnvOTelEnabled  = "OTEL_ENABLED"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// ApplyEnv overrides configuration values from environment variables.
func (c *BacktestConfig) ApplyEnv() {
	if v := lookup(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := lookup(EnvFundBalance); v != "" {
		c.FundBalance = v
	}
	if v := lookup(EnvWindowStart); v != "" {
		c.Window.Start = v
	}
	if v := lookup(EnvWindowEnd); v != "" {
		c.Window.End = v
	}
	if v := lookup(EnvDataTimezone); v != "" {
		c.Data.Timezone = v
	}
	if v := lookup(EnvOTelEnabled); v != "" {
		c.Telemetry.Enabled = strings.EqualFold(v, "true")
	}
	if v := lookup(EnvOTLPEndpoint); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
}

func lookup(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
