package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Metric names.
const (
	MetricEventsDispatched = "backtest.events.dispatched"
	MetricDayDuration      = "backtest.day.duration"
	MetricRunDuration      = "backtest.run.duration"
	MetricRuns             = "backtest.runs"
)

// Attribute keys, namespaced the OpenTelemetry way.
const (
	AttrEventKind  = attribute.Key("event.kind")
	AttrStrategy   = attribute.Key("strategy.id")
	AttrInstrument = attribute.Key("instrument.id")
	AttrResult     = attribute.Key("result")
)

// Result values
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// RunAttributes returns the attributes shared by per-run metrics.
func RunAttributes(strategyID, instrumentID, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrStrategy.String(strategyID),
		AttrInstrument.String(instrumentID),
		AttrResult.String(result),
	}
}
