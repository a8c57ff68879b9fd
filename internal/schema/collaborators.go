package schema

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Calendar answers trading-day questions.
type Calendar interface {
	// FirstTradingDay returns the first trading day on or after date, at midnight.
	FirstTradingDay(date time.Time) (time.Time, error)
	// LastTradingDay returns the last trading day on or before date, at midnight.
	LastTradingDay(date time.Time) (time.Time, error)
	// TradingDayCount counts trading days in [start, end].
	TradingDayCount(start, end time.Time) int
}

// InstrumentDirectory resolves per-instrument session times.
type InstrumentDirectory interface {
	TradingTime(tradingDate time.Time, instrumentID string) (TradingTime, error)
}

// Ledgers exposes the records an accounting collaborator accumulates over a run.
type Ledgers interface {
	AllFutureAssets() []AssetSnapshot
	AllFutureOrders() []OrderRequest
	AllFutureTrades() []Trade
	AllFuturePositions() []Position
	AllFuturePositionDetails() []PositionDetail
}

// Accounting owns position and cash state.
type Accounting interface {
	Ledgers

	DayBegin(ctx context.Context, tradingDate time.Time, data DayData) error
	DayEnd(ctx context.Context) (DayData, error)
	OnTick(ctx context.Context, tick Tick) error
	OnBar(ctx context.Context, bar Bar) error

	OnFutureTrade(ctx context.Context, trade Trade) error
	OnFutureOrder(ctx context.Context, order OrderRequest) error
	OnFutureOrderReject(ctx context.Context, order OrderRequest) error
	OnFutureOrderCanceled(ctx context.Context, order OrderRequest) error
	OnFutureOrderCancelFailed(ctx context.Context, order OrderRequest) error

	OnEnd(ctx context.Context) error

	GetFuturePosition(instrumentID string, direction Direction) (Position, bool)
}

// MatchingEngine owns pending orders and fill generation.
type MatchingEngine interface {
	// RegisterEvent installs the single callback for kind. Registering twice fails.
	RegisterEvent(kind TradeEventKind, cb TradeCallback) error

	OnTick(ctx context.Context, tick Tick) error
	OnBar(ctx context.Context, bar Bar) error
	MatchByTick(ctx context.Context, tick Tick) error
	MatchByBar(ctx context.Context, bar Bar) error

	// SendFutureOrder takes ownership of order and returns its order handle.
	SendFutureOrder(ctx context.Context, accountID string, order OrderRequest) (string, error)
	CancelFutureOrder(ctx context.Context, accountID, orderSysID string) error
	// GetFuturePosition returns the net filled volume the engine has seen for the account.
	GetFuturePosition(accountID, instrumentID string, direction Direction) int64
}

// ReportBuilder turns the asset ledger into summary statistics.
type ReportBuilder interface {
	TotalYield(assets []AssetSnapshot, fund decimal.Decimal) float64
	AnnualYield(assets []AssetSnapshot, fund decimal.Decimal, tradingDays int) float64
	ProfitPerLot(assets []AssetSnapshot, fund decimal.Decimal, lots float64) decimal.Decimal
	MaxRetracement(assets []AssetSnapshot, fund decimal.Decimal) decimal.Decimal
	RetracementRatio(assets []AssetSnapshot, fund decimal.Decimal) float64
	Sharpe(assets []AssetSnapshot, fund decimal.Decimal) float64
}
