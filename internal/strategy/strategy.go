// Package strategy holds the strategy-facing side of a backtest: the Strategy contract, the
// Function facade strategies trade through, and its simulation clock and indicators.
package strategy

import (
	"context"

	"github.com/coachpo/meltica-replay/internal/schema"
)

// Strategy is implemented by trading logic driven by the backtest orchestrator. Returning an
// error aborts the run.
type Strategy interface {
	OnStart(ctx context.Context) error
	// OnInit runs at the start of every trading sub-session.
	OnInit(ctx context.Context) error
	OnTick(ctx context.Context, tick schema.Tick) error
	OnBar(ctx context.Context, bar schema.Bar) error
	OnEnd(ctx context.Context) error

	OnFutureTrade(ctx context.Context, trade schema.Trade) error
	OnFutureOrder(ctx context.Context, order schema.OrderRequest) error
	OnFutureOrderReject(ctx context.Context, order schema.OrderRequest) error
	OnFutureOrderCanceled(ctx context.Context, order schema.OrderRequest) error
	OnFutureOrderCancelFailed(ctx context.Context, order schema.OrderRequest) error
}

// Base implements every Strategy callback as a no-op. Embed it and override what you need.
type Base struct{}

func (Base) OnStart(context.Context) error { return nil }
func (Base) OnInit(context.Context) error { return nil }
func (Base) OnTick(context.Context, schema.Tick) error { return nil }
func (Base) OnBar(context.Context, schema.Bar) error { return nil }
func (Base) OnEnd(context.Context) error { return nil }
func (Base) OnFutureTrade(context.Context, schema.Trade) error { return nil }
func (Base) OnFutureOrder(context.Context, schema.OrderRequest) error { return nil }
func (Base) OnFutureOrderReject(context.Context, schema.OrderRequest) error { return nil }
func (Base) OnFutureOrderCanceled(context.Context, schema.OrderRequest) error { return nil }
func (Base) OnFutureOrderCancelFailed(context.Context, schema.OrderRequest) error { return nil }
