package js

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"

	"github.com/coachpo/meltica-replay/internal/schema"
	"github.com/coachpo/meltica-replay/internal/strategy"
	"github.com/coachpo/meltica-replay/internal/strategy/strategies"
)

// Strategy adapts a script's handler object to strategy.Strategy. Handlers are optional;
// a thrown exception aborts the run like any other strategy error.
type Strategy struct {
	instance *Instance
	handler  *goja.Object
	metadata strategies.Metadata
	fn       strategies.Facade

	// ctx of the callback in flight, used by helpers that place orders
	ctx context.Context
}

var _ strategy.Strategy = (*Strategy)(nil)

// NewStrategy starts a runtime for module and calls its create(env) export.
func NewStrategy(module *Module, fn strategies.Facade, params map[string]any) (*Strategy, error) {
	if module == nil {
		return nil, fmt.Errorf("js strategy: module required")
	}
	if fn == nil {
		return nil, fmt.Errorf("js strategy %s: function required", module.Metadata.Name)
	}
	instance, err := NewInstance(module, fn.Logger().WithField("script", module.Metadata.Name))
	if err != nil {
		return nil, err
	}
	s := &Strategy{
		instance: instance,
		metadata: module.Metadata,
		fn:       fn,
		ctx:      context.Background(),
	}

	value, err := instance.Call(context.Background(), "create", s.env(params))
	if err != nil {
		return nil, fmt.Errorf("js strategy %s: create failed: %w", module.Metadata.Name, err)
	}
	object, ok := value.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("js strategy %s: create must return an object", module.Metadata.Name)
	}
	s.handler = object
	return s, nil
}

// Metadata describes the script.
func (s *Strategy) Metadata() strategies.Metadata { return s.metadata }

func (s *Strategy) env(params map[string]any) map[string]any {
	config := make(map[string]any, len(params))
	for k, v := range params {
		config[k] = v
	}
	return map[string]any{
		"config":            config,
		"metadata":          s.metadata,
		"drive":             s.fn.DriveInstrument(),
		"now":               s.now,
		"lastTick":          s.lastTick,
		"lastBar":           s.lastBar,
		"sendFutureOrder":   s.sendFutureOrder,
		"getFuturePosition": s.getFuturePosition,
	}
}

// OnStart calls onStart.
func (s *Strategy) OnStart(ctx context.Context) error {
	return s.invoke(ctx, "onStart")
}

// OnInit calls onInit at every sub-session start.
func (s *Strategy) OnInit(ctx context.Context) error {
	return s.invoke(ctx, "onInit")
}

// OnTick calls onTick.
func (s *Strategy) OnTick(ctx context.Context, tick schema.Tick) error {
	return s.invoke(ctx, "onTick", tickValue(tick))
}

// OnBar calls onBar.
func (s *Strategy) OnBar(ctx context.Context, bar schema.Bar) error {
	return s.invoke(ctx, "onBar", barValue(bar))
}

// OnEnd calls onEnd.
func (s *Strategy) OnEnd(ctx context.Context) error {
	return s.invoke(ctx, "onEnd")
}

// OnFutureTrade calls onFutureTrade.
func (s *Strategy) OnFutureTrade(ctx context.Context, trade schema.Trade) error {
	return s.invoke(ctx, "onFutureTrade", tradeValue(trade))
}

// OnFutureOrder calls onFutureOrder.
func (s *Strategy) OnFutureOrder(ctx context.Context, order schema.OrderRequest) error {
	return s.invoke(ctx, "onFutureOrder", orderValue(order))
}

// OnFutureOrderReject calls onFutureOrderReject.
func (s *Strategy) OnFutureOrderReject(ctx context.Context, order schema.OrderRequest) error {
	return s.invoke(ctx, "onFutureOrderReject", orderValue(order))
}

// OnFutureOrderCanceled calls onFutureOrderCanceled.
func (s *Strategy) OnFutureOrderCanceled(ctx context.Context, order schema.OrderRequest) error {
	return s.invoke(ctx, "onFutureOrderCanceled", orderValue(order))
}

// OnFutureOrderCancelFailed calls onFutureOrderCancelFailed.
func (s *Strategy) OnFutureOrderCancelFailed(ctx context.Context, order schema.OrderRequest) error {
	return s.invoke(ctx, "onFutureOrderCancelFailed", orderValue(order))
}

func (s *Strategy) invoke(ctx context.Context, method string, args ...any) error {
	prev := s.ctx
	s.ctx = ctx
	defer func() { s.ctx = prev }()

	if _, err := s.instance.CallMethod(ctx, s.handler, method, args...); err != nil {
		if errors.Is(err, ErrFunctionMissing) {
			return nil
		}
		return fmt.Errorf("js strategy %s.%s: %w", s.metadata.Name, method, err)
	}
	return nil
}

func (s *Strategy) now() int64 {
	return s.fn.Now().UnixMilli()
}

func (s *Strategy) lastTick(instrumentID string) any {
	tick, ok := s.fn.LastTick(s.instrument(instrumentID))
	if !ok {
		return nil
	}
	return tickValue(tick)
}

func (s *Strategy) lastBar(instrumentID string) any {
	bar, ok := s.fn.LastBar(s.instrument(instrumentID))
	if !ok {
		return nil
	}
	return barValue(bar)
}

// sendFutureOrder(instrumentID, price, volume, direction, offset, opts?) returns the order
// handle. opts may set priceType, orderType and hedgeFlag.
func (s *Strategy) sendFutureOrder(instrumentID string, price any, volume int64, direction, offset string, opts map[string]any) (string, error) {
	px, err := parsePrice(price)
	if err != nil {
		return "", err
	}
	dir, err := parseDirection(direction)
	if err != nil {
		return "", err
	}
	off, err := parseOffset(offset)
	if err != nil {
		return "", err
	}
	orderOpts, err := parseOrderOptions(opts)
	if err != nil {
		return "", err
	}
	return s.fn.SendFutureOrder(s.ctx, s.instrument(instrumentID), px, volume, dir, off, orderOpts...)
}

func (s *Strategy) getFuturePosition(instrumentID, direction string) (any, error) {
	dir, err := parseDirection(direction)
	if err != nil {
		return nil, err
	}
	pos, ok := s.fn.GetFuturePosition(s.instrument(instrumentID), dir)
	if !ok {
		return nil, nil
	}
	return positionValue(pos), nil
}

// instrument defaults an empty id to the drive instrument.
func (s *Strategy) instrument(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return s.fn.DriveInstrument()
}

func parsePrice(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return decimal.Zero, nil
		}
		px, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid price %q", v)
		}
		return px, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported price type %T", value)
	}
}

func parseDirection(value string) (schema.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "buy", "long":
		return schema.DirectionBuy, nil
	case "sell", "short":
		return schema.DirectionSell, nil
	}
	return "", fmt.Errorf("invalid direction %q", value)
}

func parseOffset(value string) (schema.OffsetFlag, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "open":
		return schema.OffsetOpen, nil
	case "close":
		return schema.OffsetClose, nil
	case "closetoday":
		return schema.OffsetCloseToday, nil
	case "closeyesterday":
		return schema.OffsetCloseYesterday, nil
	}
	return "", fmt.Errorf("invalid offset %q", value)
}

func parseOrderOptions(opts map[string]any) ([]strategy.OrderOption, error) {
	var out []strategy.OrderOption
	for key, raw := range opts {
		value := strings.ToLower(strings.TrimSpace(fmt.Sprint(raw)))
		switch key {
		case "priceType":
			switch value {
			case "limit":
				out = append(out, strategy.WithPriceType(schema.PriceTypeLimit))
			case "anyprice", "market":
				out = append(out, strategy.WithPriceType(schema.PriceTypeAnyPrice))
			default:
				return nil, fmt.Errorf("invalid priceType %q", raw)
			}
		case "orderType":
			switch value {
			case "normal":
				out = append(out, strategy.WithOrderType(schema.OrderTypeNormal))
			case "fak":
				out = append(out, strategy.WithOrderType(schema.OrderTypeFAK))
			case "fok":
				out = append(out, strategy.WithOrderType(schema.OrderTypeFOK))
			default:
				return nil, fmt.Errorf("invalid orderType %q", raw)
			}
		case "hedgeFlag":
			switch value {
			case "speculation":
				out = append(out, strategy.WithHedgeFlag(schema.HedgeSpeculation))
			case "arbitrage":
				out = append(out, strategy.WithHedgeFlag(schema.HedgeArbitrage))
			case "hedge":
				out = append(out, strategy.WithHedgeFlag(schema.HedgeHedge))
			default:
				return nil, fmt.Errorf("invalid hedgeFlag %q", raw)
			}
		default:
			return nil, fmt.Errorf("unknown order option %q", key)
		}
	}
	return out, nil
}
