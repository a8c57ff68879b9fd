package strategies

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/coachpo/meltica-replay/internal/schema"
	"github.com/coachpo/meltica-replay/internal/strategy"
	"github.com/coachpo/meltica-replay/internal/strategy/indicators"
)

// Facade is the part of strategy.Function the built-in strategies trade through.
type Facade interface {
	indicators.PriceSource
	AddIndicator(ind strategy.Indicator) error
	SendFutureOrder(ctx context.Context, instrumentID string, price decimal.Decimal, volume int64, direction schema.Direction, offset schema.OffsetFlag, opts ...strategy.OrderOption) (string, error)
	GetFuturePosition(instrumentID string, direction schema.Direction) (schema.Position, bool)
	DriveInstrument() string
	Now() time.Time
	Logger() logrus.FieldLogger
}

// MACross holds one position in the direction of a fast/slow moving average crossover and
// reverses when the averages cross back.
type MACross struct {
	strategy.Base

	Function Facade

	// Configuration
	FastWindow int
	SlowWindow int
	Volume     int64

	// State
	fast    *indicators.MovingAverage
	slow    *indicators.MovingAverage
	pending int
}

// OnInit registers the averages the first time a session opens.
func (s *MACross) OnInit(context.Context) error {
	if s.fast != nil {
		return nil
	}
	if s.FastWindow >= s.SlowWindow {
		return fmt.Errorf("macross: fast window %d must be shorter than slow window %d", s.FastWindow, s.SlowWindow)
	}
	if s.Volume <= 0 {
		return fmt.Errorf("macross: volume must be positive, got %d", s.Volume)
	}
	drive := s.Function.DriveInstrument()
	fast, err := indicators.NewMovingAverage(s.Function, drive, s.FastWindow)
	if err != nil {
		return err
	}
	slow, err := indicators.NewMovingAverage(s.Function, drive, s.SlowWindow)
	if err != nil {
		return err
	}
	if err := s.Function.AddIndicator(fast); err != nil {
		return err
	}
	if err := s.Function.AddIndicator(slow); err != nil {
		return err
	}
	s.fast, s.slow = fast, slow
	return nil
}

// OnTick evaluates the crossover on the drive instrument's last price.
func (s *MACross) OnTick(ctx context.Context, tick schema.Tick) error {
	return s.evaluate(ctx, tick.LastPrice)
}

// OnBar evaluates the crossover on the bar close.
func (s *MACross) OnBar(ctx context.Context, bar schema.Bar) error {
	if bar.InstrumentID != s.Function.DriveInstrument() {
		return nil
	}
	return s.evaluate(ctx, bar.Close)
}

func (s *MACross) evaluate(ctx context.Context, price decimal.Decimal) error {
	if s.fast == nil || !s.slow.Ready() || s.pending > 0 || !price.IsPositive() {
		return nil
	}
	fast, slow := s.fast.Value(), s.slow.Value()
	switch {
	case fast > slow:
		return s.hold(ctx, schema.DirectionBuy, price)
	case fast < slow:
		return s.hold(ctx, schema.DirectionSell, price)
	default:
		return nil
	}
}

// hold moves the book to a single position on side: close the opposite side, then open.
func (s *MACross) hold(ctx context.Context, side schema.Direction, price decimal.Decimal) error {
	drive := s.Function.DriveInstrument()
	if opposite, ok := s.Function.GetFuturePosition(drive, side.Opposite()); ok && opposite.Volume > 0 {
		if err := s.send(ctx, price, opposite.Volume, side, schema.OffsetClose); err != nil {
			return err
		}
	}
	if current, ok := s.Function.GetFuturePosition(drive, side); ok && current.Volume > 0 {
		return nil
	}
	return s.send(ctx, price, s.Volume, side, schema.OffsetOpen)
}

func (s *MACross) send(ctx context.Context, price decimal.Decimal, volume int64, side schema.Direction, offset schema.OffsetFlag) error {
	s.pending++
	id, err := s.Function.SendFutureOrder(ctx, s.Function.DriveInstrument(), price, volume, side, offset,
		strategy.WithPriceType(schema.PriceTypeAnyPrice))
	if err != nil {
		return fmt.Errorf("macross: send %s %s: %w", side, offset, err)
	}
	s.Function.Logger().WithFields(logrus.Fields{
		"order":     id,
		"direction": side,
		"offset":    offset,
		"volume":    volume,
		"fast":      s.fast.Value(),
		"slow":      s.slow.Value(),
	}).Debug("crossover order sent")
	return nil
}

func (s *MACross) settled() {
	if s.pending > 0 {
		s.pending--
	}
}

// OnFutureOrder clears the pending marker once an order is fully traded.
func (s *MACross) OnFutureOrder(_ context.Context, order schema.OrderRequest) error {
	if order.OrderStatus == schema.OrderStatusAllTraded {
		s.settled()
	}
	return nil
}

// OnFutureOrderReject clears the pending marker.
func (s *MACross) OnFutureOrderReject(context.Context, schema.OrderRequest) error {
	s.settled()
	return nil
}

// OnFutureOrderCanceled clears the pending marker.
func (s *MACross) OnFutureOrderCanceled(context.Context, schema.OrderRequest) error {
	s.settled()
	return nil
}

// Pending returns the number of orders awaiting a final state.
func (s *MACross) Pending() int { return s.pending }
