package strategies

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/coachpo/meltica-replay/internal/schema"
	"github.com/coachpo/meltica-replay/internal/strategy"
)

// Logging logs every callback at debug level. Useful when checking a data set.
type Logging struct {
	strategy.Base
	Logger logrus.FieldLogger
}

func (s *Logging) logger() logrus.FieldLogger {
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	return s.Logger
}

// OnStart logs the run start.
func (s *Logging) OnStart(context.Context) error {
	s.logger().Info("strategy started")
	return nil
}

// OnInit logs each sub-session start.
func (s *Logging) OnInit(context.Context) error {
	s.logger().Debug("session initialised")
	return nil
}

// OnTick logs tick events.
func (s *Logging) OnTick(_ context.Context, tick schema.Tick) error {
	s.logger().WithFields(logrus.Fields{
		"instrument": tick.InstrumentID,
		"last":       tick.LastPrice.String(),
		"bid":        tick.BidPrice.String(),
		"ask":        tick.AskPrice.String(),
		"at":         tick.Timestamp,
	}).Debug("tick")
	return nil
}

// OnBar logs bar events.
func (s *Logging) OnBar(_ context.Context, bar schema.Bar) error {
	s.logger().WithFields(logrus.Fields{
		"instrument": bar.InstrumentID,
		"open":       bar.Open.String(),
		"high":       bar.High.String(),
		"low":        bar.Low.String(),
		"close":      bar.Close.String(),
		"at":         bar.Timestamp(),
	}).Debug("bar")
	return nil
}

// OnFutureTrade logs fills.
func (s *Logging) OnFutureTrade(_ context.Context, trade schema.Trade) error {
	s.logger().WithFields(logrus.Fields{
		"order":      trade.OrderSysID,
		"instrument": trade.InstrumentID,
		"direction":  trade.Direction,
		"offset":     trade.OffsetFlag,
		"price":      trade.Price.String(),
		"volume":     trade.Volume,
	}).Info("trade")
	return nil
}

// OnFutureOrder logs order updates.
func (s *Logging) OnFutureOrder(_ context.Context, order schema.OrderRequest) error {
	s.logger().WithFields(logrus.Fields{
		"order":  order.OrderSysID,
		"status": order.OrderStatus,
	}).Debug("order update")
	return nil
}

// OnFutureOrderReject logs rejections.
func (s *Logging) OnFutureOrderReject(_ context.Context, order schema.OrderRequest) error {
	s.logger().WithFields(logrus.Fields{
		"order":  order.OrderSysID,
		"reason": order.OrderRejectReason,
	}).Warn("order rejected")
	return nil
}

// OnEnd logs the run end.
func (s *Logging) OnEnd(context.Context) error {
	s.logger().Info("strategy finished")
	return nil
}
