package js

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/meltica-replay/internal/schema"
)

// Payloads reach scripts as plain objects: prices as numbers, times as epoch milliseconds.

func float(d decimal.Decimal) float64 { return d.InexactFloat64() }

func millis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func tickValue(t schema.Tick) map[string]any {
	return map[string]any{
		"instrumentId": t.InstrumentID,
		"tradingDay":   t.TradingDay.Format(time.DateOnly),
		"timestamp":    millis(t.Timestamp),
		"lastPrice":    float(t.LastPrice),
		"bidPrice":     float(t.BidPrice),
		"askPrice":     float(t.AskPrice),
		"bidVolume":    t.BidVolume,
		"askVolume":    t.AskVolume,
		"volume":       t.Volume,
		"openInterest": t.OpenInterest,
	}
}

func barValue(b schema.Bar) map[string]any {
	return map[string]any{
		"instrumentId": b.InstrumentID,
		"tradingDay":   b.TradingDay.Format(time.DateOnly),
		"interval":     b.Interval,
		"barType":      string(b.BarType),
		"startTime":    millis(b.StartTime),
		"endTime":      millis(b.EndTime),
		"open":         float(b.Open),
		"high":         float(b.High),
		"low":          float(b.Low),
		"close":        float(b.Close),
		"volume":       b.Volume,
		"openInterest": b.OpenInterest,
	}
}

func orderValue(o schema.OrderRequest) map[string]any {
	out := map[string]any{
		"orderSysId":        o.OrderSysID,
		"instrumentId":      o.InstrumentID,
		"direction":         string(o.Direction),
		"offsetFlag":        string(o.OffsetFlag),
		"hedgeFlag":         string(o.HedgeFlag),
		"priceType":         string(o.PriceType),
		"orderType":         string(o.OrderType),
		"price":             float(o.Price),
		"volume":            o.Volume,
		"volumeTraded":      o.VolumeTraded,
		"volumeCanceled":    o.VolumeCanceled,
		"orderStatus":       string(o.OrderStatus),
		"orderRejectReason": string(o.OrderRejectReason),
		"matchPrice":        float(o.MatchPrice),
		"transactionCost":   float(o.TransactionCost),
		"insertTime":        millis(o.InsertTime),
	}
	if o.OrderTime != nil {
		out["orderTime"] = millis(*o.OrderTime)
	}
	return out
}

func tradeValue(t schema.Trade) map[string]any {
	return map[string]any{
		"tradeId":      t.TradeID,
		"orderSysId":   t.OrderSysID,
		"instrumentId": t.InstrumentID,
		"direction":    string(t.Direction),
		"offsetFlag":   string(t.OffsetFlag),
		"price":        float(t.Price),
		"volume":       t.Volume,
		"commission":   float(t.Commission),
		"tradingDay":   t.TradingDay.Format(time.DateOnly),
		"tradeTime":    millis(t.TradeTime),
	}
}

func positionValue(p schema.Position) map[string]any {
	return map[string]any{
		"instrumentId":    p.InstrumentID,
		"direction":       string(p.Direction),
		"volume":          p.Volume,
		"todayVolume":     p.TodayVolume,
		"yesterdayVolume": p.YesterdayVolume,
		"avgPrice":        float(p.AvgPrice),
		"margin":          float(p.Margin),
		"positionProfit":  float(p.PositionProfit),
		"closeProfit":     float(p.CloseProfit),
	}
}
