package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetSnapshot is the per-trading-day cash and fund balance record.
type AssetSnapshot struct {
	ProductCode    string          `json:"product_code"`
	StrategyID     string          `json:"strategy_id"`
	FundBalance    decimal.Decimal `json:"fund_balance"`
	Cash           decimal.Decimal `json:"cash"`
	AvailableCash  decimal.Decimal `json:"available_cash"`
	PreFundBalance decimal.Decimal `json:"pre_fund_balance"`
	Margin         decimal.Decimal `json:"margin"`
	CloseProfit    decimal.Decimal `json:"close_profit"`
	PositionProfit decimal.Decimal `json:"position_profit"`
	Commission     decimal.Decimal `json:"commission"`
	TradingDate    time.Time       `json:"trading_date"`
}

// NewAssetSnapshot bootstraps a snapshot whose balances all equal fund.
func NewAssetSnapshot(productCode, strategyID string, fund decimal.Decimal, tradingDate time.Time) *AssetSnapshot {
	return &AssetSnapshot{
		ProductCode:    productCode,
		StrategyID:     strategyID,
		FundBalance:    fund,
		Cash:           fund,
		AvailableCash:  fund,
		PreFundBalance: fund,
		Margin:         decimal.Zero,
		CloseProfit:    decimal.Zero,
		PositionProfit: decimal.Zero,
		Commission:     decimal.Zero,
		TradingDate:    tradingDate,
	}
}

// Clone returns a copy safe to hand to another owner.
func (a *AssetSnapshot) Clone() *AssetSnapshot {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

// DayData is the container Accounting receives at DayBegin and returns at DayEnd. Current is
// the snapshot being mutated for the ongoing trading day; Next is the snapshot the following
// trading day starts from.
type DayData struct {
	Current *AssetSnapshot
	Next    *AssetSnapshot
}

// Position aggregates the open volume of one instrument and direction.
type Position struct {
	InstrumentID    string          `json:"instrument_id"`
	Direction       Direction       `json:"direction"`
	HedgeFlag       HedgeFlag       `json:"hedge_flag"`
	Volume          int64           `json:"volume"`
	TodayVolume     int64           `json:"today_volume"`
	YesterdayVolume int64           `json:"yesterday_volume"`
	OpenCost        decimal.Decimal `json:"open_cost"`
	AvgPrice        decimal.Decimal `json:"avg_price"`
	Margin          decimal.Decimal `json:"margin"`
	PositionProfit  decimal.Decimal `json:"position_profit"`
	CloseProfit     decimal.Decimal `json:"close_profit"`
	TradingDay      time.Time       `json:"trading_day"`
}

// PositionDetail tracks one opening fill that is still (partially) open.
type PositionDetail struct {
	TradeID      string          `json:"trade_id"`
	InstrumentID string          `json:"instrument_id"`
	Direction    Direction       `json:"direction"`
	OpenDate     time.Time       `json:"open_date"`
	OpenPrice    decimal.Decimal `json:"open_price"`
	Volume       int64           `json:"volume"`
	CloseVolume  int64           `json:"close_volume"`
	CloseProfit  decimal.Decimal `json:"close_profit"`
	TradingDay   time.Time       `json:"trading_day"`
}

// Summary is the end-of-run performance record keyed by drive instrument and date range.
type Summary struct {
	InstrumentID     string          `json:"instrument_id"`
	StartDate        time.Time       `json:"start_date"`
	EndDate          time.Time       `json:"end_date"`
	TradingDayNum    int             `json:"trading_day_num"`
	TotalTradeLots   float64         `json:"total_trade_lots"`
	LotsPerDay       float64         `json:"lots_per_day"`
	TotalYield       float64         `json:"total_yield"`
	AnnualYield      float64         `json:"annual_yield"`
	ProfitPerLot     decimal.Decimal `json:"profit_per_lot"`
	MaxRetracement   decimal.Decimal `json:"max_retracement"`
	RetracementRatio float64         `json:"retracement_ratio"`
	Sharpe           float64         `json:"sharpe"`
}

// Param is one named constructor parameter recorded for provenance.
type Param struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}
