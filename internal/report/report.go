// Package report computes summary statistics from a backtest's daily asset ledger.
package report

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"

	"github.com/coachpo/meltica-replay/internal/schema"
)

// TradingDaysPerYear annualizes daily figures.
const TradingDaysPerYear = 250

// Builder implements schema.ReportBuilder over decimal fund balances.
type Builder struct {
	DaysPerYear int
}

// NewBuilder returns a builder annualizing with TradingDaysPerYear.
func NewBuilder() *Builder {
	return &Builder{DaysPerYear: TradingDaysPerYear}
}

func (b *Builder) daysPerYear() int {
	if b == nil || b.DaysPerYear <= 0 {
		return TradingDaysPerYear
	}
	return b.DaysPerYear
}

// TotalYield returns (final fund balance - fund) / fund.
func (b *Builder) TotalYield(assets []schema.AssetSnapshot, fund decimal.Decimal) float64 {
	if len(assets) == 0 || !fund.IsPositive() {
		return 0
	}
	final := assets[len(assets)-1].FundBalance
	return final.Sub(fund).Div(fund).InexactFloat64()
}

// AnnualYield scales TotalYield to a year of trading days.
func (b *Builder) AnnualYield(assets []schema.AssetSnapshot, fund decimal.Decimal, tradingDays int) float64 {
	if tradingDays <= 0 {
		return 0
	}
	return b.TotalYield(assets, fund) * float64(b.daysPerYear()) / float64(tradingDays)
}

// ProfitPerLot divides the total profit by the number of round-trip lots.
func (b *Builder) ProfitPerLot(assets []schema.AssetSnapshot, fund decimal.Decimal, lots float64) decimal.Decimal {
	if len(assets) == 0 || lots <= 0 {
		return decimal.Zero
	}
	profit := assets[len(assets)-1].FundBalance.Sub(fund)
	return profit.Div(decimal.NewFromFloat(lots))
}

// MaxRetracement returns the largest peak-to-trough drop of the fund balance, starting from
// fund as the initial peak.
func (b *Builder) MaxRetracement(assets []schema.AssetSnapshot, fund decimal.Decimal) decimal.Decimal {
	peak := fund
	maxDrawdown := decimal.Zero
	for _, a := range assets {
		equity := a.FundBalance
		if equity.GreaterThan(peak) {
			peak = equity
		}
		drawdown := peak.Sub(equity)
		if drawdown.GreaterThan(maxDrawdown) {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// RetracementRatio returns the largest drawdown relative to the peak it fell from.
func (b *Builder) RetracementRatio(assets []schema.AssetSnapshot, fund decimal.Decimal) float64 {
	peak := fund
	maxRatio := 0.0
	for _, a := range assets {
		equity := a.FundBalance
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if !peak.IsPositive() {
			continue
		}
		ratio := peak.Sub(equity).Div(peak).InexactFloat64()
		if ratio > maxRatio {
			maxRatio = ratio
		}
	}
	return maxRatio
}

// Sharpe returns the annualized Sharpe ratio of daily fund balance returns with a zero
// risk-free rate. Fewer than two returns or zero volatility yield zero.
func (b *Builder) Sharpe(assets []schema.AssetSnapshot, fund decimal.Decimal) float64 {
	returns := DailyReturns(assets, fund)
	if len(returns) < 2 {
		return 0
	}
	mean, err := stats.Mean(returns)
	if err != nil {
		return 0
	}
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil || sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return mean / sd * math.Sqrt(float64(b.daysPerYear()))
}

// DailyReturns converts the ledger into day-over-day fund balance returns.
func DailyReturns(assets []schema.AssetSnapshot, fund decimal.Decimal) []float64 {
	prev := fund
	out := make([]float64, 0, len(assets))
	for _, a := range assets {
		if !prev.IsPositive() {
			prev = a.FundBalance
			continue
		}
		out = append(out, a.FundBalance.Sub(prev).Div(prev).InexactFloat64())
		prev = a.FundBalance
	}
	return out
}
