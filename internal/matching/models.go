package matching

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/meltica-replay/internal/schema"
)

// FeeModel evaluates trading fees for executed fills.
type FeeModel interface {
	Fee(order schema.OrderRequest, fillQty, fillPrice decimal.Decimal) decimal.Decimal
}

// ProportionalFee charges a fraction of price x volume.
type ProportionalFee struct {
	Rate decimal.Decimal
}

// Fee implements FeeModel.
func (p ProportionalFee) Fee(_ schema.OrderRequest, fillQty, fillPrice decimal.Decimal) decimal.Decimal {
	if fillQty.LessThanOrEqual(decimal.Zero) || fillPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if p.Rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return fillQty.Mul(fillPrice).Mul(p.Rate)
}

// PerLotFee charges a fixed amount per traded lot.
type PerLotFee struct {
	Amount decimal.Decimal
}

// Fee implements FeeModel.
func (p PerLotFee) Fee(_ schema.OrderRequest, fillQty, _ decimal.Decimal) decimal.Decimal {
	if fillQty.LessThanOrEqual(decimal.Zero) || p.Amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return fillQty.Mul(p.Amount)
}

// SlippageModel adjusts the execution price of market orders to account for impact.
type SlippageModel interface {
	Adjust(order schema.OrderRequest, reference decimal.Decimal) decimal.Decimal
}

// BasisPointSlippage moves market fills against the order by a fixed BPS amount.
type BasisPointSlippage struct {
	BPS decimal.Decimal
}

// Adjust implements SlippageModel.
func (b BasisPointSlippage) Adjust(order schema.OrderRequest, reference decimal.Decimal) decimal.Decimal {
	if b.BPS.IsZero() || order.PriceType != schema.PriceTypeAnyPrice {
		return reference
	}
	shift := reference.Mul(b.BPS).Div(decimal.NewFromInt(10_000))
	if order.Direction == schema.DirectionSell {
		return reference.Sub(shift)
	}
	return reference.Add(shift)
}

// NoFee charges nothing.
type NoFee struct{}

// Fee implements FeeModel.
func (NoFee) Fee(schema.OrderRequest, decimal.Decimal, decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}
