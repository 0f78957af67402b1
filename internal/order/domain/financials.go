package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FinancialRates are the business constants behind the delivery-time profit
// snapshot. They are config-driven so finance can tune them.
type FinancialRates struct {
	GSTRate       decimal.Decimal // e.g. 0.18
	ShippingFlat  decimal.Decimal
	PackagingFlat decimal.Decimal
	GatewayFeePct decimal.Decimal // applied to prepaid orders only
}

// FinancialSnapshot is computed once when the order reaches DELIVERED and is
// never recomputed: later cost or rate changes must not rewrite history.
type FinancialSnapshot struct {
	GrossRevenue  decimal.Decimal
	TaxableValue  decimal.Decimal
	GSTAmount     decimal.Decimal
	ProductCost   decimal.Decimal
	ShippingCost  decimal.Decimal
	PackagingCost decimal.Decimal
	GatewayFee    decimal.Decimal
	NetProfit     decimal.Decimal
	MarginPct     decimal.Decimal
	ComputedAt    time.Time
}

// ComputeFinancials backs GST out of gross revenue, subtracts the cost basis
// assigned by the batch allocator and the flat fulfillment estimates, and
// reports net profit and margin. Line items that never matched a batch carry
// a zero cost snapshot and simply understate cost.
func ComputeFinancials(o Order, rates FinancialRates, now time.Time) FinancialSnapshot {
	gross := o.Pricing.Total
	taxable := gross.Div(decimal.NewFromInt(1).Add(rates.GSTRate)).Round(2)
	gst := gross.Sub(taxable)

	cost := decimal.Zero
	for _, it := range o.Items {
		if it.CostAtTimeOfOrder != nil {
			cost = cost.Add(it.CostAtTimeOfOrder.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}

	fee := decimal.Zero
	if o.Prepaid() {
		fee = gross.Mul(rates.GatewayFeePct).Round(2)
	}

	net := taxable.Sub(cost).Sub(rates.ShippingFlat).Sub(rates.PackagingFlat).Sub(fee)

	margin := decimal.Zero
	if gross.IsPositive() {
		margin = net.Div(gross).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return FinancialSnapshot{
		GrossRevenue:  gross,
		TaxableValue:  taxable,
		GSTAmount:     gst,
		ProductCost:   cost,
		ShippingCost:  rates.ShippingFlat,
		PackagingCost: rates.PackagingFlat,
		GatewayFee:    fee,
		NetProfit:     net,
		MarginPct:     margin,
		ComputedAt:    now,
	}
}
