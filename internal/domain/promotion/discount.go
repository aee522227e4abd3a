package promotion

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Calculate returns the discount p grants on orderTotal. It assumes p has
// already been validated; a percentage above 100 is not capped here.
func Calculate(p *Promotion, orderTotal decimal.Decimal) decimal.Decimal {
	total := floorAtZero(orderTotal)

	switch p.DiscountType {
	case DiscountPercentage:
		return total.Mul(p.DiscountValue).Div(hundred)
	default:
		return decimal.Min(floorAtZero(p.DiscountValue), total)
	}
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
