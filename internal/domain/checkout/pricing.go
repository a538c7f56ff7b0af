package checkout

import "github.com/shopspring/decimal"

var (
	premiumRate = decimal.RequireFromString("0.10")
	one         = decimal.NewFromInt(1)
)

// DiscountRate returns the fraction of the subtotal discounted for the tier.
func (t Tier) DiscountRate() decimal.Decimal {
	switch t {
	case TierPremium:
		return premiumRate
	default:
		return decimal.Zero
	}
}

// ComputeTotal returns the amount to charge for the cart: the subtotal minus
// the owner's tier discount, floored at zero and rounded to 2 decimal places.
func ComputeTotal(cart Cart) decimal.Decimal {
	total := cart.Subtotal().Mul(one.Sub(cart.User.Tier.DiscountRate()))
	if total.IsNegative() {
		total = decimal.Zero
	}
	return total.Round(2)
}
