package leverage

import "math/big"

func mulDiv(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, denominator)
}

// mulDivRoundingUp computes ceil(a*b/denominator) for non-negative operands.
func mulDivRoundingUp(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	quotient, remainder := new(big.Int).QuoRem(product, denominator, new(big.Int))
	if remainder.Sign() > 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient
}

// toScaled lifts a native token amount into the collateral precision.
func toScaled(amount *big.Int) *big.Int {
	return new(big.Int).Mul(amount, CollateralBalancePrecision)
}

// fromScaled truncates a scaled amount back to native token units, rounding
// toward zero.
func fromScaled(scaled *big.Int) *big.Int {
	return new(big.Int).Quo(scaled, CollateralBalancePrecision)
}

func maxInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
