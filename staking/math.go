package staking

import "math/big"

// Scale is the fixed-point precision unit. Rates, multipliers and the
// emergency fee are all integers at this scale, where Scale itself means 1.0.
var Scale = mustBigInt("1000000000000000000") // 1e18

// secondsPerYear converts annual rates to per-second accrual.
const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// ScaledMul returns floor(a*b/Scale). All reward math in the ledger floors so
// a claimant can never receive more than the exact mathematical result.
func ScaledMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, Scale)
}

// ScaledDiv returns floor(a*Scale/b). A zero divisor is a programming error
// and fails fast rather than returning a silent zero.
func ScaledDiv(a, b *big.Int) *big.Int {
	if b == nil || b.Sign() == 0 {
		panic("staking: scaled division by zero")
	}
	if a == nil {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(a, Scale)
	return scaled.Quo(scaled, b)
}
