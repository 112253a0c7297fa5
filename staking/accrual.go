package staking

import "math/big"

// PendingReward computes the reward accrued by a position between its last
// settlement and now. The function is pure: it never mutates the position, and
// the caller commits the new settlement timestamp only after the reward has
// actually been paid out.
//
// The reward is amount × rate × elapsed / (secondsPerYear × Scale), then
// scaled by the tier multiplier. Multiplications happen before divisions on a
// big.Int intermediate, and every division floors, so the result never exceeds
// the exact mathematical value.
func PendingReward(position *Position, now uint64, rate *big.Int, table MultiplierTable) *big.Int {
	if position == nil || position.Amount == nil || position.Amount.Sign() == 0 {
		return big.NewInt(0)
	}
	if rate == nil || rate.Sign() == 0 {
		return big.NewInt(0)
	}
	if now <= position.LastSettledAt {
		return big.NewInt(0)
	}
	elapsed := new(big.Int).SetUint64(now - position.LastSettledAt)

	base := new(big.Int).Mul(position.Amount, rate)
	base.Mul(base, elapsed)
	base.Quo(base, big.NewInt(secondsPerYear))
	base.Quo(base, Scale)

	return ScaledMul(base, table.Multiplier(position.Tier))
}
