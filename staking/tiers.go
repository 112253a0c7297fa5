package staking

import "math/big"

// Tier is the discrete reward-multiplier class assigned to a position when it
// is opened. It never changes afterwards, even when thresholds or the
// multiplier table do.
type Tier uint8

const (
	TierBasic Tier = iota
	TierSilver
	TierGold
)

// String returns the canonical lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierGold:
		return "gold"
	case TierSilver:
		return "silver"
	default:
		return "basic"
	}
}

// Tier qualification thresholds. Amounts are denominated in wei and the lock
// durations in seconds.
var (
	goldMinStake   = mustBigInt("1000000000000000000000") // 1000 units
	silverMinStake = mustBigInt("500000000000000000000")  // 500 units
)

const (
	goldMinLockSeconds   uint64 = 30 * 24 * 60 * 60
	silverMinLockSeconds uint64 = 14 * 24 * 60 * 60
)

// ClassifyTier maps a principal amount and lock period onto a tier. The
// function is total: any input yields a tier, falling through to basic.
func ClassifyTier(amount *big.Int, lockPeriod uint64) Tier {
	if amount == nil {
		return TierBasic
	}
	if amount.Cmp(goldMinStake) >= 0 && lockPeriod >= goldMinLockSeconds {
		return TierGold
	}
	if amount.Cmp(silverMinStake) >= 0 && lockPeriod >= silverMinLockSeconds {
		return TierSilver
	}
	return TierBasic
}

// MultiplierTable maps tiers to 1e18-scaled reward multipliers. Lookups happen
// at accrual time, so an admin change applies prospectively to every
// subsequent computation regardless of when the position was opened.
type MultiplierTable struct {
	Basic  *big.Int
	Silver *big.Int
	Gold   *big.Int
}

// DefaultMultiplierTable returns the launch multipliers: 1.0x, 1.25x and 1.5x.
func DefaultMultiplierTable() MultiplierTable {
	return MultiplierTable{
		Basic:  new(big.Int).Set(Scale),
		Silver: mustBigInt("1250000000000000000"),
		Gold:   mustBigInt("1500000000000000000"),
	}
}

// Multiplier returns the multiplier for the supplied tier, defaulting nil
// entries to 1.0 so a partially initialised table never zeroes rewards.
func (t MultiplierTable) Multiplier(tier Tier) *big.Int {
	var value *big.Int
	switch tier {
	case TierGold:
		value = t.Gold
	case TierSilver:
		value = t.Silver
	default:
		value = t.Basic
	}
	if value == nil {
		return new(big.Int).Set(Scale)
	}
	return new(big.Int).Set(value)
}

// WithMultiplier returns a copy of the table with the given tier replaced.
func (t MultiplierTable) WithMultiplier(tier Tier, value *big.Int) MultiplierTable {
	clone := t.Clone()
	set := new(big.Int).Set(value)
	switch tier {
	case TierGold:
		clone.Gold = set
	case TierSilver:
		clone.Silver = set
	default:
		clone.Basic = set
	}
	return clone
}

// Clone returns a deep copy of the multiplier table.
func (t MultiplierTable) Clone() MultiplierTable {
	clone := MultiplierTable{}
	if t.Basic != nil {
		clone.Basic = new(big.Int).Set(t.Basic)
	}
	if t.Silver != nil {
		clone.Silver = new(big.Int).Set(t.Silver)
	}
	if t.Gold != nil {
		clone.Gold = new(big.Int).Set(t.Gold)
	}
	return clone
}
