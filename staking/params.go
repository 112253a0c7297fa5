package staking

import (
	"fmt"
	"math/big"
)

// EmergencyFeeCap bounds the emergency withdrawal fee at 20% of the precision
// unit.
var EmergencyFeeCap = mustBigInt("200000000000000000") // 2e17

// PolicyParameters holds the mutable staking policy. The engine owns the
// authoritative copy; admin setters are the only writers.
type PolicyParameters struct {
	// RewardRate is the annual reward rate at the 1e18 scale.
	RewardRate *big.Int
	// MinimumStake is the smallest principal accepted when opening a
	// position, in wei.
	MinimumStake *big.Int
	// DefaultLockPeriod is applied when a caller does not request a lock,
	// and is the floor for explicit requests, in seconds.
	DefaultLockPeriod uint64
	// EmergencyFeeRate is the 1e18-scaled penalty applied to emergency
	// withdrawals.
	EmergencyFeeRate *big.Int
}

// DefaultPolicyParameters returns the launch policy: 5% annual rate, 200 unit
// minimum stake, 7 day default lock and a 10% emergency fee.
func DefaultPolicyParameters() PolicyParameters {
	return PolicyParameters{
		RewardRate:        mustBigInt("50000000000000000"),
		MinimumStake:      mustBigInt("200000000000000000000"),
		DefaultLockPeriod: 7 * 24 * 60 * 60,
		EmergencyFeeRate:  mustBigInt("100000000000000000"),
	}
}

// Validate ensures the parameters fall within safe operating ranges.
func (p PolicyParameters) Validate() error {
	if p.RewardRate == nil || p.RewardRate.Sign() < 0 {
		return fmt.Errorf("staking: reward rate must be non-negative")
	}
	if p.MinimumStake == nil || p.MinimumStake.Sign() <= 0 {
		return fmt.Errorf("staking: minimum stake must be positive")
	}
	if p.DefaultLockPeriod == 0 {
		return fmt.Errorf("staking: default lock period must be positive")
	}
	if p.EmergencyFeeRate == nil || p.EmergencyFeeRate.Sign() < 0 {
		return fmt.Errorf("staking: emergency fee must be non-negative")
	}
	if p.EmergencyFeeRate.Cmp(EmergencyFeeCap) > 0 {
		return fmt.Errorf("staking: emergency fee exceeds cap")
	}
	return nil
}

// Clone returns a deep copy of the parameters.
func (p PolicyParameters) Clone() PolicyParameters {
	clone := PolicyParameters{DefaultLockPeriod: p.DefaultLockPeriod}
	if p.RewardRate != nil {
		clone.RewardRate = new(big.Int).Set(p.RewardRate)
	}
	if p.MinimumStake != nil {
		clone.MinimumStake = new(big.Int).Set(p.MinimumStake)
	}
	if p.EmergencyFeeRate != nil {
		clone.EmergencyFeeRate = new(big.Int).Set(p.EmergencyFeeRate)
	}
	return clone
}
