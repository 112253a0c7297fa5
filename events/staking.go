package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
)

const (
	// TypeStakeOpened is emitted when a new position is opened.
	TypeStakeOpened = "staking.opened"
	// TypeStakeRewardsClaimed is emitted when accrued rewards are settled
	// and paid out.
	TypeStakeRewardsClaimed = "staking.rewardsClaimed"
	// TypeStakeWithdrawn captures a cooperative withdrawal after lock
	// expiry.
	TypeStakeWithdrawn = "staking.withdrawn"
	// TypeStakeEmergencyWithdrawn captures a penalised early exit.
	TypeStakeEmergencyWithdrawn = "staking.emergencyWithdrawn"
	// TypeStakePauseChanged signals the pause flag flipping.
	TypeStakePauseChanged = "staking.pauseChanged"
	// TypeStakePolicyUpdated signals an admin parameter change.
	TypeStakePolicyUpdated = "staking.policyUpdated"
	// TypeStakeTokenRecovered signals a non-staking token sweep from the
	// ledger's custody.
	TypeStakeTokenRecovered = "staking.tokenRecovered"
)

// StakeOpened captures the creation of a position.
type StakeOpened struct {
	Account    [20]byte
	ID         uint64
	Amount     *big.Int
	Tier       string
	LockPeriod uint64
}

// EventType satisfies the Event interface.
func (StakeOpened) EventType() string { return TypeStakeOpened }

// Attributes satisfies the Event interface.
func (e StakeOpened) Attributes() map[string]string {
	return map[string]string{
		"account":    formatAddress(e.Account),
		"id":         strconv.FormatUint(e.ID, 10),
		"amount":     formatAmount(e.Amount),
		"tier":       e.Tier,
		"lockPeriod": strconv.FormatUint(e.LockPeriod, 10),
	}
}

// StakeRewardsClaimed captures a reward settlement.
type StakeRewardsClaimed struct {
	Account   [20]byte
	ID        uint64
	Reward    *big.Int
	SettledAt uint64
}

// EventType satisfies the Event interface.
func (StakeRewardsClaimed) EventType() string { return TypeStakeRewardsClaimed }

// Attributes satisfies the Event interface.
func (e StakeRewardsClaimed) Attributes() map[string]string {
	return map[string]string{
		"account":   formatAddress(e.Account),
		"id":        strconv.FormatUint(e.ID, 10),
		"reward":    formatAmount(e.Reward),
		"settledAt": strconv.FormatUint(e.SettledAt, 10),
	}
}

// StakeWithdrawn captures a cooperative withdrawal including the final reward
// settlement paid alongside the principal.
type StakeWithdrawn struct {
	Account   [20]byte
	ID        uint64
	Principal *big.Int
	Reward    *big.Int
}

// EventType satisfies the Event interface.
func (StakeWithdrawn) EventType() string { return TypeStakeWithdrawn }

// Attributes satisfies the Event interface.
func (e StakeWithdrawn) Attributes() map[string]string {
	return map[string]string{
		"account":   formatAddress(e.Account),
		"id":        strconv.FormatUint(e.ID, 10),
		"principal": formatAmount(e.Principal),
		"reward":    formatAmount(e.Reward),
	}
}

// StakeEmergencyWithdrawn captures an early exit with its penalty.
type StakeEmergencyWithdrawn struct {
	Account [20]byte
	ID      uint64
	Payout  *big.Int
	Fee     *big.Int
}

// EventType satisfies the Event interface.
func (StakeEmergencyWithdrawn) EventType() string { return TypeStakeEmergencyWithdrawn }

// Attributes satisfies the Event interface.
func (e StakeEmergencyWithdrawn) Attributes() map[string]string {
	return map[string]string{
		"account": formatAddress(e.Account),
		"id":      strconv.FormatUint(e.ID, 10),
		"payout":  formatAmount(e.Payout),
		"fee":     formatAmount(e.Fee),
	}
}

// StakePauseChanged captures pause toggles.
type StakePauseChanged struct {
	Caller [20]byte
	Paused bool
}

// EventType satisfies the Event interface.
func (StakePauseChanged) EventType() string { return TypeStakePauseChanged }

// Attributes satisfies the Event interface.
func (e StakePauseChanged) Attributes() map[string]string {
	return map[string]string{
		"caller": formatAddress(e.Caller),
		"paused": strconv.FormatBool(e.Paused),
	}
}

// StakePolicyUpdated captures a single admin parameter change.
type StakePolicyUpdated struct {
	Caller    [20]byte
	Parameter string
	Value     string
}

// EventType satisfies the Event interface.
func (StakePolicyUpdated) EventType() string { return TypeStakePolicyUpdated }

// Attributes satisfies the Event interface.
func (e StakePolicyUpdated) Attributes() map[string]string {
	return map[string]string{
		"caller":    formatAddress(e.Caller),
		"parameter": e.Parameter,
		"value":     e.Value,
	}
}

// StakeTokenRecovered captures a custody sweep of a non-staking token.
type StakeTokenRecovered struct {
	Caller    [20]byte
	Token     string
	Recipient [20]byte
	Amount    *big.Int
}

// EventType satisfies the Event interface.
func (StakeTokenRecovered) EventType() string { return TypeStakeTokenRecovered }

// Attributes satisfies the Event interface.
func (e StakeTokenRecovered) Attributes() map[string]string {
	return map[string]string{
		"caller":    formatAddress(e.Caller),
		"token":     e.Token,
		"recipient": formatAddress(e.Recipient),
		"amount":    formatAmount(e.Amount),
	}
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
