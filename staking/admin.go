package staking

import (
	"fmt"
	"math/big"

	"stakeledger/events"
)

func (e *Engine) requireAdmin(caller [20]byte) error {
	if e.roles == nil || !e.roles.HasRole(RoleStakingAdmin, caller[:]) {
		return ErrUnauthorized
	}
	return nil
}

// SetRewardRate updates the annual reward rate. The change applies to every
// accrual computed after this call; elapsed time is not re-priced
// retroactively because settlement always reads the rate current at claim
// time.
func (e *Engine) SetRewardRate(caller [20]byte, rate *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if rate == nil || rate.Sign() < 0 {
		return errInvalidAmount
	}
	e.params.RewardRate = new(big.Int).Set(rate)
	if err := e.state.PutPolicyParameters(e.params); err != nil {
		return err
	}
	e.emitter.Emit(events.StakePolicyUpdated{Caller: caller, Parameter: "rewardRate", Value: rate.String()})
	return nil
}

// SetRewardMultiplier updates the multiplier for one tier. Lookups are
// dynamic, so open positions of that tier accrue at the new multiplier from
// now on while keeping their tier assignment.
func (e *Engine) SetRewardMultiplier(caller [20]byte, tier Tier, value *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if value == nil || value.Sign() <= 0 {
		return errInvalidAmount
	}
	e.multipliers = e.multipliers.WithMultiplier(tier, value)
	if err := e.state.PutMultiplierTable(e.multipliers); err != nil {
		return err
	}
	e.emitter.Emit(events.StakePolicyUpdated{
		Caller:    caller,
		Parameter: "multiplier." + tier.String(),
		Value:     value.String(),
	})
	return nil
}

// SetEmergencyFee updates the penalty applied to emergency withdrawals,
// bounded by EmergencyFeeCap.
func (e *Engine) SetEmergencyFee(caller [20]byte, value *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if value == nil || value.Sign() < 0 {
		return errInvalidAmount
	}
	if value.Cmp(EmergencyFeeCap) > 0 {
		return ErrFeeTooHigh
	}
	e.params.EmergencyFeeRate = new(big.Int).Set(value)
	if err := e.state.PutPolicyParameters(e.params); err != nil {
		return err
	}
	e.emitter.Emit(events.StakePolicyUpdated{Caller: caller, Parameter: "emergencyFeeRate", Value: value.String()})
	return nil
}

// Pause suspends staking, claims and cooperative withdrawals. Emergency
// withdrawal and admin operations stay available so depositors always retain
// an exit.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true)
}

// Unpause resumes normal operation.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.state.SetPaused(paused); err != nil {
		return err
	}
	e.emitter.Emit(events.StakePauseChanged{Caller: caller, Paused: paused})
	return nil
}

// RecoverToken sweeps the module's full custody balance of a token that was
// sent to the ledger by mistake. The staking token itself is refused to
// protect user principal. The swept amount is returned.
func (e *Engine) RecoverToken(caller [20]byte, token string, recipient [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.tokens == nil {
		return nil, errNilTokenLedger
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if token == e.stakingToken {
		return nil, ErrCannotRecoverStakingToken
	}
	balance, err := e.tokens.BalanceOf(token, e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := e.tokens.Transfer(token, e.moduleAddress, recipient, balance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emitter.Emit(events.StakeTokenRecovered{
		Caller:    caller,
		Token:     token,
		Recipient: recipient,
		Amount:    new(big.Int).Set(balance),
	})
	return balance, nil
}
