package staking

import (
	"fmt"
	"math/big"
	"time"

	"stakeledger/events"
)

// RoleStakingAdmin gates every parameter mutation on the engine.
const RoleStakingAdmin = "ROLE_STAKING_ADMIN"

// ledgerState is the persistence surface the engine drives. Implementations
// must return a nil position (not an error) for lookups that miss.
type ledgerState interface {
	GetPosition(addr [20]byte, id uint64) (*Position, error)
	PutPosition(pos *Position) error
	DeletePosition(addr [20]byte, id uint64) error
	ListPositions(addr [20]byte) ([]*Position, error)
	StakedAccounts() ([][20]byte, error)
	NextPositionID(addr [20]byte) (uint64, error)
	TotalStaked() (*big.Int, error)
	SetTotalStaked(total *big.Int) error
	Paused() (bool, error)
	SetPaused(paused bool) error
	PutPolicyParameters(params PolicyParameters) error
	PutMultiplierTable(table MultiplierTable) error
}

// TokenLedger is the external fungible-token capability. A transfer either
// succeeds completely or returns an error; the engine treats any error as a
// hard failure and aborts the surrounding operation.
type TokenLedger interface {
	Transfer(token string, from, to [20]byte, amount *big.Int) error
	BalanceOf(token string, addr [20]byte) (*big.Int, error)
}

// RoleView is the external access-control capability consulted for
// admin-gated operations.
type RoleView interface {
	HasRole(role string, addr []byte) bool
}

// Engine orchestrates the staking ledger: position lifecycle, reward
// settlement and policy administration. Execution is serialized single-writer;
// the engine additionally rejects recursive invocation triggered as a side
// effect of the token-transfer capability.
type Engine struct {
	state         ledgerState
	tokens        TokenLedger
	roles         RoleView
	params        PolicyParameters
	multipliers   MultiplierTable
	moduleAddress [20]byte
	stakingToken  string
	emitter       events.Emitter
	nowFunc       func() time.Time
	entered       bool
}

// NewEngine constructs a staking engine holding custody at the module address
// and denominating all positions in the given token.
func NewEngine(moduleAddr [20]byte, stakingToken string) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		stakingToken:  stakingToken,
		params:        DefaultPolicyParameters(),
		multipliers:   DefaultMultiplierTable(),
		emitter:       events.NoopEmitter{},
		nowFunc:       time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state ledgerState) { e.state = state }

// SetTokenLedger wires the engine to the token transfer capability.
func (e *Engine) SetTokenLedger(tokens TokenLedger) { e.tokens = tokens }

// SetRoles wires the engine to the access-control capability.
func (e *Engine) SetRoles(roles RoleView) { e.roles = roles }

// SetEmitter wires the engine to an event subscriber.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used to observe the current time at call
// boundaries.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFunc = now
}

// SetPolicy replaces the full parameter set, typically at bootstrap from
// configuration. Runtime changes go through the admin setters instead.
func (e *Engine) SetPolicy(params PolicyParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	e.params = params.Clone()
	return nil
}

// SetMultiplierTable replaces the full multiplier table at bootstrap.
func (e *Engine) SetMultiplierTable(table MultiplierTable) {
	if e == nil {
		return
	}
	e.multipliers = table.Clone()
}

// ModuleAddress returns the custody address holding staked principal.
func (e *Engine) ModuleAddress() [20]byte { return e.moduleAddress }

// StakingToken returns the token symbol positions are denominated in.
func (e *Engine) StakingToken() string { return e.stakingToken }

// Policy returns a copy of the current policy parameters.
func (e *Engine) Policy() PolicyParameters { return e.params.Clone() }

// Multipliers returns a copy of the current tier multiplier table.
func (e *Engine) Multipliers() MultiplierTable { return e.multipliers.Clone() }

func (e *Engine) now() uint64 {
	return uint64(e.nowFunc().UTC().Unix())
}

// begin acquires the non-reentrant execution guard. Reward and lock invariants
// are checked-then-acted, so a nested mutating call while one is in flight
// must be rejected.
func (e *Engine) begin() error {
	if e.entered {
		return errReentrantCall
	}
	e.entered = true
	return nil
}

func (e *Engine) end() { e.entered = false }

func (e *Engine) guardPause() error {
	paused, err := e.state.Paused()
	if err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	return nil
}

// Stake opens a new position for the caller and pulls the principal into the
// module's custody. The assigned position id is returned.
func (e *Engine) Stake(caller [20]byte, amount *big.Int, lockPeriod uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if e.tokens == nil {
		return 0, errNilTokenLedger
	}
	if err := e.begin(); err != nil {
		return 0, err
	}
	defer e.end()
	if err := e.guardPause(); err != nil {
		return 0, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, errInvalidAmount
	}
	if amount.Cmp(e.params.MinimumStake) < 0 {
		return 0, ErrBelowMinimum
	}
	if lockPeriod == 0 {
		lockPeriod = e.params.DefaultLockPeriod
	} else if lockPeriod < e.params.DefaultLockPeriod {
		return 0, ErrLockTooShort
	}

	if err := e.tokens.Transfer(e.stakingToken, caller, e.moduleAddress, amount); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	id, err := e.state.NextPositionID(caller)
	if err != nil {
		return 0, err
	}
	now := e.now()
	position := &Position{
		Account:       caller,
		ID:            id,
		Amount:        new(big.Int).Set(amount),
		OpenedAt:      now,
		LastSettledAt: now,
		LockPeriod:    lockPeriod,
		Tier:          ClassifyTier(amount, lockPeriod),
	}
	if err := e.state.PutPosition(position); err != nil {
		return 0, err
	}
	total, err := e.state.TotalStaked()
	if err != nil {
		return 0, err
	}
	if err := e.state.SetTotalStaked(new(big.Int).Add(total, amount)); err != nil {
		return 0, err
	}
	if err := e.verifyConservation(); err != nil {
		return 0, err
	}

	e.emitter.Emit(events.StakeOpened{
		Account:    caller,
		ID:         id,
		Amount:     new(big.Int).Set(amount),
		Tier:       position.Tier.String(),
		LockPeriod: lockPeriod,
	})
	return id, nil
}

// ClaimRewards settles the reward accrued by a position since its last
// settlement. The reward is transferred first and the settlement timestamp is
// committed only once the transfer has succeeded, so a failed payout never
// burns unclaimed reward.
func (e *Engine) ClaimRewards(caller [20]byte, id uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.tokens == nil {
		return nil, errNilTokenLedger
	}
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()
	if err := e.guardPause(); err != nil {
		return nil, err
	}

	position, err := e.state.GetPosition(caller, id)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, ErrNotFound
	}

	now := e.now()
	reward := PendingReward(position, now, e.params.RewardRate, e.multipliers)
	if reward.Sign() == 0 {
		return nil, ErrNothingToClaim
	}

	if err := e.tokens.Transfer(e.stakingToken, e.moduleAddress, caller, reward); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	position.LastSettledAt = now
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.verifyConservation(); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.StakeRewardsClaimed{
		Account:   caller,
		ID:        id,
		Reward:    new(big.Int).Set(reward),
		SettledAt: now,
	})
	return reward, nil
}

// Withdraw closes a position after its lock has elapsed, settling any pending
// reward together with the principal in a single transfer. A zero pending
// reward is not an error here. The principal and reward amounts are returned.
func (e *Engine) Withdraw(caller [20]byte, id uint64) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if e.tokens == nil {
		return nil, nil, errNilTokenLedger
	}
	if err := e.begin(); err != nil {
		return nil, nil, err
	}
	defer e.end()
	if err := e.guardPause(); err != nil {
		return nil, nil, err
	}

	position, err := e.state.GetPosition(caller, id)
	if err != nil {
		return nil, nil, err
	}
	if position == nil {
		return nil, nil, ErrNotFound
	}

	now := e.now()
	if now < position.UnlocksAt() {
		return nil, nil, ErrStillLocked
	}

	reward := PendingReward(position, now, e.params.RewardRate, e.multipliers)
	principal := new(big.Int).Set(position.Amount)

	// Principal and reward leave custody as one transfer so the operation
	// cannot half-complete across two balance movements.
	payout := new(big.Int).Add(principal, reward)
	if err := e.tokens.Transfer(e.stakingToken, e.moduleAddress, caller, payout); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if err := e.state.DeletePosition(caller, id); err != nil {
		return nil, nil, err
	}
	total, err := e.state.TotalStaked()
	if err != nil {
		return nil, nil, err
	}
	if err := e.state.SetTotalStaked(new(big.Int).Sub(total, principal)); err != nil {
		return nil, nil, err
	}
	if err := e.verifyConservation(); err != nil {
		return nil, nil, err
	}

	e.emitter.Emit(events.StakeWithdrawn{
		Account:   caller,
		ID:        id,
		Principal: principal,
		Reward:    reward,
	})
	return principal, reward, nil
}

// EmergencyWithdraw closes a position before lock expiry, forfeiting all
// pending reward and applying the penalty fee. The fee remains in the pool's
// custody rather than being tracked as a separate liability. Emergency exit
// stays available while the module is paused. The payout and fee are returned.
func (e *Engine) EmergencyWithdraw(caller [20]byte, id uint64) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if e.tokens == nil {
		return nil, nil, errNilTokenLedger
	}
	if err := e.begin(); err != nil {
		return nil, nil, err
	}
	defer e.end()

	position, err := e.state.GetPosition(caller, id)
	if err != nil {
		return nil, nil, err
	}
	if position == nil {
		return nil, nil, ErrNotFound
	}

	principal := new(big.Int).Set(position.Amount)
	fee := ScaledMul(principal, e.params.EmergencyFeeRate)
	payout := new(big.Int).Sub(principal, fee)

	if payout.Sign() > 0 {
		if err := e.tokens.Transfer(e.stakingToken, e.moduleAddress, caller, payout); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}

	if err := e.state.DeletePosition(caller, id); err != nil {
		return nil, nil, err
	}
	total, err := e.state.TotalStaked()
	if err != nil {
		return nil, nil, err
	}
	// totalStaked drops by the full principal: the fee is retained by the
	// pool, not carried as a staked liability.
	if err := e.state.SetTotalStaked(new(big.Int).Sub(total, principal)); err != nil {
		return nil, nil, err
	}
	if err := e.verifyConservation(); err != nil {
		return nil, nil, err
	}

	e.emitter.Emit(events.StakeEmergencyWithdrawn{
		Account: caller,
		ID:      id,
		Payout:  payout,
		Fee:     fee,
	})
	return payout, fee, nil
}

// Position returns a copy of the position, or nil when it was never created
// or has been closed.
func (e *Engine) Position(account [20]byte, id uint64) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.state.GetPosition(account, id)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

// Positions returns copies of all active positions for the account.
func (e *Engine) Positions(account [20]byte) ([]*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	positions, err := e.state.ListPositions(account)
	if err != nil {
		return nil, err
	}
	cloned := make([]*Position, 0, len(positions))
	for _, position := range positions {
		cloned = append(cloned, position.Clone())
	}
	return cloned, nil
}

// TotalStaked returns the aggregate principal across all active positions.
func (e *Engine) TotalStaked() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.TotalStaked()
}

// Paused reports whether staking mutations are currently suspended.
func (e *Engine) Paused() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.Paused()
}

// PendingRewardAt computes the reward a position would settle at the supplied
// timestamp without mutating any state.
func (e *Engine) PendingRewardAt(account [20]byte, id uint64, now uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.state.GetPosition(account, id)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, ErrNotFound
	}
	return PendingReward(position, now, e.params.RewardRate, e.multipliers), nil
}

// verifyConservation recomputes the sum of active principal and compares it to
// the totalStaked accumulator. A mismatch indicates a ledger bug, never a user
// error.
func (e *Engine) verifyConservation() error {
	accounts, err := e.state.StakedAccounts()
	if err != nil {
		return err
	}
	sum := big.NewInt(0)
	for _, account := range accounts {
		positions, err := e.state.ListPositions(account)
		if err != nil {
			return err
		}
		for _, position := range positions {
			if position.Amount != nil {
				sum.Add(sum, position.Amount)
			}
		}
	}
	total, err := e.state.TotalStaked()
	if err != nil {
		return err
	}
	if sum.Cmp(total) != 0 {
		return fmt.Errorf("%w: totalStaked %s != active sum %s", ErrInvariantViolation, total, sum)
	}
	return nil
}
