package staking

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"
)

type mockLedgerState struct {
	positions map[string]*Position
	sequences map[[20]byte]uint64
	total     *big.Int
	paused    bool
	params    *PolicyParameters
	table     *MultiplierTable
}

func newMockLedgerState() *mockLedgerState {
	return &mockLedgerState{
		positions: make(map[string]*Position),
		sequences: make(map[[20]byte]uint64),
		total:     big.NewInt(0),
	}
}

func (m *mockLedgerState) key(addr [20]byte, id uint64) string {
	return fmt.Sprintf("%x/%d", addr, id)
}

func (m *mockLedgerState) GetPosition(addr [20]byte, id uint64) (*Position, error) {
	position, ok := m.positions[m.key(addr, id)]
	if !ok {
		return nil, nil
	}
	return position.Clone(), nil
}

func (m *mockLedgerState) PutPosition(position *Position) error {
	m.positions[m.key(position.Account, position.ID)] = position.Clone()
	return nil
}

func (m *mockLedgerState) DeletePosition(addr [20]byte, id uint64) error {
	delete(m.positions, m.key(addr, id))
	return nil
}

func (m *mockLedgerState) ListPositions(addr [20]byte) ([]*Position, error) {
	var positions []*Position
	for _, position := range m.positions {
		if position.Account == addr {
			positions = append(positions, position.Clone())
		}
	}
	return positions, nil
}

func (m *mockLedgerState) StakedAccounts() ([][20]byte, error) {
	seen := make(map[[20]byte]bool)
	var accounts [][20]byte
	for _, position := range m.positions {
		if !seen[position.Account] {
			seen[position.Account] = true
			accounts = append(accounts, position.Account)
		}
	}
	return accounts, nil
}

func (m *mockLedgerState) NextPositionID(addr [20]byte) (uint64, error) {
	m.sequences[addr]++
	return m.sequences[addr], nil
}

func (m *mockLedgerState) TotalStaked() (*big.Int, error) {
	return new(big.Int).Set(m.total), nil
}

func (m *mockLedgerState) SetTotalStaked(total *big.Int) error {
	m.total = new(big.Int).Set(total)
	return nil
}

func (m *mockLedgerState) Paused() (bool, error) { return m.paused, nil }

func (m *mockLedgerState) SetPaused(paused bool) error {
	m.paused = paused
	return nil
}

func (m *mockLedgerState) PutPolicyParameters(params PolicyParameters) error {
	cloned := params.Clone()
	m.params = &cloned
	return nil
}

func (m *mockLedgerState) PutMultiplierTable(table MultiplierTable) error {
	cloned := table.Clone()
	m.table = &cloned
	return nil
}

type mockTokenLedger struct {
	balances map[string]map[[20]byte]*big.Int
	failNext error
}

func newMockTokenLedger() *mockTokenLedger {
	return &mockTokenLedger{balances: make(map[string]map[[20]byte]*big.Int)}
}

func (m *mockTokenLedger) balance(token string, addr [20]byte) *big.Int {
	if m.balances[token] == nil {
		m.balances[token] = make(map[[20]byte]*big.Int)
	}
	if m.balances[token][addr] == nil {
		m.balances[token][addr] = big.NewInt(0)
	}
	return m.balances[token][addr]
}

func (m *mockTokenLedger) mint(token string, addr [20]byte, amount *big.Int) {
	m.balance(token, addr).Add(m.balance(token, addr), amount)
}

func (m *mockTokenLedger) Transfer(token string, from, to [20]byte, amount *big.Int) error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("invalid amount")
	}
	if m.balance(token, from).Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	m.balance(token, from).Sub(m.balance(token, from), amount)
	m.balance(token, to).Add(m.balance(token, to), amount)
	return nil
}

func (m *mockTokenLedger) BalanceOf(token string, addr [20]byte) (*big.Int, error) {
	return new(big.Int).Set(m.balance(token, addr)), nil
}

type stubRoles struct {
	admins map[[20]byte]bool
}

func (s stubRoles) HasRole(role string, addr []byte) bool {
	if role != RoleStakingAdmin || len(addr) != 20 {
		return false
	}
	var key [20]byte
	copy(key[:], addr)
	return s.admins[key]
}

func makeAddress(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

const testToken = "STK"

var (
	testModuleAddr = makeAddress(0xFE)
	testStaker     = makeAddress(0x11)
	testAdmin      = makeAddress(0xAD)
)

type testFixture struct {
	engine *Engine
	state  *mockLedgerState
	tokens *mockTokenLedger
	now    uint64
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		state:  newMockLedgerState(),
		tokens: newMockTokenLedger(),
		now:    1_800_000_000,
	}
	f.engine = NewEngine(testModuleAddr, testToken)
	f.engine.SetState(f.state)
	f.engine.SetTokenLedger(f.tokens)
	f.engine.SetRoles(stubRoles{admins: map[[20]byte]bool{testAdmin: true}})
	f.engine.SetNowFunc(func() time.Time { return time.Unix(int64(f.now), 0).UTC() })
	return f
}

func (f *testFixture) advance(d time.Duration) {
	f.now += uint64(d.Seconds())
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Scale)
}

// calcReward recomputes the expected accrual independently of the engine.
func calcReward(amount, rate *big.Int, elapsed uint64, multiplier *big.Int) *big.Int {
	reward := new(big.Int).Mul(amount, rate)
	reward.Mul(reward, new(big.Int).SetUint64(elapsed))
	reward.Quo(reward, big.NewInt(secondsPerYear))
	reward.Quo(reward, Scale)
	reward.Mul(reward, multiplier)
	reward.Quo(reward, Scale)
	return reward
}

func TestStakeOpensPositionAndTracksTotal(t *testing.T) {
	f := newTestFixture(t)
	f.tokens.mint(testToken, testStaker, units(2000))

	id, err := f.engine.Stake(testStaker, units(1000), 30*24*60*60)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first position id 1, got %d", id)
	}

	position, err := f.engine.Position(testStaker, id)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position == nil {
		t.Fatal("expected position to exist")
	}
	if position.Tier != TierGold {
		t.Fatalf("expected gold tier, got %s", position.Tier)
	}
	if position.OpenedAt != f.now || position.LastSettledAt != f.now {
		t.Fatalf("expected timestamps at %d, got opened %d settled %d", f.now, position.OpenedAt, position.LastSettledAt)
	}

	total, err := f.engine.TotalStaked()
	if err != nil {
		t.Fatalf("total staked: %v", err)
	}
	if total.Cmp(units(1000)) != 0 {
		t.Fatalf("expected total 1000 units, got %s", total)
	}
	if got := f.tokens.balance(testToken, testModuleAddr); got.Cmp(units(1000)) != 0 {
		t.Fatalf("expected module custody 1000 units, got %s", got)
	}
	if got := f.tokens.balance(testToken, testStaker); got.Cmp(units(1000)) != 0 {
		t.Fatalf("expected staker balance 1000 units, got %s", got)
	}
}

func TestStakeBelowMinimumRejected(t *testing.T) {
	f := newTestFixture(t)
	f.tokens.mint(testToken, testStaker, units(2000))

	_, err := f.engine.Stake(testStaker, units(100), 0)
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected policy violation kind, got %v", err)
	}
	total, _ := f.engine.TotalStaked()
	if total.Sign() != 0 {
		t.Fatalf("expected total unchanged, got %s", total)
	}
	if got := f.tokens.balance(testToken, testStaker); got.Cmp(units(2000)) != 0 {
		t.Fatalf("expected balance unchanged, got %s", got)
	}
}

func TestStakeLockTooShortRejected(t *testing.T) {
	f := newTestFixture(t)
	f.tokens.mint(testToken, testStaker, units(2000))

	_, err := f.engine.Stake(testStaker, units(500), 24*60*60)
	if !errors.Is(err, ErrLockTooShort) {
		t.Fatalf("expected ErrLockTooShort, got %v", err)
	}
}

func TestStakeZeroLockUsesDefault(t *testing.T) {
	f := newTestFixture(t)
	f.tokens.mint(testToken, testStaker, units(2000))

	id, err := f.engine.Stake(testStaker, units(500), 0)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	position, err := f.engine.Position(testStaker, id)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.LockPeriod != f.engine.Policy().DefaultLockPeriod {
		t.Fatalf("expected default lock, got %d", position.LockPeriod)
	}
}

func TestClaimRewardsGoldScenario(t *testing.T) {
	f := newTestFixture(t)
	f.tokens.mint(testToken, testStaker, units(1000))
	f.tokens.mint(testToken, testModuleAddr, units(10_000)) // reward pool

	id, err := f.engine.Stake(testStaker, units(1000), 30*24*60*60)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}

	f.advance(24 * time.Hour)
	reward, err := f.engine.ClaimRewards(testStaker, id)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	policy := f.engine.Policy()
	expected := calcReward(units(1000), policy.RewardRate, 24*60*60, f.engine.Multipliers().Multiplier(TierGold))
	if reward.Cmp(expected) != 0 {
		t.Fatalf("reward: got %s want %s", reward, expected)
	}
	if expected.Sign() <= 0 {
		t.Fatal("expected positive reward in scenario")
	}

	position, err := f.engine.Position(testStaker, id)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.LastSettledAt != f.now {
		t.Fatalf("expected settlement at %d, got %d", f.now, position.LastSettledAt)
	}

	// Back-to-back claim with no elapsed time yields nothing.
	if _, err := f.engine.ClaimRewards(testStaker, id); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected ErrNothingToClaim, got %v", err)
	}
}

func TestClaimTransferFailureLeavesStateUntouched(t *testing.T) {
	f := newTestFixture(t)
	f.tokens.mint(testToken, testStaker, units(1000))
	f.tokens.mint(testToken, testModuleAddr, units(10_000))

	id, err := f.engine.Stake(testStaker, units(1000), 30*24*60*60)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	settledBefore := f.now

	f.advance(24 * time.Hour)
	f.tokens.failNext = fmt.Errorf("token declined")
	_, err = f.engine.ClaimRewards(testStaker, id)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	position, err := f.engine.Position(testStaker, id)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.LastSettledAt != settledBefore {
		t.Fatalf("settlement timestamp must not move on failed transfer: got %d want %d", position.LastSettledAt, settledBefore)
	}

	// The reward remains claimable afterwards.
	reward, err := f.engine.ClaimRewards(testStaker, id)
	if err != nil {
		t.Fatalf("claim after failure: %v", err)
	}
	if reward.Sign() <= 0 {
		t.Fatal("expected reward still claimable")
	}
}

func TestWithdrawBeforeLockRejected(t *testing.T) {
	f := newTestFixture(t)
	f.tokens.mint(testToken, testStaker, units(1000))

	id, err := f.engine.Stake(testStaker, units(1000), 30*24*60*60)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}

	f.advance(15 * 24 * time.Hour)
	if _, _, err := f.engine.Withdraw(testStaker, id); !errors.Is(err, ErrStillLocked) {
		t.Fatalf("expected ErrStillLocked, got %v", err)
	}

	position, err := f.engine.Position(testStaker, id)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position == nil {
		t.Fatal("position must remain open")
	}
	total, _ := f.engine.TotalStaked()
	if total.Cmp(units(1000)) != 0 {
		t.Fatalf("total must be unchanged, got %s", total)
	}
}

func TestWithdrawSettlesRewardAndPrincipal(t *testing.T) {
	f := newTestFixture(t)
	f.tokens.mint(testToken, testStaker, units(1000))
	f.tokens.mint(testToken, testModuleAddr, units(10_000))

	id, err := f.engine.Stake(testStaker, units(1000), 30*24*60*60)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}

	f.advance(31 * 24 * time.Hour)
	principal, reward, err := f.engine.Withdraw(testStaker, id)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if principal.Cmp(units(1000)) != 0 {
		t.Fatalf("principal: got %s want %s", principal, units(1000))
	}
	policy := f.engine.Policy()
	expectedReward := calcReward(units(1000), policy.RewardRate, 31*24*60*60, f.engine.Multipliers().Multiplier(TierGold))
	if reward.Cmp(expectedReward) != 0 {
		t.Fatalf("reward: got %s want %s", reward, expectedReward)
	}

	position, err := f.engine.Position(testStaker, id)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position != nil {
		t.Fatal("position must be closed")
	}
	total, _ := f.engine.TotalStaked()
	if total.Sign() != 0 {
		t.Fatalf("total must be zero, got %s", total)
	}

	expectedBalance := new(big.Int).Add(units(1000), expectedReward)
	if got := f.tokens.balance(testToken, testStaker); got.Cmp(expectedBalance) != 0 {
		t.Fatalf("staker balance: got %s want %s", got, expectedBalance)
	}
}

func TestWithdrawTransferFailureKeepsPositionOpen(t *testing.T) {
	f := newTestFixture(t)
	f.tokens.mint(testToken, testStaker, units(1000))

	id, err := f.engine.Stake(testStaker, units(1000), 30*24*60*60)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}

	f.advance(31 * 24 * time.Hour)
	f.tokens.failNext = fmt.Errorf("token declined")
	if _, _, err := f.engine.Withdraw(testStaker, id); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	position, err := f.engine.Position(testStaker, id)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position == nil {
		t.Fatal("position must remain open after failed payout")
	}
	total, _ := f.engine.TotalStaked()
	if total.Cmp(units(1000)) != 0 {
		t.Fatalf("total must be unchanged, got %s", total)
	}
}

func TestEmergencyWithdrawAppliesFeeAndFullDecrement(t *testing.T) {
	f := newTestFixture(t)
	f.tokens.mint(testToken, testStaker, units(1000))

	id, err := f.engine.Stake(testStaker, units(1000), 30*24*60*60)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}

	payout, fee, err := f.engine.EmergencyWithdraw(testStaker, id)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if payout.Cmp(units(900)) != 0 {
		t.Fatalf("payout: got %s want %s", payout, units(900))
	}
	if fee.Cmp(units(100)) != 0 {
		t.Fatalf("fee: got %s want %s", fee, units(100))
	}

	// totalStaked drops by the full 1000, not the 900 paid out.
	total, _ := f.engine.TotalStaked()
	if total.Sign() != 0 {
		t.Fatalf("total must be zero, got %s", total)
	}
	// The fee stays in the pool's custody.
	if got := f.tokens.balance(testToken, testModuleAddr); got.Cmp(units(100)) != 0 {
		t.Fatalf("module custody: got %s want %s", got, units(100))
	}
	if got := f.tokens.balance(testToken, testStaker); got.Cmp(units(900)) != 0 {
		t.Fatalf("staker balance: got %s want %s", got, units(900))
	}
}

func TestPauseBlocksAllButEmergency(t *testing.T) {
	f := newTestFixture(t)
	f.tokens.mint(testToken, testStaker, units(5000))

	id, err := f.engine.Stake(testStaker, units(1000), 30*24*60*60)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}

	if err := f.engine.Pause(testAdmin); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if _, err := f.engine.Stake(testStaker, units(1000), 0); !errors.Is(err, ErrPaused) {
		t.Fatalf("stake while paused: expected ErrPaused, got %v", err)
	}
	f.advance(24 * time.Hour)
	if _, err := f.engine.ClaimRewards(testStaker, id); !errors.Is(err, ErrPaused) {
		t.Fatalf("claim while paused: expected ErrPaused, got %v", err)
	}
	f.advance(31 * 24 * time.Hour)
	if _, _, err := f.engine.Withdraw(testStaker, id); !errors.Is(err, ErrPaused) {
		t.Fatalf("withdraw while paused: expected ErrPaused, got %v", err)
	}

	// Emergency exit must stay available.
	if _, _, err := f.engine.EmergencyWithdraw(testStaker, id); err != nil {
		t.Fatalf("emergency withdraw while paused: %v", err)
	}

	if err := f.engine.Unpause(testAdmin); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := f.engine.Stake(testStaker, units(1000), 0); err != nil {
		t.Fatalf("stake after unpause: %v", err)
	}
}

func TestTierImmutableUnderTableChanges(t *testing.T) {
	f := newTestFixture(t)
	f.tokens.mint(testToken, testStaker, units(1000))
	f.tokens.mint(testToken, testModuleAddr, units(10_000))

	id, err := f.engine.Stake(testStaker, units(1000), 30*24*60*60)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}

	doubled := new(big.Int).Mul(Scale, big.NewInt(2))
	if err := f.engine.SetRewardMultiplier(testAdmin, TierGold, doubled); err != nil {
		t.Fatalf("set multiplier: %v", err)
	}

	position, err := f.engine.Position(testStaker, id)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Tier != TierGold {
		t.Fatalf("tier must not change, got %s", position.Tier)
	}

	// The new multiplier applies to the next accrual computation.
	f.advance(24 * time.Hour)
	pending, err := f.engine.PendingRewardAt(testStaker, id, f.now)
	if err != nil {
		t.Fatalf("pending reward: %v", err)
	}
	expected := calcReward(units(1000), f.engine.Policy().RewardRate, 24*60*60, doubled)
	if pending.Cmp(expected) != 0 {
		t.Fatalf("pending: got %s want %s", pending, expected)
	}
}

func TestConservationAcrossOperationSequence(t *testing.T) {
	f := newTestFixture(t)
	other := makeAddress(0x22)
	f.tokens.mint(testToken, testStaker, units(5000))
	f.tokens.mint(testToken, other, units(5000))
	f.tokens.mint(testToken, testModuleAddr, units(10_000))

	checkConservation := func(step string) {
		t.Helper()
		total, err := f.engine.TotalStaked()
		if err != nil {
			t.Fatalf("%s: total: %v", step, err)
		}
		sum := big.NewInt(0)
		for _, addr := range [][20]byte{testStaker, other} {
			positions, err := f.engine.Positions(addr)
			if err != nil {
				t.Fatalf("%s: positions: %v", step, err)
			}
			for _, position := range positions {
				sum.Add(sum, position.Amount)
			}
		}
		if total.Cmp(sum) != 0 {
			t.Fatalf("%s: totalStaked %s != active sum %s", step, total, sum)
		}
	}

	id1, err := f.engine.Stake(testStaker, units(1000), 30*24*60*60)
	if err != nil {
		t.Fatalf("stake 1: %v", err)
	}
	checkConservation("after stake 1")

	id2, err := f.engine.Stake(other, units(600), 14*24*60*60)
	if err != nil {
		t.Fatalf("stake 2: %v", err)
	}
	checkConservation("after stake 2")

	f.advance(24 * time.Hour)
	if _, err := f.engine.ClaimRewards(testStaker, id1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	checkConservation("after claim")

	if _, _, err := f.engine.EmergencyWithdraw(other, id2); err != nil {
		t.Fatalf("emergency: %v", err)
	}
	checkConservation("after emergency withdraw")

	f.advance(31 * 24 * time.Hour)
	if _, _, err := f.engine.Withdraw(testStaker, id1); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	checkConservation("after withdraw")
}

func TestPositionIDsMonotonicAcrossClosure(t *testing.T) {
	f := newTestFixture(t)
	f.tokens.mint(testToken, testStaker, units(5000))

	id1, err := f.engine.Stake(testStaker, units(500), 0)
	if err != nil {
		t.Fatalf("stake 1: %v", err)
	}
	if _, _, err := f.engine.EmergencyWithdraw(testStaker, id1); err != nil {
		t.Fatalf("emergency: %v", err)
	}
	id2, err := f.engine.Stake(testStaker, units(500), 0)
	if err != nil {
		t.Fatalf("stake 2: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("position ids must be monotonic: got %d after %d", id2, id1)
	}
	if position, _ := f.engine.Position(testStaker, id1); position != nil {
		t.Fatal("closed id must never resolve again")
	}
}

func TestPendingRewardUnknownPosition(t *testing.T) {
	f := newTestFixture(t)
	if _, err := f.engine.PendingRewardAt(testStaker, 7, f.now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
