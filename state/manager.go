// Package state persists the staking ledger's records as RLP-encoded values
// in a key-value store: positions, per-account id counters and indexes, the
// totalStaked accumulator, policy parameters, the multiplier table, role
// membership, pause flags and token balances.
package state

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"stakeledger/staking"
	"stakeledger/storage"
)

// Manager mediates all reads and writes against the underlying store.
type Manager struct {
	db storage.Database
}

// NewManager wraps the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func positionKey(addr [20]byte, id uint64) []byte {
	return []byte(fmt.Sprintf("staking/pos/%x/%d", addr, id))
}

func positionIndexKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("staking/ids/%x", addr))
}

func sequenceKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("staking/seq/%x", addr))
}

func balanceKey(token string, addr [20]byte) []byte {
	return []byte(fmt.Sprintf("balances/%s/%x", token, addr))
}

func roleKey(role string) []byte {
	return []byte("roles/" + role)
}

var (
	accountsKey    = []byte("staking/accounts")
	totalKey       = []byte("staking/total")
	pausedKey      = []byte("staking/paused")
	paramsKey      = []byte("staking/params")
	multipliersKey = []byte("staking/multipliers")
)

func (m *Manager) get(key []byte) ([]byte, error) {
	data, err := m.db.Get(key)
	if storage.IsNotFound(err) {
		return nil, nil
	}
	return data, err
}

// GetPosition returns the stored position or nil when it was never created or
// has been closed.
func (m *Manager) GetPosition(addr [20]byte, id uint64) (*staking.Position, error) {
	data, err := m.get(positionKey(addr, id))
	if err != nil || data == nil {
		return nil, err
	}
	position := new(staking.Position)
	if err := rlp.DecodeBytes(data, position); err != nil {
		return nil, err
	}
	return position, nil
}

// PutPosition stores the position and maintains the per-account index and the
// account list.
func (m *Manager) PutPosition(position *staking.Position) error {
	if position == nil {
		return fmt.Errorf("state: nil position")
	}
	if position.Amount == nil {
		position.Amount = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(position)
	if err != nil {
		return err
	}
	if err := m.db.Put(positionKey(position.Account, position.ID), encoded); err != nil {
		return err
	}
	ids, err := m.positionIndex(position.Account)
	if err != nil {
		return err
	}
	found := false
	for _, existing := range ids {
		if existing == position.ID {
			found = true
			break
		}
	}
	if !found {
		ids = append(ids, position.ID)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if err := m.putPositionIndex(position.Account, ids); err != nil {
			return err
		}
	}
	return m.addStakedAccount(position.Account)
}

// DeletePosition removes the position record and trims the indexes.
func (m *Manager) DeletePosition(addr [20]byte, id uint64) error {
	if err := m.db.Delete(positionKey(addr, id)); err != nil {
		return err
	}
	ids, err := m.positionIndex(addr)
	if err != nil {
		return err
	}
	remaining := ids[:0]
	for _, existing := range ids {
		if existing != id {
			remaining = append(remaining, existing)
		}
	}
	if len(remaining) == 0 {
		if err := m.db.Delete(positionIndexKey(addr)); err != nil {
			return err
		}
		return m.removeStakedAccount(addr)
	}
	return m.putPositionIndex(addr, remaining)
}

// ListPositions returns all active positions for the account ordered by id.
func (m *Manager) ListPositions(addr [20]byte) ([]*staking.Position, error) {
	ids, err := m.positionIndex(addr)
	if err != nil {
		return nil, err
	}
	positions := make([]*staking.Position, 0, len(ids))
	for _, id := range ids {
		position, err := m.GetPosition(addr, id)
		if err != nil {
			return nil, err
		}
		if position != nil {
			positions = append(positions, position)
		}
	}
	return positions, nil
}

func (m *Manager) positionIndex(addr [20]byte) ([]uint64, error) {
	data, err := m.get(positionIndexKey(addr))
	if err != nil || data == nil {
		return nil, err
	}
	var ids []uint64
	if err := rlp.DecodeBytes(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) putPositionIndex(addr [20]byte, ids []uint64) error {
	encoded, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return err
	}
	return m.db.Put(positionIndexKey(addr), encoded)
}

// StakedAccounts lists every account that currently holds at least one active
// position. The list is kept sorted for determinism.
func (m *Manager) StakedAccounts() ([][20]byte, error) {
	data, err := m.get(accountsKey)
	if err != nil || data == nil {
		return nil, err
	}
	var raw [][]byte
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return nil, err
	}
	accounts := make([][20]byte, 0, len(raw))
	for _, entry := range raw {
		var addr [20]byte
		copy(addr[:], entry)
		accounts = append(accounts, addr)
	}
	return accounts, nil
}

func (m *Manager) putStakedAccounts(accounts [][20]byte) error {
	raw := make([][]byte, 0, len(accounts))
	for _, addr := range accounts {
		raw = append(raw, append([]byte(nil), addr[:]...))
	}
	sort.Slice(raw, func(i, j int) bool {
		return hex.EncodeToString(raw[i]) < hex.EncodeToString(raw[j])
	})
	encoded, err := rlp.EncodeToBytes(raw)
	if err != nil {
		return err
	}
	return m.db.Put(accountsKey, encoded)
}

func (m *Manager) addStakedAccount(addr [20]byte) error {
	accounts, err := m.StakedAccounts()
	if err != nil {
		return err
	}
	for _, existing := range accounts {
		if existing == addr {
			return nil
		}
	}
	return m.putStakedAccounts(append(accounts, addr))
}

func (m *Manager) removeStakedAccount(addr [20]byte) error {
	accounts, err := m.StakedAccounts()
	if err != nil {
		return err
	}
	remaining := accounts[:0]
	for _, existing := range accounts {
		if existing != addr {
			remaining = append(remaining, existing)
		}
	}
	if len(remaining) == 0 {
		return m.db.Delete(accountsKey)
	}
	return m.putStakedAccounts(remaining)
}

// NextPositionID allocates the next monotonic position id for the account.
// Ids are never reused: the counter only moves forward, even after closures.
func (m *Manager) NextPositionID(addr [20]byte) (uint64, error) {
	data, err := m.get(sequenceKey(addr))
	if err != nil {
		return 0, err
	}
	var next uint64 = 1
	if data != nil {
		var stored uint64
		if err := rlp.DecodeBytes(data, &stored); err != nil {
			return 0, err
		}
		next = stored + 1
	}
	encoded, err := rlp.EncodeToBytes(next)
	if err != nil {
		return 0, err
	}
	if err := m.db.Put(sequenceKey(addr), encoded); err != nil {
		return 0, err
	}
	return next, nil
}

// TotalStaked returns the aggregate staked principal, defaulting to zero.
func (m *Manager) TotalStaked() (*big.Int, error) {
	data, err := m.get(totalKey)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return big.NewInt(0), nil
	}
	total := new(big.Int)
	if err := rlp.DecodeBytes(data, total); err != nil {
		return nil, err
	}
	return total, nil
}

// SetTotalStaked stores the aggregate staked principal.
func (m *Manager) SetTotalStaked(total *big.Int) error {
	if total == nil || total.Sign() < 0 {
		return fmt.Errorf("state: total staked must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(total)
	if err != nil {
		return err
	}
	return m.db.Put(totalKey, encoded)
}

// Paused reports whether staking mutations are suspended.
func (m *Manager) Paused() (bool, error) {
	data, err := m.get(pausedKey)
	if err != nil || data == nil {
		return false, err
	}
	var paused bool
	if err := rlp.DecodeBytes(data, &paused); err != nil {
		return false, err
	}
	return paused, nil
}

// SetPaused stores the pause flag.
func (m *Manager) SetPaused(paused bool) error {
	encoded, err := rlp.EncodeToBytes(paused)
	if err != nil {
		return err
	}
	return m.db.Put(pausedKey, encoded)
}

// PolicyParameters returns the stored policy, or ok=false when none has been
// persisted yet.
func (m *Manager) PolicyParameters() (staking.PolicyParameters, bool, error) {
	var params staking.PolicyParameters
	data, err := m.get(paramsKey)
	if err != nil || data == nil {
		return params, false, err
	}
	if err := rlp.DecodeBytes(data, &params); err != nil {
		return params, false, err
	}
	return params, true, nil
}

// PutPolicyParameters stores the policy.
func (m *Manager) PutPolicyParameters(params staking.PolicyParameters) error {
	encoded, err := rlp.EncodeToBytes(params.Clone())
	if err != nil {
		return err
	}
	return m.db.Put(paramsKey, encoded)
}

// MultiplierTable returns the stored tier multipliers, or ok=false when none
// has been persisted yet.
func (m *Manager) MultiplierTable() (staking.MultiplierTable, bool, error) {
	var table staking.MultiplierTable
	data, err := m.get(multipliersKey)
	if err != nil || data == nil {
		return table, false, err
	}
	if err := rlp.DecodeBytes(data, &table); err != nil {
		return table, false, err
	}
	return table, true, nil
}

// PutMultiplierTable stores the tier multipliers.
func (m *Manager) PutMultiplierTable(table staking.MultiplierTable) error {
	encoded, err := rlp.EncodeToBytes(table.Clone())
	if err != nil {
		return err
	}
	return m.db.Put(multipliersKey, encoded)
}

// Balance returns the stored balance for the token and address, defaulting to
// zero.
func (m *Manager) Balance(token string, addr [20]byte) (*big.Int, error) {
	data, err := m.get(balanceKey(token, addr))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return big.NewInt(0), nil
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// SetBalance stores the balance for the token and address.
func (m *Manager) SetBalance(token string, addr [20]byte, balance *big.Int) error {
	if balance == nil || balance.Sign() < 0 {
		return fmt.Errorf("state: balance must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return m.db.Put(balanceKey(token, addr), encoded)
}

// SetRole associates an address with the specified role. Duplicate
// assignments are ignored while the stored list remains sorted for
// determinism.
func (m *Manager) SetRole(role string, addr []byte) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("state: role must not be empty")
	}
	if len(addr) == 0 {
		return fmt.Errorf("state: address must not be empty")
	}
	members, err := m.roleMembers(trimmed)
	if err != nil {
		return err
	}
	for _, existing := range members {
		if string(existing) == string(addr) {
			return nil
		}
	}
	members = append(members, append([]byte(nil), addr...))
	sort.Slice(members, func(i, j int) bool {
		return hex.EncodeToString(members[i]) < hex.EncodeToString(members[j])
	})
	encoded, err := rlp.EncodeToBytes(members)
	if err != nil {
		return err
	}
	return m.db.Put(roleKey(trimmed), encoded)
}

// HasRole reports whether the address is associated with the role. Errors
// while reading the underlying state result in a false return, matching the
// best-effort semantics the capability check requires.
func (m *Manager) HasRole(role string, addr []byte) bool {
	if len(addr) == 0 {
		return false
	}
	members, err := m.roleMembers(strings.TrimSpace(role))
	if err != nil {
		return false
	}
	for _, member := range members {
		if string(member) == string(addr) {
			return true
		}
	}
	return false
}

func (m *Manager) roleMembers(role string) ([][]byte, error) {
	data, err := m.get(roleKey(role))
	if err != nil || data == nil {
		return nil, err
	}
	var members [][]byte
	if err := rlp.DecodeBytes(data, &members); err != nil {
		return nil, err
	}
	return members, nil
}
