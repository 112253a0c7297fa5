package staking

import "math/big"

// Position captures one stake deposit and its settlement lifecycle. Amounts
// are denominated in wei and timestamps are unix seconds.
type Position struct {
	Account       [20]byte
	ID            uint64
	Amount        *big.Int
	OpenedAt      uint64
	LastSettledAt uint64
	LockPeriod    uint64
	Tier          Tier
}

// UnlocksAt returns the unix timestamp at which the principal becomes
// withdrawable.
func (p *Position) UnlocksAt() uint64 {
	if p == nil {
		return 0
	}
	return p.OpenedAt + p.LockPeriod
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Amount != nil {
		clone.Amount = new(big.Int).Set(p.Amount)
	}
	return &clone
}
