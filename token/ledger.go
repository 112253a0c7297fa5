// Package token implements the fungible-token transfer capability the staking
// engine consumes. Balances live in the same state store as the ledger so a
// failed operation never leaves value in flight.
package token

import (
	"errors"
	"fmt"
	"math/big"

	"stakeledger/state"
)

var (
	ErrInvalidAmount       = errors.New("token: amount must be positive")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
)

// Ledger tracks balances per (token, address) pair. Transfers are atomic:
// both balances are validated before either is written.
type Ledger struct {
	state *state.Manager
}

// NewLedger wraps the state manager.
func NewLedger(st *state.Manager) *Ledger {
	return &Ledger{state: st}
}

// BalanceOf returns the balance for the token and address.
func (l *Ledger) BalanceOf(token string, addr [20]byte) (*big.Int, error) {
	return l.state.Balance(token, addr)
}

// Mint credits freshly issued units to an address. Used at genesis and by
// operator tooling.
func (l *Ledger) Mint(token string, addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.state.Balance(token, addr)
	if err != nil {
		return err
	}
	return l.state.SetBalance(token, addr, new(big.Int).Add(balance, amount))
}

// Transfer moves amount from one address to another. A shortfall on the
// sender aborts the transfer before any balance is written.
func (l *Ledger) Transfer(token string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBalance, err := l.state.Balance(token, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, formatAddr(from), fromBalance, amount)
	}
	toBalance, err := l.state.Balance(token, to)
	if err != nil {
		return err
	}
	if err := l.state.SetBalance(token, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.SetBalance(token, to, new(big.Int).Add(toBalance, amount))
}

func formatAddr(addr [20]byte) string {
	return fmt.Sprintf("0x%x", addr)
}
