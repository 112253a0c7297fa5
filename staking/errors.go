package staking

import (
	"errors"
	"fmt"
)

// Base error kinds. Specific failures wrap one of these so callers can match
// the category with errors.Is without parsing messages.
var (
	ErrPolicyViolation    = errors.New("staking: policy violation")
	ErrNotFound           = errors.New("staking: position not found")
	ErrNothingToClaim     = errors.New("staking: nothing to claim")
	ErrTransferFailed     = errors.New("staking: token transfer failed")
	ErrUnauthorized       = errors.New("staking: unauthorized")
	ErrPaused             = errors.New("staking: module paused")
	ErrInvariantViolation = errors.New("staking: invariant violation")
)

var (
	ErrBelowMinimum              = fmt.Errorf("%w: stake below minimum", ErrPolicyViolation)
	ErrLockTooShort              = fmt.Errorf("%w: lock period below default", ErrPolicyViolation)
	ErrStillLocked               = fmt.Errorf("%w: lock period not elapsed", ErrPolicyViolation)
	ErrFeeTooHigh                = fmt.Errorf("%w: emergency fee exceeds cap", ErrPolicyViolation)
	ErrCannotRecoverStakingToken = fmt.Errorf("%w: cannot recover staking token", ErrPolicyViolation)
)

var (
	errNilState       = errors.New("staking: state not configured")
	errNilTokenLedger = errors.New("staking: token ledger not configured")
	errInvalidAmount  = errors.New("staking: amount must be positive")
	errReentrantCall  = errors.New("staking: reentrant call rejected")
)
