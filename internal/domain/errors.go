package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrGameNotFound       = errors.New("game definition not found")
	ErrGameInactive       = errors.New("game definition is not active")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionFull        = errors.New("tournament is full")
	ErrSessionNotWaiting  = errors.New("session is no longer accepting players")
	ErrSessionNotActive   = errors.New("session is not active")
	ErrAlreadyJoined      = errors.New("user already joined this session")
	ErrAlreadySettled     = errors.New("session already settled")
	ErrSettlementMismatch = errors.New("reported results do not match the event log")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInternalError      = errors.New("internal server error")
)

// InsufficientBalanceError reports a failed debit together with the
// numeric shortfall so callers can surface it to the user.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d, have %d (short %d)",
		e.Required, e.Available, e.Required-e.Available)
}

// Shortfall returns how much is missing.
func (e *InsufficientBalanceError) Shortfall() int64 {
	return e.Required - e.Available
}

// IsInsufficientBalance reports whether err is a failed-debit error.
func IsInsufficientBalance(err error) bool {
	var ib *InsufficientBalanceError
	return errors.As(err, &ib)
}

// IsNotFoundError checks if an error is a not-found type error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrGameNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// IsConflictError checks for join-race and settlement-race failures that
// the caller should resolve by re-listing or retrying.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrSessionFull) ||
		errors.Is(err, ErrSessionNotWaiting) ||
		errors.Is(err, ErrAlreadySettled)
}
