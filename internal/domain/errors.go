package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrReconnectExhausted is returned by the listener once the bounded
	// reconnect budget is spent.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	ErrInvalidEvent = errors.New("invalid ledger event")
	ErrLockHeld     = errors.New("lock already held")
)
