package domain

import (
	"math/big"
	"time"
)

// WithdrawalKind distinguishes what the claimed funds are.
type WithdrawalKind string

const (
	WithdrawalKindProceeds WithdrawalKind = "proceeds"
	WithdrawalKindRefund   WithdrawalKind = "refund"
)

// Withdrawal is one immutable claimed withdrawal. (User, TxHash) is the
// idempotency key; the contract emits at most one claim per user per
// transaction.
type Withdrawal struct {
	User        string
	TxHash      string
	Amount      *big.Int
	Kind        WithdrawalKind
	BlockHeight uint64
	Timestamp   time.Time
}
