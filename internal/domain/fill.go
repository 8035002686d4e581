package domain

import (
	"math/big"
	"time"
)

// Fill is one immutable partial or complete match against an order. The pair
// (OrderID, FillSequence) is the idempotency key: the contract assigns a
// strictly increasing sequence per order, so a re-delivered fill event maps to
// an existing row and has no effect.
type Fill struct {
	OrderID            string
	FillSequence       uint64
	Filler             string
	Amount             *big.Int
	CounterpartyAmount *big.Int
	TxHash             string
	BlockHeight        uint64
	Timestamp          time.Time
}
