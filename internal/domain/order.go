package domain

import (
	"math/big"
	"time"
)

// OrderSide indicates whether the owner is buying or selling the base asset.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the order lifecycle. Transitions are monotonic: an order
// never leaves filled or cancelled.
type OrderStatus string

const (
	OrderStatusActive          OrderStatus = "active"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
)

// IsTerminal reports whether the status can never change again.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// Order is the read-model projection of one on-chain escrow order.
// FeeAtCreation is an immutable snapshot taken when the order was created and
// is never recomputed. Filled + Remaining always equals TotalAmount.
type Order struct {
	ID            string
	Owner         string
	Side          OrderSide
	TotalAmount   *big.Int
	Filled        *big.Int
	Remaining     *big.Int
	UnitPrice     *big.Int
	FeeAtCreation *big.Int
	Status        OrderStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
	SourceHeight  uint64
	UpdatedAt     time.Time
}

// OrderDetail is the contract's on-chain view of an order, obtained through a
// detail query. It is used for fee enrichment on creation and by the
// reconciliation job.
type OrderDetail struct {
	OrderID     string
	Owner       string
	Side        OrderSide
	TotalAmount *big.Int
	Filled      *big.Int
	UnitPrice   *big.Int
	Fee         *big.Int
	Status      OrderStatus
	ExpiresAt   time.Time
}
