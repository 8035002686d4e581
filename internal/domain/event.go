// Package domain defines the read-model entities, the ledger event union, and
// the store interfaces implemented by the persistence packages.
package domain

import (
	"fmt"
	"math/big"
	"time"
)

// EventKind tags one variant of the ledger event union.
type EventKind string

const (
	EventOrderCreated      EventKind = "order_created"
	EventOrderFilled       EventKind = "order_filled"
	EventOrderCancelled    EventKind = "order_cancelled"
	EventWithdrawalClaimed EventKind = "withdrawal_claimed"
)

// AllEventKinds lists every kind the exchange contract emits, in the order
// they are subscribed to.
var AllEventKinds = []EventKind{
	EventOrderCreated,
	EventOrderFilled,
	EventOrderCancelled,
	EventWithdrawalClaimed,
}

// LedgerEvent is one immutable record emitted by the exchange contract.
// Exactly one payload pointer is non-nil, matching Kind.
type LedgerEvent struct {
	Kind        EventKind
	BlockHeight uint64
	TxHash      string
	Timestamp   time.Time

	Created    *OrderCreatedPayload
	Filled     *OrderFilledPayload
	Cancelled  *OrderCancelledPayload
	Withdrawal *WithdrawalClaimedPayload
}

// OrderCreatedPayload carries the immutable order snapshot at creation time.
// Fee is nil when the contract version predates the fee field in the event;
// the projector then enriches it with one detail query.
type OrderCreatedPayload struct {
	OrderID     string
	Owner       string
	Side        OrderSide
	TotalAmount *big.Int
	UnitPrice   *big.Int
	Fee         *big.Int
	ExpiresAt   time.Time
}

// OrderFilledPayload carries one fill against an existing order. NewStatus is
// the contract's authoritative post-fill status and is applied verbatim.
type OrderFilledPayload struct {
	OrderID            string
	Filler             string
	FillSequence       uint64
	Amount             *big.Int
	CounterpartyAmount *big.Int
	NewStatus          OrderStatus
}

// OrderCancelledPayload identifies the cancelled order.
type OrderCancelledPayload struct {
	OrderID string
}

// WithdrawalClaimedPayload carries one claimed withdrawal.
type WithdrawalClaimedPayload struct {
	User   string
	Amount *big.Int
	Kind   WithdrawalKind
}

// OrderID returns the order the event refers to, or "" for events that do not
// reference an order (withdrawal claims).
func (e LedgerEvent) OrderID() string {
	switch e.Kind {
	case EventOrderCreated:
		return e.Created.OrderID
	case EventOrderFilled:
		return e.Filled.OrderID
	case EventOrderCancelled:
		return e.Cancelled.OrderID
	}
	return ""
}

// Validate checks that the payload pointer matches the kind tag.
func (e LedgerEvent) Validate() error {
	var ok bool
	switch e.Kind {
	case EventOrderCreated:
		ok = e.Created != nil
	case EventOrderFilled:
		ok = e.Filled != nil
	case EventOrderCancelled:
		ok = e.Cancelled != nil
	case EventWithdrawalClaimed:
		ok = e.Withdrawal != nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if !ok {
		return fmt.Errorf("%w: missing payload for kind %q", ErrInvalidEvent, e.Kind)
	}
	return nil
}
