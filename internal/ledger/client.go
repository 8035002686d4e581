// Package ledger defines the interface between the indexer and the chain. The
// evm subpackage implements it over JSON-RPC and WebSocket endpoints; tests
// substitute in-memory fakes.
package ledger

import (
	"context"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

// Subscription is a live stream of contract events. Events are delivered in
// ledger order on a single channel; a subscription that breaks reports the
// cause on Err and closes Events.
type Subscription interface {
	Events() <-chan domain.LedgerEvent

	// Err yields the terminal error of a broken subscription. A clean
	// Unsubscribe produces no error.
	Err() <-chan error

	Unsubscribe()
}

// Client is the read-only view of the exchange contract.
type Client interface {
	// Subscribe opens a live event stream for the given kinds starting at the
	// current chain head. An empty kinds slice subscribes to all event kinds.
	Subscribe(ctx context.Context, kinds []domain.EventKind) (Subscription, error)

	// Height returns the current chain head height.
	Height(ctx context.Context) (uint64, error)

	// QueryEvents returns all contract events of the given kinds in the
	// inclusive height range [from, to], in ledger order. An empty kinds
	// slice matches every kind.
	QueryEvents(ctx context.Context, kinds []domain.EventKind, from, to uint64) ([]domain.LedgerEvent, error)

	// QueryDetail reads the full current state of one order directly from the
	// contract.
	QueryDetail(ctx context.Context, orderID string) (domain.OrderDetail, error)

	Close()
}
