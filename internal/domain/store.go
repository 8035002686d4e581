package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists projected orders. All mutating methods have
// insert-if-absent or compare-and-swap semantics so that re-applying an event
// has no effect.
type OrderStore interface {
	// InsertIfAbsent creates the order unless one with the same ID already
	// exists. It returns false when the order was already present.
	InsertIfAbsent(ctx context.Context, o Order) (bool, error)

	GetByID(ctx context.Context, id string) (Order, error)

	// ApplyFill atomically records the fill and bumps the order's running
	// totals: filled' = filled + amount, remaining' = total - filled', and
	// status is set to newStatus verbatim. When the fill's idempotency key is
	// already present nothing changes and false is returned. The referenced
	// order must exist.
	ApplyFill(ctx context.Context, f Fill, newStatus OrderStatus) (bool, error)

	// MarkCancelled sets the order's status to cancelled unless it is already
	// in a terminal status. It returns ErrNotFound when the order is unknown.
	MarkCancelled(ctx context.Context, id string) error

	// ListRecentlyUpdated returns up to limit orders ordered by most recent
	// update, for reconciliation sampling.
	ListRecentlyUpdated(ctx context.Context, limit int) ([]Order, error)

	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]Order, error)
	Count(ctx context.Context) (int64, error)
}

// FillStore reads projected fills. Fills are written only through
// OrderStore.ApplyFill so the totals update and the row insert share one
// transaction.
type FillStore interface {
	ListByOrder(ctx context.Context, orderID string) ([]Fill, error)
	ListBefore(ctx context.Context, before time.Time) ([]Fill, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// WithdrawalStore persists claimed withdrawals.
type WithdrawalStore interface {
	// InsertIfAbsent creates the withdrawal unless its (user, txHash) key is
	// already present. It returns false for duplicates.
	InsertIfAbsent(ctx context.Context, w Withdrawal) (bool, error)

	ListByUser(ctx context.Context, user string, opts ListOpts) ([]Withdrawal, error)
	ListBefore(ctx context.Context, before time.Time) ([]Withdrawal, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// CheckpointStore tracks the durable per-source sync cursor.
type CheckpointStore interface {
	// GetOrCreate returns the checkpoint for source, creating it at the
	// configured genesis height on first run.
	GetOrCreate(ctx context.Context, source string, genesis uint64) (Checkpoint, error)

	// Advance persists height for source unless height <= the stored value.
	// Concurrent callers for the same source are serialized by a
	// compare-and-swap update, so the cursor never decreases.
	Advance(ctx context.Context, source string, height uint64) error

	// MarkStatus records the sync status and, for failures, the last error.
	MarkStatus(ctx context.Context, source string, status CheckpointStatus, lastErr error) error

	List(ctx context.Context) ([]Checkpoint, error)
}
