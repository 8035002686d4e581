// Package indexer contains the projection pipeline: the projector applies
// ledger events to the read model, the listener feeds it from a live
// subscription, and the backfill feeds it from ranged history queries.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/otcindex/internal/domain"
	"github.com/alanyoungcy/otcindex/internal/ledger"
)

// Outcome describes what applying one event did to the read model.
type Outcome string

const (
	// OutcomeApplied means the event changed the read model.
	OutcomeApplied Outcome = "applied"

	// OutcomeDuplicate means the event's idempotency key was already present
	// and nothing changed.
	OutcomeDuplicate Outcome = "duplicate"

	// OutcomeSkipped means the event referenced an order the read model has
	// never seen. It is logged and counted, never fatal.
	OutcomeSkipped Outcome = "skipped"
)

// Projector applies ledger events to the read model. Apply is idempotent:
// re-applying any event yields OutcomeDuplicate and leaves the stores
// unchanged. It is not safe for concurrent use against the same order; the
// listener and backfill each drive it from a single goroutine.
type Projector struct {
	orders      domain.OrderStore
	withdrawals domain.WithdrawalStore
	client      ledger.Client
	logger      *slog.Logger
}

// NewProjector creates a Projector. client is used only for fee enrichment of
// creation events that carry no fee; it may be nil when every event source
// includes fees.
func NewProjector(orders domain.OrderStore, withdrawals domain.WithdrawalStore, client ledger.Client, logger *slog.Logger) *Projector {
	return &Projector{
		orders:      orders,
		withdrawals: withdrawals,
		client:      client,
		logger:      logger.With(slog.String("component", "projector")),
	}
}

// Apply projects one event. The returned error is reserved for store or
// enrichment failures; out-of-order and duplicate events are normal outcomes.
func (p *Projector) Apply(ctx context.Context, ev domain.LedgerEvent) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return OutcomeSkipped, err
	}

	var (
		outcome Outcome
		err     error
	)
	switch ev.Kind {
	case domain.EventOrderCreated:
		outcome, err = p.applyCreated(ctx, ev)
	case domain.EventOrderFilled:
		outcome, err = p.applyFilled(ctx, ev)
	case domain.EventOrderCancelled:
		outcome, err = p.applyCancelled(ctx, ev)
	case domain.EventWithdrawalClaimed:
		outcome, err = p.applyWithdrawal(ctx, ev)
	default:
		return OutcomeSkipped, fmt.Errorf("indexer: %w: kind %q", domain.ErrInvalidEvent, ev.Kind)
	}
	if err != nil {
		return outcome, err
	}

	eventsProjected.WithLabelValues(string(ev.Kind), string(outcome)).Inc()
	return outcome, nil
}

func (p *Projector) applyCreated(ctx context.Context, ev domain.LedgerEvent) (Outcome, error) {
	c := ev.Created

	fee := c.Fee
	if fee == nil {
		// Creation events from sources that omit the fee are enriched from
		// the contract. The fee snapshot is immutable afterwards.
		if p.client == nil {
			return OutcomeSkipped, fmt.Errorf("indexer: order %s created without fee and no ledger client", c.OrderID)
		}
		detail, err := p.client.QueryDetail(ctx, c.OrderID)
		if err != nil {
			return OutcomeSkipped, fmt.Errorf("indexer: enrich order %s fee: %w", c.OrderID, err)
		}
		fee = detail.Fee
	}

	order := domain.Order{
		ID:            c.OrderID,
		Owner:         c.Owner,
		Side:          c.Side,
		TotalAmount:   new(big.Int).Set(c.TotalAmount),
		Filled:        big.NewInt(0),
		Remaining:     new(big.Int).Set(c.TotalAmount),
		UnitPrice:     new(big.Int).Set(c.UnitPrice),
		FeeAtCreation: new(big.Int).Set(fee),
		Status:        domain.OrderStatusActive,
		CreatedAt:     ev.Timestamp,
		ExpiresAt:     c.ExpiresAt,
		SourceHeight:  ev.BlockHeight,
	}

	inserted, err := p.orders.InsertIfAbsent(ctx, order)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("indexer: project created %s: %w", c.OrderID, err)
	}
	if !inserted {
		return OutcomeDuplicate, nil
	}
	return OutcomeApplied, nil
}

func (p *Projector) applyFilled(ctx context.Context, ev domain.LedgerEvent) (Outcome, error) {
	f := ev.Filled

	fill := domain.Fill{
		OrderID:            f.OrderID,
		FillSequence:       f.FillSequence,
		Filler:             f.Filler,
		Amount:             new(big.Int).Set(f.Amount),
		CounterpartyAmount: new(big.Int).Set(f.CounterpartyAmount),
		TxHash:             ev.TxHash,
		BlockHeight:        ev.BlockHeight,
		Timestamp:          ev.Timestamp,
	}

	applied, err := p.orders.ApplyFill(ctx, fill, f.NewStatus)
	if errors.Is(err, domain.ErrNotFound) {
		p.skipOrderless(ev)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("indexer: project fill (%s, %d): %w", f.OrderID, f.FillSequence, err)
	}
	if !applied {
		return OutcomeDuplicate, nil
	}
	return OutcomeApplied, nil
}

func (p *Projector) applyCancelled(ctx context.Context, ev domain.LedgerEvent) (Outcome, error) {
	id := ev.Cancelled.OrderID

	order, err := p.orders.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		p.skipOrderless(ev)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("indexer: project cancel %s: %w", id, err)
	}
	if order.Status.IsTerminal() {
		// Redelivered cancel, or a cancel racing a final fill.
		return OutcomeDuplicate, nil
	}

	if err := p.orders.MarkCancelled(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.skipOrderless(ev)
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, fmt.Errorf("indexer: project cancel %s: %w", id, err)
	}
	return OutcomeApplied, nil
}

func (p *Projector) applyWithdrawal(ctx context.Context, ev domain.LedgerEvent) (Outcome, error) {
	w := ev.Withdrawal

	inserted, err := p.withdrawals.InsertIfAbsent(ctx, domain.Withdrawal{
		User:        w.User,
		TxHash:      ev.TxHash,
		Amount:      new(big.Int).Set(w.Amount),
		Kind:        w.Kind,
		BlockHeight: ev.BlockHeight,
		Timestamp:   ev.Timestamp,
	})
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("indexer: project withdrawal (%s, %s): %w", w.User, ev.TxHash, err)
	}
	if !inserted {
		return OutcomeDuplicate, nil
	}
	return OutcomeApplied, nil
}

// skipOrderless records an out-of-causal-order event: a fill or cancel for an
// order the read model has never seen.
func (p *Projector) skipOrderless(ev domain.LedgerEvent) {
	orderingViolations.Inc()
	p.logger.Warn("skipping event for unknown order",
		slog.String("kind", string(ev.Kind)),
		slog.String("order_id", ev.OrderID()),
		slog.Uint64("height", ev.BlockHeight),
		slog.String("tx_hash", ev.TxHash))
}
