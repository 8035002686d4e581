package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

// PostCommitHook runs after an event has been durably applied to the read
// model. Hooks are best-effort: a hook failure is logged and never rolls back
// or retries the projection.
type PostCommitHook interface {
	AfterApply(ctx context.Context, ev domain.LedgerEvent, outcome Outcome) error
}

// MultiHook fans out to several hooks, logging individual failures.
type MultiHook struct {
	hooks  []PostCommitHook
	logger *slog.Logger
}

// NewMultiHook combines hooks into one. Nil entries are skipped.
func NewMultiHook(logger *slog.Logger, hooks ...PostCommitHook) *MultiHook {
	var kept []PostCommitHook
	for _, h := range hooks {
		if h != nil {
			kept = append(kept, h)
		}
	}
	return &MultiHook{
		hooks:  kept,
		logger: logger.With(slog.String("component", "post_commit_hooks")),
	}
}

// AfterApply invokes every hook. It always returns nil; failures only log.
func (m *MultiHook) AfterApply(ctx context.Context, ev domain.LedgerEvent, outcome Outcome) error {
	for _, h := range m.hooks {
		if err := h.AfterApply(ctx, ev, outcome); err != nil {
			m.logger.Warn("post-commit hook failed",
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// BusHook publishes applied events on the signal bus: Pub/Sub channel
// "events:<kind>" for live consumers plus the durable "stream:events" stream
// for catch-up reads. Duplicates and skips are not republished.
type BusHook struct {
	bus domain.SignalBus
}

// NewBusHook creates a BusHook over the given signal bus.
func NewBusHook(bus domain.SignalBus) *BusHook {
	return &BusHook{bus: bus}
}

// AfterApply publishes the event when outcome is applied.
func (b *BusHook) AfterApply(ctx context.Context, ev domain.LedgerEvent, outcome Outcome) error {
	if outcome != OutcomeApplied {
		return nil
	}

	payload, err := json.Marshal(newWireEvent(ev))
	if err != nil {
		return fmt.Errorf("indexer: marshal event for bus: %w", err)
	}

	channel := "events:" + string(ev.Kind)
	if err := b.bus.Publish(ctx, channel, payload); err != nil {
		return err
	}
	return b.bus.StreamAppend(ctx, "stream:events", payload)
}

// wireEvent is the bus representation of a projected event. Amounts are
// decimal strings so consumers never lose uint256 precision to JSON numbers.
type wireEvent struct {
	Kind        string            `json:"kind"`
	BlockHeight uint64            `json:"block_height"`
	TxHash      string            `json:"tx_hash"`
	Timestamp   time.Time         `json:"timestamp"`
	OrderID     string            `json:"order_id,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

func newWireEvent(ev domain.LedgerEvent) wireEvent {
	w := wireEvent{
		Kind:        string(ev.Kind),
		BlockHeight: ev.BlockHeight,
		TxHash:      ev.TxHash,
		Timestamp:   ev.Timestamp,
		OrderID:     ev.OrderID(),
		Fields:      map[string]string{},
	}

	switch ev.Kind {
	case domain.EventOrderCreated:
		c := ev.Created
		w.Fields["owner"] = c.Owner
		w.Fields["side"] = string(c.Side)
		w.Fields["total_amount"] = c.TotalAmount.String()
		w.Fields["unit_price"] = c.UnitPrice.String()
		if c.Fee != nil {
			w.Fields["fee"] = c.Fee.String()
		}
		w.Fields["expires_at"] = c.ExpiresAt.Format(time.RFC3339)
	case domain.EventOrderFilled:
		f := ev.Filled
		w.Fields["filler"] = f.Filler
		w.Fields["fill_sequence"] = fmt.Sprintf("%d", f.FillSequence)
		w.Fields["amount"] = f.Amount.String()
		w.Fields["counterparty_amount"] = f.CounterpartyAmount.String()
		w.Fields["new_status"] = string(f.NewStatus)
	case domain.EventWithdrawalClaimed:
		wd := ev.Withdrawal
		w.Fields["user"] = wd.User
		w.Fields["amount"] = wd.Amount.String()
		w.Fields["withdrawal_kind"] = string(wd.Kind)
	}
	return w
}
