package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/alanyoungcy/otcindex/internal/domain"
	"github.com/alanyoungcy/otcindex/internal/ledger"
	"github.com/alanyoungcy/otcindex/internal/notify"
)

// Reconciler periodically samples recently updated orders and compares the
// read model against the contract's own view. It is strictly diagnostic: a
// divergence raises a metric and a notification but never writes the read
// model. The events remain the only write path.
type Reconciler struct {
	orders   domain.OrderStore
	client   ledger.Client
	notifier *notify.Notifier
	sample   int
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler that re-reads up to sample orders per
// run.
func NewReconciler(orders domain.OrderStore, client ledger.Client, notifier *notify.Notifier, sample int, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		orders:   orders,
		client:   client,
		notifier: notifier,
		sample:   sample,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
}

// Divergence describes one field where the read model disagrees with the
// chain.
type Divergence struct {
	OrderID string
	Field   string
	Local   string
	Chain   string
}

// RunOnce compares one sample and returns the divergences found.
func (r *Reconciler) RunOnce(ctx context.Context) ([]Divergence, error) {
	orders, err := r.orders.ListRecentlyUpdated(ctx, r.sample)
	if err != nil {
		return nil, fmt.Errorf("indexer: reconcile sample: %w", err)
	}

	var divergences []Divergence
	for _, o := range orders {
		detail, err := r.client.QueryDetail(ctx, o.ID)
		if err != nil {
			r.logger.Warn("reconcile detail query failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()))
			continue
		}
		divergences = append(divergences, compareOrder(o, detail)...)
	}

	if len(divergences) > 0 {
		reconcileDivergences.Add(float64(len(divergences)))
		r.report(ctx, divergences)
	}
	return divergences, nil
}

// RunLoop re-runs the comparison on every tick until ctx is cancelled.
func (r *Reconciler) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reconcile run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// compareOrder diffs the projected order against the contract view. Remaining
// is derived from the chain's total and filled, mirroring the read-model
// conservation rule.
func compareOrder(o domain.Order, d domain.OrderDetail) []Divergence {
	var out []Divergence

	if o.Filled.Cmp(d.Filled) != 0 {
		out = append(out, Divergence{o.ID, "filled", o.Filled.String(), d.Filled.String()})
	}

	chainRemaining := new(big.Int).Sub(d.TotalAmount, d.Filled)
	if o.Remaining.Cmp(chainRemaining) != 0 {
		out = append(out, Divergence{o.ID, "remaining", o.Remaining.String(), chainRemaining.String()})
	}

	// The chain may have flipped an order to expired with no event; that is
	// visible here but only reported, never adopted.
	if o.Status != d.Status {
		out = append(out, Divergence{o.ID, "status", string(o.Status), string(d.Status)})
	}
	return out
}

func (r *Reconciler) report(ctx context.Context, divergences []Divergence) {
	var sb strings.Builder
	for i, d := range divergences {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "order %s %s: local=%s chain=%s", d.OrderID, d.Field, d.Local, d.Chain)
	}
	msg := sb.String()

	r.logger.Warn("read model diverged from chain",
		slog.Int("count", len(divergences)),
		slog.String("detail", msg))
	if r.notifier != nil {
		_ = r.notifier.Notify(ctx, notify.EventReconcileDivergence,
			"Reconciliation divergence", msg)
	}
}
