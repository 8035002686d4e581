package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"testing"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

func seedOrder(t *testing.T, store *memStore, id string, total, filled int64, status domain.OrderStatus) {
	t.Helper()
	p := NewProjector(store, withdrawalStore{store}, nil, slog.Default())
	mustApply(t, p, createdEvent(id, "0xowner", total, 1, 0, 10), OutcomeApplied)
	if filled > 0 {
		mustApply(t, p, filledEvent(id, 0, filled, status, 11), OutcomeApplied)
	}
}

func TestReconcileClean(t *testing.T) {
	store := newMemStore()
	seedOrder(t, store, "1", 1000, 400, domain.OrderStatusPartiallyFilled)

	client := newFakeClient()
	client.details["1"] = domain.OrderDetail{
		OrderID:     "1",
		TotalAmount: big.NewInt(1000),
		Filled:      big.NewInt(400),
		Status:      domain.OrderStatusPartiallyFilled,
	}

	r := NewReconciler(store, client, nil, 50, slog.Default())
	divs, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(divs) != 0 {
		t.Fatalf("divergences = %v, want none", divs)
	}
}

func TestReconcileDetectsDivergence(t *testing.T) {
	store := newMemStore()
	seedOrder(t, store, "1", 1000, 400, domain.OrderStatusPartiallyFilled)

	// The chain saw one more fill than the read model did.
	client := newFakeClient()
	client.details["1"] = domain.OrderDetail{
		OrderID:     "1",
		TotalAmount: big.NewInt(1000),
		Filled:      big.NewInt(700),
		Status:      domain.OrderStatusPartiallyFilled,
	}

	r := NewReconciler(store, client, nil, 50, slog.Default())
	divs, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(divs) != 2 {
		t.Fatalf("divergences = %v, want filled and remaining", divs)
	}

	fields := map[string]bool{}
	for _, d := range divs {
		if d.OrderID != "1" {
			t.Errorf("divergence on order %s, want 1", d.OrderID)
		}
		fields[d.Field] = true
	}
	if !fields["filled"] || !fields["remaining"] {
		t.Fatalf("diverged fields = %v, want filled and remaining", fields)
	}
}

func TestReconcileReportsExpiredStatusWithoutAdopting(t *testing.T) {
	store := newMemStore()
	seedOrder(t, store, "1", 1000, 0, domain.OrderStatusActive)

	// The contract lazily expired the order; no event was ever emitted.
	client := newFakeClient()
	client.details["1"] = domain.OrderDetail{
		OrderID:     "1",
		TotalAmount: big.NewInt(1000),
		Filled:      big.NewInt(0),
		Status:      domain.OrderStatusExpired,
	}

	r := NewReconciler(store, client, nil, 50, slog.Default())
	divs, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(divs) != 1 || divs[0].Field != "status" {
		t.Fatalf("divergences = %v, want one status divergence", divs)
	}

	// Diagnostic only: the read model keeps its own status.
	o, _ := store.GetByID(context.Background(), "1")
	if o.Status != domain.OrderStatusActive {
		t.Fatalf("reconciler wrote the read model: status = %s", o.Status)
	}
}

func TestReconcileSkipsOrdersWithFailedDetailQuery(t *testing.T) {
	store := newMemStore()
	seedOrder(t, store, "1", 1000, 0, domain.OrderStatusActive)

	client := newFakeClient()
	client.detailErr = fmt.Errorf("rpc timeout")

	r := NewReconciler(store, client, nil, 50, slog.Default())
	divs, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("a failed detail query must not fail the run: %v", err)
	}
	if len(divs) != 0 {
		t.Fatalf("divergences = %v, want none when the chain is unreachable", divs)
	}
}
