package indexer

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

func newTestProjector(t *testing.T, client *fakeClient) (*Projector, *memStore) {
	t.Helper()
	store := newMemStore()
	var p *Projector
	if client != nil {
		p = NewProjector(store, withdrawalStore{store}, client, slog.Default())
	} else {
		p = NewProjector(store, withdrawalStore{store}, nil, slog.Default())
	}
	return p, store
}

func mustApply(t *testing.T, p *Projector, ev domain.LedgerEvent, want Outcome) {
	t.Helper()
	got, err := p.Apply(context.Background(), ev)
	if err != nil {
		t.Fatalf("Apply(%s): %v", ev.Kind, err)
	}
	if got != want {
		t.Fatalf("Apply(%s) outcome = %s, want %s", ev.Kind, got, want)
	}
}

func assertConserved(t *testing.T, store *memStore, id string) {
	t.Helper()
	o, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	sum := new(big.Int).Add(o.Filled, o.Remaining)
	if sum.Cmp(o.TotalAmount) != 0 {
		t.Fatalf("order %s: filled(%s) + remaining(%s) != total(%s)",
			id, o.Filled, o.Remaining, o.TotalAmount)
	}
}

func TestProjectCreated(t *testing.T) {
	p, store := newTestProjector(t, nil)

	ev := createdEvent("1", "0xowner", 1000, 5, 7, 100)
	mustApply(t, p, ev, OutcomeApplied)

	o, err := store.GetByID(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if o.Status != domain.OrderStatusActive {
		t.Errorf("status = %s, want active", o.Status)
	}
	if o.Filled.Sign() != 0 {
		t.Errorf("filled = %s, want 0", o.Filled)
	}
	if o.Remaining.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("remaining = %s, want 1000", o.Remaining)
	}
	if o.FeeAtCreation.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("fee = %s, want 7", o.FeeAtCreation)
	}
	if o.SourceHeight != 100 {
		t.Errorf("source height = %d, want 100", o.SourceHeight)
	}

	// Redelivery leaves the order untouched.
	mustApply(t, p, ev, OutcomeDuplicate)
	assertConserved(t, store, "1")
}

func TestProjectCreatedFeeEnrichment(t *testing.T) {
	client := newFakeClient()
	client.details["9"] = domain.OrderDetail{
		OrderID: "9",
		Fee:     big.NewInt(42),
	}
	p, store := newTestProjector(t, client)

	// fee < 0 makes the constructor omit the fee from the event.
	mustApply(t, p, createdEvent("9", "0xowner", 500, 2, -1, 10), OutcomeApplied)

	o, _ := store.GetByID(context.Background(), "9")
	if o.FeeAtCreation.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("fee = %s, want enriched 42", o.FeeAtCreation)
	}
}

// Scenario: an order is created and filled twice, then the entire event
// sequence is redelivered. The final state must be identical.
func TestRedeliveredSequenceIsIdempotent(t *testing.T) {
	p, store := newTestProjector(t, nil)

	sequence := []struct {
		ev   domain.LedgerEvent
		want Outcome
	}{
		{createdEvent("1", "0xowner", 1000, 5, 0, 100), OutcomeApplied},
		{filledEvent("1", 0, 400, domain.OrderStatusPartiallyFilled, 101), OutcomeApplied},
		{filledEvent("1", 1, 600, domain.OrderStatusFilled, 102), OutcomeApplied},
	}
	for _, step := range sequence {
		mustApply(t, p, step.ev, step.want)
	}

	first, _ := store.GetByID(context.Background(), "1")

	for _, step := range sequence {
		mustApply(t, p, step.ev, OutcomeDuplicate)
	}

	second, _ := store.GetByID(context.Background(), "1")
	if second.Filled.Cmp(first.Filled) != 0 ||
		second.Remaining.Cmp(first.Remaining) != 0 ||
		second.Status != first.Status {
		t.Fatalf("redelivery changed state: %+v -> %+v", first, second)
	}
	if second.Status != domain.OrderStatusFilled {
		t.Errorf("status = %s, want filled", second.Status)
	}
	if second.Remaining.Sign() != 0 {
		t.Errorf("remaining = %s, want 0", second.Remaining)
	}
	assertConserved(t, store, "1")

	fills, _ := store.ListByOrder(context.Background(), "1")
	if len(fills) != 2 {
		t.Fatalf("fill rows = %d, want 2", len(fills))
	}
}

// Scenario: one duplicated fill in the middle of a sequence must be applied
// exactly once even though it arrives twice.
func TestDuplicateFillAppliedExactlyOnce(t *testing.T) {
	p, store := newTestProjector(t, nil)

	mustApply(t, p, createdEvent("1", "0xowner", 1000, 5, 0, 100), OutcomeApplied)
	fill := filledEvent("1", 0, 400, domain.OrderStatusPartiallyFilled, 101)
	mustApply(t, p, fill, OutcomeApplied)
	mustApply(t, p, fill, OutcomeDuplicate)
	mustApply(t, p, filledEvent("1", 1, 600, domain.OrderStatusFilled, 102), OutcomeApplied)

	o, _ := store.GetByID(context.Background(), "1")
	if o.Filled.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("filled = %s, want 1000 (duplicate must not double-count)", o.Filled)
	}
	assertConserved(t, store, "1")
}

func TestNewStatusTrustedVerbatim(t *testing.T) {
	p, store := newTestProjector(t, nil)

	mustApply(t, p, createdEvent("1", "0xowner", 1000, 5, 0, 100), OutcomeApplied)
	// The ledger says expired even though amounts alone would not imply it.
	mustApply(t, p, filledEvent("1", 0, 100, domain.OrderStatusExpired, 101), OutcomeApplied)

	o, _ := store.GetByID(context.Background(), "1")
	if o.Status != domain.OrderStatusExpired {
		t.Fatalf("status = %s, want expired taken verbatim from the event", o.Status)
	}
}

func TestFillForUnknownOrderSkipped(t *testing.T) {
	p, store := newTestProjector(t, nil)

	got, err := p.Apply(context.Background(), filledEvent("404", 0, 100, domain.OrderStatusPartiallyFilled, 50))
	if err != nil {
		t.Fatalf("out-of-order fill must not error: %v", err)
	}
	if got != OutcomeSkipped {
		t.Fatalf("outcome = %s, want skipped", got)
	}

	fills, _ := store.ListByOrder(context.Background(), "404")
	if len(fills) != 0 {
		t.Fatalf("skipped fill must not persist rows")
	}
}

func TestCancelLifecycle(t *testing.T) {
	p, store := newTestProjector(t, nil)

	mustApply(t, p, createdEvent("1", "0xowner", 1000, 5, 0, 100), OutcomeApplied)
	mustApply(t, p, cancelledEvent("1", 101), OutcomeApplied)

	o, _ := store.GetByID(context.Background(), "1")
	if o.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", o.Status)
	}

	// Cancel of a terminal order is a no-op.
	mustApply(t, p, cancelledEvent("1", 102), OutcomeDuplicate)

	// Cancel of an unknown order is an ordering violation, not a failure.
	mustApply(t, p, cancelledEvent("404", 103), OutcomeSkipped)
}

func TestCancelDoesNotTouchAmounts(t *testing.T) {
	p, store := newTestProjector(t, nil)

	mustApply(t, p, createdEvent("1", "0xowner", 1000, 5, 0, 100), OutcomeApplied)
	mustApply(t, p, filledEvent("1", 0, 300, domain.OrderStatusPartiallyFilled, 101), OutcomeApplied)
	mustApply(t, p, cancelledEvent("1", 102), OutcomeApplied)

	o, _ := store.GetByID(context.Background(), "1")
	if o.Filled.Cmp(big.NewInt(300)) != 0 || o.Remaining.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("cancel changed amounts: filled=%s remaining=%s", o.Filled, o.Remaining)
	}
	assertConserved(t, store, "1")
}

func TestOrdersAreIndependent(t *testing.T) {
	p, store := newTestProjector(t, nil)

	mustApply(t, p, createdEvent("1", "0xa", 1000, 5, 0, 100), OutcomeApplied)
	mustApply(t, p, createdEvent("2", "0xb", 2000, 5, 0, 100), OutcomeApplied)
	mustApply(t, p, filledEvent("1", 0, 1000, domain.OrderStatusFilled, 101), OutcomeApplied)

	o2, _ := store.GetByID(context.Background(), "2")
	if o2.Filled.Sign() != 0 || o2.Status != domain.OrderStatusActive {
		t.Fatalf("filling order 1 affected order 2: %+v", o2)
	}
}

func TestProjectWithdrawal(t *testing.T) {
	p, store := newTestProjector(t, nil)

	ev := withdrawalEvent("0xuser", 555, 200)
	mustApply(t, p, ev, OutcomeApplied)
	mustApply(t, p, ev, OutcomeDuplicate)

	ws := withdrawalStore{store}
	got, _ := ws.ListByUser(context.Background(), "0xuser", domain.ListOpts{})
	if len(got) != 1 {
		t.Fatalf("withdrawal rows = %d, want 1", len(got))
	}
	if got[0].Amount.Cmp(big.NewInt(555)) != 0 {
		t.Errorf("amount = %s, want 555", got[0].Amount)
	}
}

func TestInvalidEventRejected(t *testing.T) {
	p, _ := newTestProjector(t, nil)

	_, err := p.Apply(context.Background(), domain.LedgerEvent{
		Kind:        domain.EventOrderFilled,
		BlockHeight: 10,
	})
	if err == nil {
		t.Fatal("event with missing payload must be rejected")
	}
}
