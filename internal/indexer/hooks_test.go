package indexer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

// memBus records bus traffic in-process.
type memBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{
		published: map[string][][]byte{},
		streamed:  map[string][][]byte{},
	}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestBusHookPublishesAppliedEvents(t *testing.T) {
	bus := newMemBus()
	hook := NewBusHook(bus)

	ev := filledEvent("1", 0, 400, domain.OrderStatusPartiallyFilled, 101)
	if err := hook.AfterApply(context.Background(), ev, OutcomeApplied); err != nil {
		t.Fatalf("AfterApply: %v", err)
	}

	msgs := bus.published["events:order_filled"]
	if len(msgs) != 1 {
		t.Fatalf("published %d messages on events:order_filled, want 1", len(msgs))
	}
	if len(bus.streamed["stream:events"]) != 1 {
		t.Fatal("applied event missing from stream:events")
	}

	var w wireEvent
	if err := json.Unmarshal(msgs[0], &w); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if w.Kind != "order_filled" || w.OrderID != "1" || w.BlockHeight != 101 {
		t.Fatalf("unexpected envelope: %+v", w)
	}
	// Amounts travel as decimal strings.
	if w.Fields["amount"] != "400" || w.Fields["fill_sequence"] != "0" {
		t.Fatalf("unexpected fields: %v", w.Fields)
	}
	if w.Fields["new_status"] != "partially_filled" {
		t.Fatalf("new_status = %q", w.Fields["new_status"])
	}
}

func TestBusHookIgnoresDuplicatesAndSkips(t *testing.T) {
	bus := newMemBus()
	hook := NewBusHook(bus)

	ev := createdEvent("1", "0xowner", 1000, 5, 0, 100)
	for _, outcome := range []Outcome{OutcomeDuplicate, OutcomeSkipped} {
		if err := hook.AfterApply(context.Background(), ev, outcome); err != nil {
			t.Fatalf("AfterApply(%s): %v", outcome, err)
		}
	}
	if len(bus.published) != 0 || len(bus.streamed) != 0 {
		t.Fatal("non-applied outcomes must not reach the bus")
	}
}
