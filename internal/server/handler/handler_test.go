package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

// fakeOrders implements the read side of domain.OrderStore.
type fakeOrders struct {
	orders map[string]domain.Order
}

func (f *fakeOrders) InsertIfAbsent(context.Context, domain.Order) (bool, error) {
	return false, nil
}

func (f *fakeOrders) GetByID(_ context.Context, id string) (domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) ApplyFill(context.Context, domain.Fill, domain.OrderStatus) (bool, error) {
	return false, nil
}

func (f *fakeOrders) MarkCancelled(context.Context, string) error { return nil }

func (f *fakeOrders) ListRecentlyUpdated(_ context.Context, limit int) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		if len(out) == limit {
			break
		}
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeOrders) ListByOwner(_ context.Context, owner string, _ domain.ListOpts) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		if o.Owner == owner {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrders) Count(context.Context) (int64, error) {
	return int64(len(f.orders)), nil
}

// fakeFills implements domain.FillStore.
type fakeFills struct {
	fills []domain.Fill
}

func (f *fakeFills) ListByOrder(_ context.Context, orderID string) ([]domain.Fill, error) {
	var out []domain.Fill
	for _, fl := range f.fills {
		if fl.OrderID == orderID {
			out = append(out, fl)
		}
	}
	return out, nil
}

func (f *fakeFills) ListBefore(context.Context, time.Time) ([]domain.Fill, error) {
	return nil, nil
}

func (f *fakeFills) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeFills) Count(context.Context) (int64, error) { return int64(len(f.fills)), nil }

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big int literal %q", s)
	}
	return n
}

func testOrder(t *testing.T, id, owner string, total string) domain.Order {
	t.Helper()
	tot := bigFromString(t, total)
	return domain.Order{
		ID:          id,
		Owner:       owner,
		Side:        domain.OrderSideSell,
		TotalAmount: tot,
		Filled:      big.NewInt(0),
		Remaining:   new(big.Int).Set(tot),
		UnitPrice:   big.NewInt(5),
		// Snapshot taken at creation time.
		FeeAtCreation: big.NewInt(2),
		Status:        domain.OrderStatusActive,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
}

func newOrderMux(t *testing.T, orders *fakeOrders, fills *fakeFills) *http.ServeMux {
	t.Helper()
	h := NewOrderHandler(orders, fills, slog.Default())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders", h.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("GET /api/orders/{id}/fills", h.ListOrderFills)
	return mux
}

func TestListOrdersByOwner(t *testing.T) {
	orders := &fakeOrders{orders: map[string]domain.Order{
		"1": testOrder(t, "1", "0xa", "1000"),
		"2": testOrder(t, "2", "0xb", "2000"),
	}}
	mux := newOrderMux(t, orders, &fakeFills{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders?owner=0xa", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Orders []map[string]any `json:"orders"`
		Count  int              `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 1 || len(body.Orders) != 1 {
		t.Fatalf("count = %d, want 1", body.Count)
	}
	if got := body.Orders[0]["id"]; got != "1" {
		t.Fatalf("order id = %v, want 1", got)
	}
}

func TestGetOrderRendersAmountsAsStrings(t *testing.T) {
	// A value above 2^53 would be corrupted by a JSON number.
	huge := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	orders := &fakeOrders{orders: map[string]domain.Order{
		"1": testOrder(t, "1", "0xa", huge),
	}}
	fills := &fakeFills{fills: []domain.Fill{{
		OrderID:            "1",
		FillSequence:       0,
		Filler:             "0xf",
		Amount:             bigFromString(t, huge),
		CounterpartyAmount: big.NewInt(1),
		Timestamp:          time.Now().UTC(),
	}}}
	mux := newOrderMux(t, orders, fills)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Order map[string]any   `json:"order"`
		Fills []map[string]any `json:"fills"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got := body.Order["total_amount"]; got != huge {
		t.Fatalf("total_amount = %v, want the full decimal string", got)
	}
	if len(body.Fills) != 1 || body.Fills[0]["amount"] != huge {
		t.Fatalf("fill amount lost precision: %v", body.Fills)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	mux := newOrderMux(t, &fakeOrders{orders: map[string]domain.Order{}}, &fakeFills{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/404", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListWithdrawalsRequiresUser(t *testing.T) {
	h := NewWithdrawalHandler(fakeWithdrawals{}, slog.Default())
	rec := httptest.NewRecorder()
	h.ListWithdrawals(rec, httptest.NewRequest(http.MethodGet, "/api/withdrawals", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

type fakeWithdrawals struct{}

func (fakeWithdrawals) InsertIfAbsent(context.Context, domain.Withdrawal) (bool, error) {
	return false, nil
}

func (fakeWithdrawals) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Withdrawal, error) {
	return []domain.Withdrawal{{
		User:      "0xu",
		TxHash:    "0xt",
		Amount:    big.NewInt(9),
		Kind:      domain.WithdrawalKindRefund,
		Timestamp: time.Now().UTC(),
	}}, nil
}

func (fakeWithdrawals) ListBefore(context.Context, time.Time) ([]domain.Withdrawal, error) {
	return nil, nil
}

func (fakeWithdrawals) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (fakeWithdrawals) Count(context.Context) (int64, error) { return 1, nil }

func TestListWithdrawals(t *testing.T) {
	h := NewWithdrawalHandler(fakeWithdrawals{}, slog.Default())
	rec := httptest.NewRecorder()
	h.ListWithdrawals(rec, httptest.NewRequest(http.MethodGet, "/api/withdrawals?user=0xu", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Withdrawals []map[string]any `json:"withdrawals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Withdrawals) != 1 || body.Withdrawals[0]["kind"] != "refund" {
		t.Fatalf("unexpected withdrawals: %v", body.Withdrawals)
	}
}

// fakeBus serves canned stream entries.
type fakeBus struct {
	msgs []domain.StreamMessage
}

func (fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b fakeBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for _, m := range b.msgs {
		if m.ID > lastID && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestListEventsCursor(t *testing.T) {
	bus := fakeBus{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"kind":"order_created"}`)},
		{ID: "2-0", Payload: []byte(`{"kind":"order_filled"}`)},
	}}
	h := NewEventHandler(bus, slog.Default())

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?after=1-0", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Events []struct {
			ID    string          `json:"id"`
			Event json.RawMessage `json:"event"`
		} `json:"events"`
		NextCursor string `json:"next_cursor"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].ID != "2-0" {
		t.Fatalf("unexpected events: %+v", body.Events)
	}
	if body.NextCursor != "2-0" {
		t.Fatalf("next_cursor = %s, want 2-0", body.NextCursor)
	}
}
