package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/otcindex/internal/domain"
	"github.com/alanyoungcy/otcindex/internal/ledger"
)

// memStore is an in-memory read model implementing domain.OrderStore,
// domain.FillStore, and domain.WithdrawalStore. Values are deep-copied on the
// way in and out so tests cannot alias store state through shared big.Ints.
type memStore struct {
	mu          sync.Mutex
	orders      map[string]domain.Order
	fills       map[string]domain.Fill
	withdrawals map[string]domain.Withdrawal

	// failOn fails the Nth mutating call (1-based). 0 disables.
	failOn    int
	mutations int
}

func newMemStore() *memStore {
	return &memStore{
		orders:      map[string]domain.Order{},
		fills:       map[string]domain.Fill{},
		withdrawals: map[string]domain.Withdrawal{},
	}
}

func copyOrder(o domain.Order) domain.Order {
	c := o
	c.TotalAmount = new(big.Int).Set(o.TotalAmount)
	c.Filled = new(big.Int).Set(o.Filled)
	c.Remaining = new(big.Int).Set(o.Remaining)
	c.UnitPrice = new(big.Int).Set(o.UnitPrice)
	c.FeeAtCreation = new(big.Int).Set(o.FeeAtCreation)
	return c
}

func copyFill(f domain.Fill) domain.Fill {
	c := f
	c.Amount = new(big.Int).Set(f.Amount)
	c.CounterpartyAmount = new(big.Int).Set(f.CounterpartyAmount)
	return c
}

func fillKey(orderID string, seq uint64) string {
	return fmt.Sprintf("%s/%d", orderID, seq)
}

func (m *memStore) maybeFail() error {
	m.mutations++
	if m.failOn != 0 && m.mutations == m.failOn {
		return fmt.Errorf("fake: injected store failure")
	}
	return nil
}

func (m *memStore) InsertIfAbsent(_ context.Context, o domain.Order) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail(); err != nil {
		return false, err
	}
	if _, ok := m.orders[o.ID]; ok {
		return false, nil
	}
	m.orders[o.ID] = copyOrder(o)
	return true, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return copyOrder(o), nil
}

func (m *memStore) ApplyFill(_ context.Context, f domain.Fill, newStatus domain.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.maybeFail(); err != nil {
		return false, err
	}

	o, ok := m.orders[f.OrderID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if _, dup := m.fills[fillKey(f.OrderID, f.FillSequence)]; dup {
		return false, nil
	}

	m.fills[fillKey(f.OrderID, f.FillSequence)] = copyFill(f)

	o = copyOrder(o)
	o.Filled.Add(o.Filled, f.Amount)
	o.Remaining.Sub(o.TotalAmount, o.Filled)
	o.Status = newStatus
	o.UpdatedAt = time.Now()
	m.orders[f.OrderID] = o
	return true, nil
}

func (m *memStore) MarkCancelled(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status.IsTerminal() {
		return nil
	}
	o = copyOrder(o)
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = time.Now()
	m.orders[id] = o
	return nil
}

func (m *memStore) ListRecentlyUpdated(_ context.Context, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		out = append(out, copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListByOwner(_ context.Context, owner string, _ domain.ListOpts) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.Owner == owner {
			out = append(out, copyOrder(o))
		}
	}
	return out, nil
}

func (m *memStore) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.orders)), nil
}

func (m *memStore) ListByOrder(_ context.Context, orderID string) ([]domain.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Fill
	for _, f := range m.fills {
		if f.OrderID == orderID {
			out = append(out, copyFill(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FillSequence < out[j].FillSequence })
	return out, nil
}

func (m *memStore) ListBefore(_ context.Context, before time.Time) ([]domain.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Fill
	for _, f := range m.fills {
		if f.Timestamp.Before(before) {
			out = append(out, copyFill(f))
		}
	}
	return out, nil
}

func (m *memStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, f := range m.fills {
		if f.Timestamp.Before(before) {
			delete(m.fills, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) InsertIfAbsentWithdrawal(w domain.Withdrawal) (bool, error) {
	key := w.User + "/" + w.TxHash
	if _, ok := m.withdrawals[key]; ok {
		return false, nil
	}
	c := w
	c.Amount = new(big.Int).Set(w.Amount)
	m.withdrawals[key] = c
	return true, nil
}

// withdrawalStore adapts memStore to domain.WithdrawalStore; a separate type
// keeps the two InsertIfAbsent signatures from clashing.
type withdrawalStore struct {
	m *memStore
}

func (s withdrawalStore) InsertIfAbsent(_ context.Context, w domain.Withdrawal) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.maybeFail(); err != nil {
		return false, err
	}
	return s.m.InsertIfAbsentWithdrawal(w)
}

func (s withdrawalStore) ListByUser(_ context.Context, user string, _ domain.ListOpts) ([]domain.Withdrawal, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []domain.Withdrawal
	for _, w := range s.m.withdrawals {
		if w.User == user {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s withdrawalStore) ListBefore(_ context.Context, before time.Time) ([]domain.Withdrawal, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []domain.Withdrawal
	for _, w := range s.m.withdrawals {
		if w.Timestamp.Before(before) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s withdrawalStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for k, w := range s.m.withdrawals {
		if w.Timestamp.Before(before) {
			delete(s.m.withdrawals, k)
			n++
		}
	}
	return n, nil
}

func (s withdrawalStore) Count(_ context.Context) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return int64(len(s.m.withdrawals)), nil
}

// memCheckpoints is an in-memory domain.CheckpointStore.
type memCheckpoints struct {
	mu  sync.Mutex
	cps map[string]domain.Checkpoint
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{cps: map[string]domain.Checkpoint{}}
}

func (m *memCheckpoints) GetOrCreate(_ context.Context, source string, genesis uint64) (domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp, ok := m.cps[source]; ok {
		return cp, nil
	}
	cp := domain.Checkpoint{
		Source:              source,
		LastProcessedHeight: genesis,
		Status:              domain.CheckpointStatusSyncing,
		LastSyncedAt:        time.Now(),
	}
	m.cps[source] = cp
	return cp, nil
}

func (m *memCheckpoints) Advance(_ context.Context, source string, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[source]
	if !ok {
		return domain.ErrNotFound
	}
	if height > cp.LastProcessedHeight {
		cp.LastProcessedHeight = height
		cp.LastSyncedAt = time.Now()
		m.cps[source] = cp
	}
	return nil
}

func (m *memCheckpoints) MarkStatus(_ context.Context, source string, status domain.CheckpointStatus, lastErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[source]
	if !ok {
		return domain.ErrNotFound
	}
	cp.Status = status
	cp.LastError = ""
	if lastErr != nil {
		cp.LastError = lastErr.Error()
	}
	m.cps[source] = cp
	return nil
}

func (m *memCheckpoints) List(_ context.Context) ([]domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Checkpoint
	for _, cp := range m.cps {
		out = append(out, cp)
	}
	return out, nil
}

func (m *memCheckpoints) height(source string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cps[source].LastProcessedHeight
}

func (m *memCheckpoints) status(source string) domain.CheckpointStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cps[source].Status
}

// fakeSub is a scriptable live subscription.
type fakeSub struct {
	events    chan domain.LedgerEvent
	errs      chan error
	mu        sync.Mutex
	unsubbed  bool
	unsubOnce sync.Once
}

func newFakeSub(buffer int) *fakeSub {
	return &fakeSub{
		events: make(chan domain.LedgerEvent, buffer),
		errs:   make(chan error, 1),
	}
}

func (s *fakeSub) Events() <-chan domain.LedgerEvent { return s.events }
func (s *fakeSub) Err() <-chan error                 { return s.errs }

func (s *fakeSub) Unsubscribe() {
	s.unsubOnce.Do(func() {
		s.mu.Lock()
		s.unsubbed = true
		s.mu.Unlock()
	})
}

func (s *fakeSub) isUnsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubbed
}

// fakeClient is a scriptable ledger client. Subscribe pops from subs, or
// fails with subscribeErr when the queue is empty and subscribeErr is set.
type fakeClient struct {
	mu           sync.Mutex
	head         uint64
	events       []domain.LedgerEvent
	details      map[string]domain.OrderDetail
	subs         []*fakeSub
	subscribeErr error
	queryFails   int
	queryCalls   int
	detailErr    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{details: map[string]domain.OrderDetail{}}
}

func (c *fakeClient) Subscribe(_ context.Context, _ []domain.EventKind) (ledger.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) == 0 {
		if c.subscribeErr != nil {
			return nil, c.subscribeErr
		}
		return nil, fmt.Errorf("fake: no subscription scripted")
	}
	sub := c.subs[0]
	c.subs = c.subs[1:]
	return sub, nil
}

func (c *fakeClient) Height(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeClient) QueryEvents(_ context.Context, _ []domain.EventKind, from, to uint64) ([]domain.LedgerEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryCalls++
	if c.queryFails > 0 {
		c.queryFails--
		return nil, fmt.Errorf("fake: transient query failure")
	}
	var out []domain.LedgerEvent
	for _, ev := range c.events {
		if ev.BlockHeight >= from && ev.BlockHeight <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *fakeClient) QueryDetail(_ context.Context, orderID string) (domain.OrderDetail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detailErr != nil {
		return domain.OrderDetail{}, c.detailErr
	}
	d, ok := c.details[orderID]
	if !ok {
		return domain.OrderDetail{}, domain.ErrNotFound
	}
	return d, nil
}

func (c *fakeClient) Close() {}

// Event constructors for test scenarios.

func createdEvent(id, owner string, total, price, fee int64, height uint64) domain.LedgerEvent {
	var feeInt *big.Int
	if fee >= 0 {
		feeInt = big.NewInt(fee)
	}
	return domain.LedgerEvent{
		Kind:        domain.EventOrderCreated,
		BlockHeight: height,
		TxHash:      fmt.Sprintf("0xc%s-%d", id, height),
		Timestamp:   time.Unix(int64(1700000000+height), 0).UTC(),
		Created: &domain.OrderCreatedPayload{
			OrderID:     id,
			Owner:       owner,
			Side:        domain.OrderSideSell,
			TotalAmount: big.NewInt(total),
			UnitPrice:   big.NewInt(price),
			Fee:         feeInt,
			ExpiresAt:   time.Unix(int64(1800000000), 0).UTC(),
		},
	}
}

func filledEvent(id string, seq uint64, amount int64, newStatus domain.OrderStatus, height uint64) domain.LedgerEvent {
	return domain.LedgerEvent{
		Kind:        domain.EventOrderFilled,
		BlockHeight: height,
		TxHash:      fmt.Sprintf("0xf%s-%d", id, seq),
		Timestamp:   time.Unix(int64(1700000000+height), 0).UTC(),
		Filled: &domain.OrderFilledPayload{
			OrderID:            id,
			Filler:             "0xfiller",
			FillSequence:       seq,
			Amount:             big.NewInt(amount),
			CounterpartyAmount: big.NewInt(amount * 10),
			NewStatus:          newStatus,
		},
	}
}

func cancelledEvent(id string, height uint64) domain.LedgerEvent {
	return domain.LedgerEvent{
		Kind:        domain.EventOrderCancelled,
		BlockHeight: height,
		TxHash:      fmt.Sprintf("0xx%s-%d", id, height),
		Timestamp:   time.Unix(int64(1700000000+height), 0).UTC(),
		Cancelled:   &domain.OrderCancelledPayload{OrderID: id},
	}
}

func withdrawalEvent(user string, amount int64, height uint64) domain.LedgerEvent {
	return domain.LedgerEvent{
		Kind:        domain.EventWithdrawalClaimed,
		BlockHeight: height,
		TxHash:      fmt.Sprintf("0xw%s-%d", user, height),
		Timestamp:   time.Unix(int64(1700000000+height), 0).UTC(),
		Withdrawal: &domain.WithdrawalClaimedPayload{
			User:   user,
			Amount: big.NewInt(amount),
			Kind:   domain.WithdrawalKindProceeds,
		},
	}
}
