package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/otcindex/internal/domain"
	"github.com/alanyoungcy/otcindex/internal/ledger"
	"github.com/alanyoungcy/otcindex/internal/notify"
)

// ListenerState is one position of the listener state machine.
type ListenerState string

const (
	ListenerStopped      ListenerState = "stopped"
	ListenerStarting     ListenerState = "starting"
	ListenerRunning      ListenerState = "running"
	ListenerReconnecting ListenerState = "reconnecting"
)

var listenerStateGauge = map[ListenerState]float64{
	ListenerStopped:      0,
	ListenerStarting:     1,
	ListenerRunning:      2,
	ListenerReconnecting: 3,
}

// ListenerStatus is a queryable snapshot of the listener.
type ListenerStatus struct {
	State             ListenerState `json:"state"`
	ReconnectAttempts int           `json:"reconnect_attempts"`
	LastError         string        `json:"last_error,omitempty"`
	EventsProcessed   uint64        `json:"events_processed"`
}

// Listener consumes the live event subscription and drives the projector.
// Events are applied on a single goroutine in arrival order, which preserves
// per-order causal order. On a broken subscription it reconnects with a fixed
// delay up to a bounded number of consecutive attempts; the bound resets each
// time a subscription is established.
//
// The listener never touches the checkpoint cursor. The cursor records how far
// the sequential historical sync has verifiably gotten, and the backfill loop
// is its only writer; live events above that point are simply re-delivered on
// the next pass and absorbed by idempotent projection.
type Listener struct {
	client    ledger.Client
	projector *Projector
	source    string
	hooks     PostCommitHook
	notifier  *notify.Notifier
	logger    *slog.Logger

	maxAttempts int
	delay       time.Duration

	mu        sync.Mutex
	state     ListenerState
	attempts  int
	lastErr   string
	processed uint64

	stopOnce sync.Once
	done     chan struct{}
}

// ListenerParams bundles the listener's collaborators.
type ListenerParams struct {
	Client               ledger.Client
	Projector            *Projector
	Source               string
	Hooks                PostCommitHook
	Notifier             *notify.Notifier
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	Logger               *slog.Logger
}

// NewListener creates a stopped Listener.
func NewListener(p ListenerParams) *Listener {
	return &Listener{
		client:      p.Client,
		projector:   p.Projector,
		source:      p.Source,
		hooks:       p.Hooks,
		notifier:    p.Notifier,
		maxAttempts: p.MaxReconnectAttempts,
		delay:       p.ReconnectDelay,
		logger:      p.Logger.With(slog.String("component", "listener")),
		state:       ListenerStopped,
		done:        make(chan struct{}),
	}
}

// Status returns the current state machine snapshot.
func (l *Listener) Status() ListenerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ListenerStatus{
		State:             l.state,
		ReconnectAttempts: l.attempts,
		LastError:         l.lastErr,
		EventsProcessed:   l.processed,
	}
}

// Stop transitions the listener towards Stopped. It cancels any pending
// reconnect backoff; no further reconnect attempts fire after Stop.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Run drives the listener until Stop, context cancellation, or reconnect
// exhaustion. On exhaustion it returns domain.ErrReconnectExhausted after
// notifying; the read model stays intact and a later backfill closes the gap.
func (l *Listener) Run(ctx context.Context) error {
	defer l.setState(ListenerStopped)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		default:
		}

		l.setState(ListenerStarting)
		sub, err := l.client.Subscribe(ctx, nil)
		if err != nil {
			if retryErr := l.noteFailure(ctx, err); retryErr != nil {
				return retryErr
			}
			continue
		}

		l.mu.Lock()
		l.attempts = 0
		l.mu.Unlock()
		l.setState(ListenerRunning)
		l.logger.Info("subscribed to live events", slog.String("source", l.source))

		err = l.consume(ctx, sub)
		sub.Unsubscribe()
		if err == nil {
			// Stop or context cancellation.
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return nil
			}
		}

		if retryErr := l.noteFailure(ctx, err); retryErr != nil {
			return retryErr
		}
	}
}

// consume applies events from one subscription until it breaks. A nil return
// means the listener is shutting down.
func (l *Listener) consume(ctx context.Context, sub ledger.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.done:
			return nil
		case err := <-sub.Err():
			return fmt.Errorf("indexer: subscription: %w", err)
		case ev, ok := <-sub.Events():
			if !ok {
				return fmt.Errorf("indexer: subscription closed")
			}
			l.apply(ctx, ev)
		}
	}
}

// apply projects one live event and fires hooks. Projection failures are
// reported and the event is dropped; the periodic backfill re-delivers it
// idempotently.
func (l *Listener) apply(ctx context.Context, ev domain.LedgerEvent) {
	outcome, err := l.projector.Apply(ctx, ev)
	if err != nil {
		l.logger.Error("projection failed",
			slog.String("kind", string(ev.Kind)),
			slog.Uint64("height", ev.BlockHeight),
			slog.String("error", err.Error()))
		if l.notifier != nil {
			_ = l.notifier.Notify(ctx, notify.EventError, "Projection failed",
				fmt.Sprintf("kind=%s height=%d: %v", ev.Kind, ev.BlockHeight, err))
		}
		return
	}

	l.mu.Lock()
	l.processed++
	l.mu.Unlock()

	if outcome == OutcomeSkipped && l.notifier != nil {
		_ = l.notifier.Notify(ctx, notify.EventOrderingViolation, "Ordering violation",
			fmt.Sprintf("%s for unknown order %s at height %d", ev.Kind, ev.OrderID(), ev.BlockHeight))
	}

	if l.hooks != nil {
		_ = l.hooks.AfterApply(ctx, ev, outcome)
	}
}

// noteFailure records a broken subscription and waits out the reconnect
// delay. It returns a terminal error once the attempt budget is spent.
func (l *Listener) noteFailure(ctx context.Context, cause error) error {
	l.mu.Lock()
	l.attempts++
	attempts := l.attempts
	l.lastErr = cause.Error()
	l.mu.Unlock()
	reconnectAttempts.Inc()

	if attempts >= l.maxAttempts {
		l.logger.Error("reconnect attempts exhausted",
			slog.Int("attempts", attempts),
			slog.String("error", cause.Error()))
		if l.notifier != nil {
			_ = l.notifier.Notify(ctx, notify.EventReconnectExhausted, "Listener stopped",
				fmt.Sprintf("gave up after %d attempts: %v", attempts, cause))
		}
		return fmt.Errorf("indexer: %w: %d attempts, last: %v", domain.ErrReconnectExhausted, attempts, cause)
	}

	l.setState(ListenerReconnecting)
	l.logger.Warn("subscription lost, reconnecting",
		slog.Int("attempt", attempts),
		slog.Int("max_attempts", l.maxAttempts),
		slog.Duration("delay", l.delay),
		slog.String("error", cause.Error()))

	timer := time.NewTimer(l.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return nil
	case <-timer.C:
		return nil
	}
}

func (l *Listener) setState(s ListenerState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	listenerState.Set(listenerStateGauge[s])
}
