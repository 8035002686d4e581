package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/otcindex/internal/domain"
	"github.com/alanyoungcy/otcindex/internal/indexer"
)

// ListenerStatusProvider exposes the live listener's state. Nil when the
// process runs without a listener (backfill or monitor mode).
type ListenerStatusProvider interface {
	Status() indexer.ListenerStatus
}

// StatusHandler serves a snapshot of the indexer's sync state.
type StatusHandler struct {
	mode        string
	source      string
	listener    ListenerStatusProvider
	checkpoints domain.CheckpointStore
	orders      domain.OrderStore
	fills       domain.FillStore
	withdrawals domain.WithdrawalStore
	startedAt   time.Time
	logger      *slog.Logger
}

// StatusParams bundles the StatusHandler dependencies.
type StatusParams struct {
	Mode        string
	Source      string
	Listener    ListenerStatusProvider
	Checkpoints domain.CheckpointStore
	Orders      domain.OrderStore
	Fills       domain.FillStore
	Withdrawals domain.WithdrawalStore
	Logger      *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(p StatusParams) *StatusHandler {
	return &StatusHandler{
		mode:        p.Mode,
		source:      p.Source,
		listener:    p.Listener,
		checkpoints: p.Checkpoints,
		orders:      p.Orders,
		fills:       p.Fills,
		withdrawals: p.Withdrawals,
		startedAt:   time.Now().UTC(),
		logger:      logHandler(p.Logger, "status"),
	}
}

// GetStatus responds with the mode, uptime, listener state, checkpoint
// cursors, and read-model row counts.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body := map[string]any{
		"mode":           h.mode,
		"source":         h.source,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}

	if h.listener != nil {
		st := h.listener.Status()
		body["listener"] = map[string]any{
			"state":              string(st.State),
			"reconnect_attempts": st.ReconnectAttempts,
			"events_processed":   st.EventsProcessed,
			"last_error":         st.LastError,
		}
	}

	if cps, err := h.checkpoints.List(ctx); err == nil {
		body["checkpoints"] = newCheckpointViews(cps)
	} else {
		h.logger.Warn("checkpoint list failed", slog.String("error", err.Error()))
	}

	counts := map[string]int64{}
	if n, err := h.orders.Count(ctx); err == nil {
		counts["orders"] = n
	}
	if n, err := h.fills.Count(ctx); err == nil {
		counts["fills"] = n
	}
	if n, err := h.withdrawals.Count(ctx); err == nil {
		counts["withdrawals"] = n
	}
	body["counts"] = counts

	writeJSON(w, http.StatusOK, body)
}
