package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

// eventStream is the durable stream every applied event is appended to.
const eventStream = "stream:events"

// EventHandler serves the durable event stream so consumers that missed live
// pushes can catch up by cursor.
type EventHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler over the signal bus.
func NewEventHandler(bus domain.SignalBus, logger *slog.Logger) *EventHandler {
	return &EventHandler{bus: bus, logger: logHandler(logger, "events")}
}

// ListEvents reads stream entries after the given cursor. The returned
// next_cursor is the ID of the last entry and can be passed back as ?after=.
// GET /api/events?after=0-0&limit=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0-0"
	}
	limit := parseListOpts(r).Limit

	msgs, err := h.bus.StreamRead(r.Context(), eventStream, after, limit)
	if err != nil {
		h.logger.Error("stream read failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read event stream")
		return
	}

	type entry struct {
		ID    string          `json:"id"`
		Event json.RawMessage `json:"event"`
	}
	entries := make([]entry, 0, len(msgs))
	next := after
	for _, m := range msgs {
		entries = append(entries, entry{ID: m.ID, Event: json.RawMessage(m.Payload)})
		next = m.ID
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events":      entries,
		"count":       len(entries),
		"next_cursor": next,
	})
}
