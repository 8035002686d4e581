package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

// WithdrawalHandler serves projected withdrawal claims.
type WithdrawalHandler struct {
	withdrawals domain.WithdrawalStore
	logger      *slog.Logger
}

// NewWithdrawalHandler creates a WithdrawalHandler.
func NewWithdrawalHandler(withdrawals domain.WithdrawalStore, logger *slog.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawals: withdrawals,
		logger:      logHandler(logger, "withdrawals"),
	}
}

// ListWithdrawals returns the withdrawals claimed by one user.
// GET /api/withdrawals?user=0x..&limit=50&offset=0
func (h *WithdrawalHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	ws, err := h.withdrawals.ListByUser(r.Context(), user, parseListOpts(r))
	if err != nil {
		h.logger.Error("list withdrawals failed",
			slog.String("user", user),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list withdrawals")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"withdrawals": newWithdrawalViews(ws),
		"count":       len(ws),
	})
}
