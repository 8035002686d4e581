package handler

import (
	"time"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

// Amounts are rendered as decimal strings in every response body. The columns
// hold full uint256 values, which do not survive a trip through JSON numbers.

type orderView struct {
	ID            string    `json:"id"`
	Owner         string    `json:"owner"`
	Side          string    `json:"side"`
	TotalAmount   string    `json:"total_amount"`
	Filled        string    `json:"filled"`
	Remaining     string    `json:"remaining"`
	UnitPrice     string    `json:"unit_price"`
	FeeAtCreation string    `json:"fee_at_creation"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	SourceHeight  uint64    `json:"source_height"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newOrderView(o domain.Order) orderView {
	return orderView{
		ID:            o.ID,
		Owner:         o.Owner,
		Side:          string(o.Side),
		TotalAmount:   o.TotalAmount.String(),
		Filled:        o.Filled.String(),
		Remaining:     o.Remaining.String(),
		UnitPrice:     o.UnitPrice.String(),
		FeeAtCreation: o.FeeAtCreation.String(),
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt,
		ExpiresAt:     o.ExpiresAt,
		SourceHeight:  o.SourceHeight,
		UpdatedAt:     o.UpdatedAt,
	}
}

func newOrderViews(orders []domain.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderView(o))
	}
	return out
}

type fillView struct {
	OrderID            string    `json:"order_id"`
	FillSequence       uint64    `json:"fill_sequence"`
	Filler             string    `json:"filler"`
	Amount             string    `json:"amount"`
	CounterpartyAmount string    `json:"counterparty_amount"`
	TxHash             string    `json:"tx_hash"`
	BlockHeight        uint64    `json:"block_height"`
	Timestamp          time.Time `json:"timestamp"`
}

func newFillViews(fills []domain.Fill) []fillView {
	out := make([]fillView, 0, len(fills))
	for _, f := range fills {
		out = append(out, fillView{
			OrderID:            f.OrderID,
			FillSequence:       f.FillSequence,
			Filler:             f.Filler,
			Amount:             f.Amount.String(),
			CounterpartyAmount: f.CounterpartyAmount.String(),
			TxHash:             f.TxHash,
			BlockHeight:        f.BlockHeight,
			Timestamp:          f.Timestamp,
		})
	}
	return out
}

type withdrawalView struct {
	User        string    `json:"user"`
	TxHash      string    `json:"tx_hash"`
	Amount      string    `json:"amount"`
	Kind        string    `json:"kind"`
	BlockHeight uint64    `json:"block_height"`
	Timestamp   time.Time `json:"timestamp"`
}

func newWithdrawalViews(ws []domain.Withdrawal) []withdrawalView {
	out := make([]withdrawalView, 0, len(ws))
	for _, w := range ws {
		out = append(out, withdrawalView{
			User:        w.User,
			TxHash:      w.TxHash,
			Amount:      w.Amount.String(),
			Kind:        string(w.Kind),
			BlockHeight: w.BlockHeight,
			Timestamp:   w.Timestamp,
		})
	}
	return out
}

type checkpointView struct {
	Source              string    `json:"source"`
	LastProcessedHeight uint64    `json:"last_processed_height"`
	Status              string    `json:"status"`
	LastSyncedAt        time.Time `json:"last_synced_at"`
	LastError           string    `json:"last_error,omitempty"`
}

func newCheckpointViews(cps []domain.Checkpoint) []checkpointView {
	out := make([]checkpointView, 0, len(cps))
	for _, cp := range cps {
		out = append(out, checkpointView{
			Source:              cp.Source,
			LastProcessedHeight: cp.LastProcessedHeight,
			Status:              string(cp.Status),
			LastSyncedAt:        cp.LastSyncedAt,
			LastError:           cp.LastError,
		})
	}
	return out
}
