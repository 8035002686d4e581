package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL. Fills are written
// only through OrderStore.ApplyFill; this store is the read side.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillSelectCols = `order_id, fill_sequence, filler_addr, amount::text,
	counterparty_amount::text, tx_hash, block_height, timestamp`

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var (
			f                    domain.Fill
			amount, counterparty string
		)
		if err := rows.Scan(
			&f.OrderID, &f.FillSequence, &f.Filler, &amount,
			&counterparty, &f.TxHash, &f.BlockHeight, &f.Timestamp,
		); err != nil {
			return nil, err
		}
		var ok bool
		if f.Amount, ok = new(big.Int).SetString(amount, 10); !ok {
			return nil, fmt.Errorf("postgres: malformed numeric %q", amount)
		}
		if f.CounterpartyAmount, ok = new(big.Int).SetString(counterparty, 10); !ok {
			return nil, fmt.Errorf("postgres: malformed numeric %q", counterparty)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ListByOrder returns the order's fills in fill-sequence order.
func (s *FillStore) ListByOrder(ctx context.Context, orderID string) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillSelectCols+` FROM fills WHERE order_id = $1 ORDER BY fill_sequence ASC`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for order %s: %w", orderID, err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills for order %s: %w", orderID, err)
	}
	return fills, nil
}

// ListBefore returns all fills strictly older than the given time, oldest
// first, for archiving.
func (s *FillStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillSelectCols+` FROM fills WHERE timestamp < $1 ORDER BY timestamp ASC`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before: %w", err)
	}
	defer rows.Close()
	return scanFillRows(rows)
}

// DeleteBefore deletes fills older than the given time and returns the count.
func (s *FillStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fills WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete fills before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of projected fills.
func (s *FillStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM fills`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count fills: %w", err)
	}
	return n, nil
}
