package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Amounts travel as text so uint256 values survive the round trip exactly.
const orderSelectCols = `id, owner_addr, side, total_amount::text, filled::text,
	remaining::text, unit_price::text, fee_at_creation::text, status,
	created_at, expires_at, source_height, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                                           domain.Order
		total, filled, remaining, unitPrice, feeStr string
	)
	err := row.Scan(
		&o.ID, &o.Owner, &o.Side, &total, &filled,
		&remaining, &unitPrice, &feeStr, &o.Status,
		&o.CreatedAt, &o.ExpiresAt, &o.SourceHeight, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	for _, pair := range []struct {
		dst **big.Int
		src string
	}{
		{&o.TotalAmount, total},
		{&o.Filled, filled},
		{&o.Remaining, remaining},
		{&o.UnitPrice, unitPrice},
		{&o.FeeAtCreation, feeStr},
	} {
		n, ok := new(big.Int).SetString(pair.src, 10)
		if !ok {
			return domain.Order{}, fmt.Errorf("postgres: malformed numeric %q", pair.src)
		}
		*pair.dst = n
	}
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// InsertIfAbsent creates the order unless one with the same ID exists.
// Duplicate Created events collapse onto the existing row untouched.
func (s *OrderStore) InsertIfAbsent(ctx context.Context, o domain.Order) (bool, error) {
	const query = `
		INSERT INTO orders (
			id, owner_addr, side, total_amount, filled, remaining,
			unit_price, fee_at_creation, status,
			created_at, expires_at, source_height, updated_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5::numeric, $6::numeric,
			$7::numeric, $8::numeric, $9,
			$10, $11, $12, NOW()
		) ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		o.ID, o.Owner, o.Side,
		o.TotalAmount.String(), o.Filled.String(), o.Remaining.String(),
		o.UnitPrice.String(), o.FeeAtCreation.String(), o.Status,
		o.CreatedAt, o.ExpiresAt, o.SourceHeight,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert order %s: %w", o.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID returns the order or domain.ErrNotFound.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("postgres: order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ApplyFill records the fill and bumps the order totals in one transaction.
// The fills_identity unique constraint makes redelivery a no-op: when the
// insert conflicts, the totals update is skipped and false is returned.
func (s *OrderStore) ApplyFill(ctx context.Context, f domain.Fill, newStatus domain.OrderStatus) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: begin apply fill: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertFill = `
		INSERT INTO fills (
			order_id, fill_sequence, filler_addr, amount,
			counterparty_amount, tx_hash, block_height, timestamp
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8)
		ON CONFLICT (order_id, fill_sequence) DO NOTHING`

	tag, err := tx.Exec(ctx, insertFill,
		f.OrderID, f.FillSequence, f.Filler, f.Amount.String(),
		f.CounterpartyAmount.String(), f.TxHash, f.BlockHeight, f.Timestamp,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// Foreign key: the referenced order has never been projected.
			return false, fmt.Errorf("postgres: fill for order %s: %w", f.OrderID, domain.ErrNotFound)
		}
		return false, fmt.Errorf("postgres: insert fill (%s, %d): %w", f.OrderID, f.FillSequence, err)
	}
	if tag.RowsAffected() == 0 {
		// Already applied.
		return false, nil
	}

	const updateOrder = `
		UPDATE orders SET
			filled = filled + $2::numeric,
			remaining = total_amount - (filled + $2::numeric),
			status = $3,
			updated_at = NOW()
		WHERE id = $1`

	tag, err = tx.Exec(ctx, updateOrder, f.OrderID, f.Amount.String(), newStatus)
	if err != nil {
		return false, fmt.Errorf("postgres: update order %s totals: %w", f.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, fmt.Errorf("postgres: fill for order %s: %w", f.OrderID, domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit apply fill: %w", err)
	}
	return true, nil
}

// MarkCancelled sets the order status to cancelled unless the order is
// already terminal.
func (s *OrderStore) MarkCancelled(ctx context.Context, id string) error {
	const query = `
		UPDATE orders SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('filled', 'cancelled')`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: cancel order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already terminal; the caller distinguishes.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check order %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("postgres: cancel order %s: %w", id, domain.ErrNotFound)
		}
	}
	return nil
}

// ListRecentlyUpdated returns up to limit orders by most recent update.
func (s *OrderStore) ListRecentlyUpdated(ctx context.Context, limit int) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recently updated orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recently updated orders: %w", err)
	}
	return orders, nil
}

// ListByOwner returns the owner's orders with pagination and optional time
// filtering on creation time.
func (s *OrderStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE owner_addr = $1`
	args := []any{owner}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by owner: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by owner: %w", err)
	}
	return orders, nil
}

// Count returns the total number of projected orders.
func (s *OrderStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count orders: %w", err)
	}
	return n, nil
}
