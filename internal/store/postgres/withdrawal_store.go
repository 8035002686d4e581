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

// WithdrawalStore implements domain.WithdrawalStore using PostgreSQL.
type WithdrawalStore struct {
	pool *pgxpool.Pool
}

// NewWithdrawalStore creates a new WithdrawalStore backed by the given pool.
func NewWithdrawalStore(pool *pgxpool.Pool) *WithdrawalStore {
	return &WithdrawalStore{pool: pool}
}

const withdrawalSelectCols = `user_addr, tx_hash, amount::text, kind,
	block_height, timestamp`

func scanWithdrawalRows(rows pgx.Rows) ([]domain.Withdrawal, error) {
	var withdrawals []domain.Withdrawal
	for rows.Next() {
		var (
			w      domain.Withdrawal
			amount string
		)
		if err := rows.Scan(
			&w.User, &w.TxHash, &amount, &w.Kind,
			&w.BlockHeight, &w.Timestamp,
		); err != nil {
			return nil, err
		}
		var ok bool
		if w.Amount, ok = new(big.Int).SetString(amount, 10); !ok {
			return nil, fmt.Errorf("postgres: malformed numeric %q", amount)
		}
		withdrawals = append(withdrawals, w)
	}
	return withdrawals, rows.Err()
}

// InsertIfAbsent records the withdrawal unless its (user, txHash) key already
// exists. Redelivered events collapse onto the existing row.
func (s *WithdrawalStore) InsertIfAbsent(ctx context.Context, w domain.Withdrawal) (bool, error) {
	const query = `
		INSERT INTO withdrawals (
			user_addr, tx_hash, amount, kind, block_height, timestamp
		) VALUES ($1, $2, $3::numeric, $4, $5, $6)
		ON CONFLICT (user_addr, tx_hash) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		w.User, w.TxHash, w.Amount.String(), w.Kind, w.BlockHeight, w.Timestamp)
	if err != nil {
		return false, fmt.Errorf("postgres: insert withdrawal (%s, %s): %w", w.User, w.TxHash, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByUser returns the user's withdrawals with pagination and optional time
// filtering.
func (s *WithdrawalStore) ListByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.Withdrawal, error) {
	query := `SELECT ` + withdrawalSelectCols + ` FROM withdrawals WHERE user_addr = $1`
	args := []any{user}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY timestamp DESC"

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
		return nil, fmt.Errorf("postgres: list withdrawals by user: %w", err)
	}
	defer rows.Close()

	withdrawals, err := scanWithdrawalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan withdrawals by user: %w", err)
	}
	return withdrawals, nil
}

// ListBefore returns withdrawals strictly older than the given time, oldest
// first, for archiving.
func (s *WithdrawalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Withdrawal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+withdrawalSelectCols+` FROM withdrawals WHERE timestamp < $1 ORDER BY timestamp ASC`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list withdrawals before: %w", err)
	}
	defer rows.Close()
	return scanWithdrawalRows(rows)
}

// DeleteBefore deletes withdrawals older than the given time.
func (s *WithdrawalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM withdrawals WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete withdrawals before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of recorded withdrawals.
func (s *WithdrawalStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM withdrawals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count withdrawals: %w", err)
	}
	return n, nil
}
