package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a new CheckpointStore backed by the given pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

const checkpointSelectCols = `source, last_processed_height, status,
	last_synced_at, last_error`

func scanCheckpoint(row pgx.Row) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	err := row.Scan(&cp.Source, &cp.LastProcessedHeight, &cp.Status,
		&cp.LastSyncedAt, &cp.LastError)
	return cp, err
}

// GetOrCreate returns the checkpoint for source, creating it at the genesis
// height on first run. Creation races resolve to the existing row.
func (s *CheckpointStore) GetOrCreate(ctx context.Context, source string, genesis uint64) (domain.Checkpoint, error) {
	const insert = `
		INSERT INTO checkpoints (source, last_processed_height, status)
		VALUES ($1, $2, 'syncing')
		ON CONFLICT (source) DO NOTHING`

	if _, err := s.pool.Exec(ctx, insert, source, genesis); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("postgres: create checkpoint %s: %w", source, err)
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+checkpointSelectCols+` FROM checkpoints WHERE source = $1`, source)
	cp, err := scanCheckpoint(row)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("postgres: get checkpoint %s: %w", source, err)
	}
	return cp, nil
}

// Advance moves the cursor forward. The guard in the WHERE clause makes the
// cursor monotone even with concurrent writers: a stale height is a no-op.
func (s *CheckpointStore) Advance(ctx context.Context, source string, height uint64) error {
	const query = `
		UPDATE checkpoints SET
			last_processed_height = $2,
			last_synced_at = NOW()
		WHERE source = $1 AND last_processed_height < $2`

	if _, err := s.pool.Exec(ctx, query, source, height); err != nil {
		return fmt.Errorf("postgres: advance checkpoint %s to %d: %w", source, height, err)
	}
	return nil
}

// MarkStatus records the sync status; lastErr is stored for failures and
// cleared otherwise.
func (s *CheckpointStore) MarkStatus(ctx context.Context, source string, status domain.CheckpointStatus, lastErr error) error {
	msg := ""
	if lastErr != nil {
		msg = lastErr.Error()
	}

	const query = `
		UPDATE checkpoints SET status = $2, last_error = $3, last_synced_at = NOW()
		WHERE source = $1`

	tag, err := s.pool.Exec(ctx, query, source, status, msg)
	if err != nil {
		return fmt.Errorf("postgres: mark checkpoint %s %s: %w", source, status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: checkpoint %s: %w", source, domain.ErrNotFound)
	}
	return nil
}

// List returns every checkpoint, for the status endpoint.
func (s *CheckpointStore) List(ctx context.Context) ([]domain.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+checkpointSelectCols+` FROM checkpoints ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []domain.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan checkpoint: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}
