package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/otcindex/internal/domain"
	"github.com/alanyoungcy/otcindex/internal/ledger"
)

// Batch query retry bounds. A range that keeps failing after these attempts
// fails the whole sync; the checkpoint stays at the last completed batch.
const (
	batchRetryAttempts = 3
	batchRetryDelay    = 2 * time.Second
)

// Backfill replays historical contract events through the projector in
// strictly sequential batches. The checkpoint advances only after every event
// of a batch has been applied, so a crash resumes at the last completed batch
// boundary and idempotent projection absorbs any re-delivery.
type Backfill struct {
	client      ledger.Client
	projector   *Projector
	checkpoints domain.CheckpointStore
	source      string
	logger      *slog.Logger

	genesis      uint64
	batchSize    uint64
	rpcTimeout   time.Duration
	pollInterval time.Duration
}

// BackfillParams bundles the backfill's collaborators.
type BackfillParams struct {
	Client       ledger.Client
	Projector    *Projector
	Checkpoints  domain.CheckpointStore
	Source       string
	Genesis      uint64
	BatchSize    uint64
	RPCTimeout   time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// NewBackfill creates a Backfill.
func NewBackfill(p BackfillParams) *Backfill {
	return &Backfill{
		client:       p.Client,
		projector:    p.Projector,
		checkpoints:  p.Checkpoints,
		source:       p.Source,
		genesis:      p.Genesis,
		batchSize:    p.BatchSize,
		rpcTimeout:   p.RPCTimeout,
		pollInterval: p.PollInterval,
		logger:       p.Logger.With(slog.String("component", "backfill")),
	}
}

// Run catches the read model up to the chain head and returns. The head is
// re-resolved after each pass because it moves while long backfills run; Run
// returns once a pass ends with no new blocks.
func (b *Backfill) Run(ctx context.Context) error {
	cp, err := b.checkpoints.GetOrCreate(ctx, b.source, b.genesis)
	if err != nil {
		return err
	}
	if err := b.checkpoints.MarkStatus(ctx, b.source, domain.CheckpointStatusSyncing, nil); err != nil {
		return err
	}

	from := cp.LastProcessedHeight + 1
	for {
		target, err := b.height(ctx)
		if err != nil {
			return b.fail(ctx, err)
		}
		if from > target {
			break
		}

		b.logger.Info("backfill pass starting",
			slog.String("source", b.source),
			slog.Uint64("from", from),
			slog.Uint64("to", target))

		from, err = b.processRange(ctx, from, target)
		if err != nil {
			return b.fail(ctx, err)
		}
	}

	if err := b.checkpoints.MarkStatus(ctx, b.source, domain.CheckpointStatusCompleted, nil); err != nil {
		return err
	}
	b.logger.Info("backfill completed",
		slog.String("source", b.source),
		slog.Uint64("height", from-1))
	return nil
}

// RunLoop runs Run, then repeats on every poll tick. Used in backfill-only
// deployments where no listener covers the live path.
func (b *Backfill) RunLoop(ctx context.Context) error {
	if err := b.Run(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.Run(ctx); err != nil {
				return err
			}
		}
	}
}

// processRange walks [from, target] in batches and returns the next height to
// process. A batch is all-or-nothing: the checkpoint moves to the batch upper
// bound only after every event in it has been projected.
func (b *Backfill) processRange(ctx context.Context, from, target uint64) (uint64, error) {
	for from <= target {
		select {
		case <-ctx.Done():
			return from, ctx.Err()
		default:
		}

		to := from + b.batchSize - 1
		if to > target {
			to = target
		}

		started := time.Now()
		events, err := b.queryBatch(ctx, from, to)
		if err != nil {
			backfillBatches.WithLabelValues("failed").Inc()
			return from, err
		}

		for _, ev := range events {
			if _, err := b.projector.Apply(ctx, ev); err != nil {
				backfillBatches.WithLabelValues("failed").Inc()
				return from, fmt.Errorf("indexer: backfill batch [%d, %d]: %w", from, to, err)
			}
		}

		if err := b.checkpoints.Advance(ctx, b.source, to); err != nil {
			backfillBatches.WithLabelValues("failed").Inc()
			return from, err
		}
		checkpointHeight.WithLabelValues(b.source).Set(float64(to))
		backfillBatches.WithLabelValues("completed").Inc()
		batchDuration.Observe(time.Since(started).Seconds())

		b.logger.Debug("batch projected",
			slog.Uint64("from", from),
			slog.Uint64("to", to),
			slog.Int("events", len(events)))

		from = to + 1
	}
	return from, nil
}

// queryBatch fetches one height range, retrying the same range a bounded
// number of times. Every RPC gets its own timeout.
func (b *Backfill) queryBatch(ctx context.Context, from, to uint64) ([]domain.LedgerEvent, error) {
	var lastErr error
	for attempt := 1; attempt <= batchRetryAttempts; attempt++ {
		rpcCtx, cancel := context.WithTimeout(ctx, b.rpcTimeout)
		events, err := b.client.QueryEvents(rpcCtx, nil, from, to)
		cancel()
		if err == nil {
			return events, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.logger.Warn("batch query failed, retrying",
			slog.Uint64("from", from),
			slog.Uint64("to", to),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		if attempt < batchRetryAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(batchRetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("indexer: query batch [%d, %d] after %d attempts: %w", from, to, batchRetryAttempts, lastErr)
}

func (b *Backfill) height(ctx context.Context) (uint64, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, b.rpcTimeout)
	defer cancel()
	return b.client.Height(rpcCtx)
}

// fail records the failure on the checkpoint before surfacing it. Shutdown
// is not a sync failure, so a cancelled context skips the status write.
func (b *Backfill) fail(ctx context.Context, cause error) error {
	if ctx.Err() != nil {
		return cause
	}
	if err := b.checkpoints.MarkStatus(ctx, b.source, domain.CheckpointStatusFailed, cause); err != nil {
		b.logger.Error("mark checkpoint failed", slog.String("error", err.Error()))
	}
	return cause
}
