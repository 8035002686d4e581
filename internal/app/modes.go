package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/otcindex/internal/domain"
	"github.com/alanyoungcy/otcindex/internal/indexer"
	"github.com/alanyoungcy/otcindex/internal/server"
	"github.com/alanyoungcy/otcindex/internal/server/handler"
	"github.com/alanyoungcy/otcindex/internal/server/ws"
)

// writerLockTTL is the distributed lock TTL. The lock manager refreshes it
// while the process is alive, so this only bounds how long a crashed writer
// blocks its successor.
const writerLockTTL = time.Minute

// IndexMode runs the full indexer: historical backfill, the live listener,
// the reconciler, the cold-storage archiver, and the read API.
func (a *App) IndexMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting index mode")

	release, err := a.acquireWriterLock(ctx, deps)
	if err != nil {
		return err
	}
	defer release()

	g, ctx := errgroup.WithContext(ctx)

	projector := a.newProjector(deps)
	hooks := indexer.NewMultiHook(a.logger, indexer.NewBusHook(deps.SignalBus))

	// The listener subscribes before the backfill resolves the chain head, so
	// events landing during the catch-up window reach one of the two paths.
	// The idempotent projector makes the overlap harmless, and only the
	// backfill moves the checkpoint, so a restart mid-catch-up still resumes
	// at the last completed batch.
	listener := a.newListener(deps, projector, hooks)
	g.Go(func() error {
		err := listener.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		listener.Stop()
		return nil
	})

	backfill := a.newBackfill(deps, projector)
	g.Go(func() error {
		err := backfill.RunLoop(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if interval := a.cfg.Indexer.ReconcileInterval.Duration; interval > 0 {
		rec := indexer.NewReconciler(deps.Orders, deps.Ledger, deps.Notifier,
			a.cfg.Indexer.ReconcileSample, a.logger)
		g.Go(func() error {
			err := rec.RunLoop(ctx, interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, listener)
	}

	return g.Wait()
}

// ListenMode runs only the live event path, assuming history is already
// synced or handled elsewhere.
func (a *App) ListenMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting listen mode")

	release, err := a.acquireWriterLock(ctx, deps)
	if err != nil {
		return err
	}
	defer release()

	g, ctx := errgroup.WithContext(ctx)

	projector := a.newProjector(deps)
	hooks := indexer.NewMultiHook(a.logger, indexer.NewBusHook(deps.SignalBus))
	listener := a.newListener(deps, projector, hooks)

	g.Go(func() error {
		err := listener.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		listener.Stop()
		return nil
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, listener)
	}

	return g.Wait()
}

// BackfillMode runs one historical sync to the current chain head and exits.
func (a *App) BackfillMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backfill mode")

	release, err := a.acquireWriterLock(ctx, deps)
	if err != nil {
		return err
	}
	defer release()

	backfill := a.newBackfill(deps, a.newProjector(deps))
	if err := backfill.Run(ctx); err != nil {
		return fmt.Errorf("app: backfill: %w", err)
	}
	a.logger.InfoContext(ctx, "backfill complete")
	return nil
}

// MonitorMode serves the read API over an existing read model. No chain
// access and no writes.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// acquireWriterLock enforces the single-writer rule per checkpoint source.
// A second writer fails fast instead of racing the first.
func (a *App) acquireWriterLock(ctx context.Context, deps *Dependencies) (func(), error) {
	key := "indexer:" + a.cfg.Ledger.Source
	release, err := deps.LockManager.Acquire(ctx, key, writerLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("app: another indexer instance is already writing source %q: %w",
				a.cfg.Ledger.Source, err)
		}
		return nil, fmt.Errorf("app: acquire writer lock: %w", err)
	}
	a.logger.InfoContext(ctx, "writer lock acquired", slog.String("key", key))
	return release, nil
}

func (a *App) newProjector(deps *Dependencies) *indexer.Projector {
	return indexer.NewProjector(deps.Orders, deps.Withdrawals, deps.Ledger, a.logger)
}

func (a *App) newListener(deps *Dependencies, projector *indexer.Projector, hooks indexer.PostCommitHook) *indexer.Listener {
	return indexer.NewListener(indexer.ListenerParams{
		Client:               deps.Ledger,
		Projector:            projector,
		Source:               a.cfg.Ledger.Source,
		Hooks:                hooks,
		Notifier:             deps.Notifier,
		MaxReconnectAttempts: a.cfg.Indexer.MaxReconnectAttempts,
		ReconnectDelay:       a.cfg.Indexer.ReconnectDelay.Duration,
		Logger:               a.logger,
	})
}

func (a *App) newBackfill(deps *Dependencies, projector *indexer.Projector) *indexer.Backfill {
	return indexer.NewBackfill(indexer.BackfillParams{
		Client:       deps.Ledger,
		Projector:    projector,
		Checkpoints:  deps.Checkpoints,
		Source:       a.cfg.Ledger.Source,
		Genesis:      a.cfg.Indexer.GenesisHeight,
		BatchSize:    a.cfg.Indexer.BatchSize,
		RPCTimeout:   a.cfg.Indexer.RPCTimeout.Duration,
		PollInterval: a.cfg.Indexer.PollInterval.Duration,
		Logger:       a.logger,
	})
}

// runArchiveLoop periodically exports aged fills and withdrawals to cold
// storage and deletes them from the read model once the upload is verified.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Indexer.ArchiveInterval.Duration
	retention := time.Duration(a.cfg.Indexer.ArchiveRetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)

			if n, err := deps.Archiver.ArchiveFills(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "fill archive failed", slog.String("error", err.Error()))
			} else if n > 0 {
				deleted, err := deps.Fills.DeleteBefore(ctx, cutoff)
				if err != nil {
					a.logger.ErrorContext(ctx, "archived fill prune failed", slog.String("error", err.Error()))
				}
				a.logger.InfoContext(ctx, "fills archived",
					slog.Int64("archived", n),
					slog.Int64("deleted", deleted),
					slog.Time("cutoff", cutoff))
			}

			if n, err := deps.Archiver.ArchiveWithdrawals(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "withdrawal archive failed", slog.String("error", err.Error()))
			} else if n > 0 {
				deleted, err := deps.Withdrawals.DeleteBefore(ctx, cutoff)
				if err != nil {
					a.logger.ErrorContext(ctx, "archived withdrawal prune failed", slog.String("error", err.Error()))
				}
				a.logger.InfoContext(ctx, "withdrawals archived",
					slog.Int64("archived", n),
					slog.Int64("deleted", deleted),
					slog.Time("cutoff", cutoff))
			}
		}
	}
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. listener may be nil when the mode runs no live listener.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, listener *indexer.Listener) {
	hub := ws.NewHub(deps.SignalBus, a.cfg.Ledger.Source, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	var statusListener handler.ListenerStatusProvider
	if listener != nil {
		statusListener = listener
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": deps.PG,
			"redis":    deps.Redis,
		}, a.logger),
		Status: handler.NewStatusHandler(handler.StatusParams{
			Mode:        a.cfg.Mode,
			Source:      a.cfg.Ledger.Source,
			Listener:    statusListener,
			Checkpoints: deps.Checkpoints,
			Orders:      deps.Orders,
			Fills:       deps.Fills,
			Withdrawals: deps.Withdrawals,
			Logger:      a.logger,
		}),
		Orders:      handler.NewOrderHandler(deps.Orders, deps.Fills, a.logger),
		Withdrawals: handler.NewWithdrawalHandler(deps.Withdrawals, a.logger),
		Events:      handler.NewEventHandler(deps.SignalBus, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
