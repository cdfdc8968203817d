package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hypemarket/engine/internal/curve"
	"github.com/hypemarket/engine/internal/domain"
	"github.com/hypemarket/engine/internal/fees"
	"github.com/hypemarket/engine/internal/service"
)

// sweepLockKey guards the monitor sweep across engine instances.
const sweepLockKey = "monitor:sweep"

// Services bundles the engine's operation services, built once per run.
type Services struct {
	Keys      *service.KeysService
	Shares    *service.SharesService
	Liquidity *service.LiquidityService
	Monitor   *service.MonitorService
	Archive   *service.ArchiveService
}

// buildServices constructs the operation services from wired dependencies.
func (a *App) buildServices(deps *Dependencies) (*Services, error) {
	q, err := curve.NewQuadratic(a.cfg.Curve.Amplitude)
	if err != nil {
		return nil, fmt.Errorf("app: curve: %w", err)
	}
	keySchedule := fees.Schedule{
		LPBps:       a.cfg.Fees.Keys.LPBps,
		ProtocolBps: a.cfg.Fees.Keys.ProtocolBps,
		CreatorBps:  a.cfg.Fees.Keys.CreatorBps,
	}
	shareSchedule := fees.Schedule{
		LPBps:       a.cfg.Fees.Shares.LPBps,
		ProtocolBps: a.cfg.Fees.Shares.ProtocolBps,
		CreatorBps:  a.cfg.Fees.Shares.CreatorBps,
	}
	if err := keySchedule.Validate(); err != nil {
		return nil, fmt.Errorf("app: key fee schedule: %w", err)
	}
	if err := shareSchedule.Validate(); err != nil {
		return nil, fmt.Errorf("app: share fee schedule: %w", err)
	}

	svcs := &Services{
		Keys:      service.NewKeysService(deps.Ledger, q, keySchedule, deps.SignalBus, a.logger),
		Shares:    service.NewSharesService(deps.Ledger, deps.MarketStore, shareSchedule, deps.PriceCache, deps.SignalBus, a.logger),
		Liquidity: service.NewLiquidityService(deps.Ledger, a.logger),
		Monitor: service.NewMonitorService(deps.MarketStore, deps.AlertStore, deps.SignalBus, service.MonitorConfig{
			CriticalRatio: a.cfg.Risk.CriticalRatio,
			WarningRatio:  a.cfg.Risk.WarningRatio,
			TargetRatio:   a.cfg.Risk.TargetRatio,
			MaxConcurrent: a.cfg.Risk.MaxConcurrent,
		}, a.logger),
	}
	if deps.BlobWriter != nil {
		svcs.Archive = service.NewArchiveService(deps.KeyTxnLog, deps.BlobWriter, a.logger)
	}
	return svcs, nil
}

// ServeMode runs the full engine: the periodic monitor sweep plus the
// archival loop when enabled, until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runSweepLoop(ctx, deps, svcs)
	})
	if svcs.Archive != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, svcs)
		})
	}
	return ignoreCancel(g.Wait())
}

// MonitorMode runs one full liquidity sweep and exits.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	raised, err := svcs.Monitor.CheckAll(ctx)
	if err != nil {
		return fmt.Errorf("app: monitor sweep: %w", err)
	}
	a.logger.InfoContext(ctx, "monitor sweep finished", slog.Int("alerts_raised", raised))
	return nil
}

// SweepMode runs the periodic liquidity sweep loop until cancelled.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	return ignoreCancel(a.runSweepLoop(ctx, deps, svcs))
}

// ArchiveMode runs one archival pass over key transactions older than the
// retention window and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	if svcs.Archive == nil {
		return errors.New("app: archive mode requires archive.enabled and S3 configuration")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	result, err := svcs.Archive.ArchiveBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive run: %w", err)
	}
	a.logger.InfoContext(ctx, "archive run finished",
		slog.Int64("archived", result.Archived),
		slog.Int64("pruned", result.Pruned),
	)
	return nil
}

// runSweepLoop runs CheckAll on a ticker, holding the distributed sweep lock
// so only one engine instance sweeps at a time. A held lock or a failed sweep
// skips the tick rather than stopping the loop.
func (a *App) runSweepLoop(ctx context.Context, deps *Dependencies, svcs *Services) error {
	ticker := time.NewTicker(a.cfg.Risk.SweepInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		unlock, err := deps.LockManager.Acquire(ctx, sweepLockKey, a.cfg.Risk.LockTTL.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.DebugContext(ctx, "sweep lock held by another instance")
				continue
			}
			a.logger.WarnContext(ctx, "sweep lock acquire failed", slog.String("error", err.Error()))
			continue
		}

		if _, err := svcs.Monitor.CheckAll(ctx); err != nil {
			a.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		}
		unlock()
	}
}

// runArchiveLoop runs one archival pass per day.
func (a *App) runArchiveLoop(ctx context.Context, svcs *Services) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
		if _, err := svcs.Archive.ArchiveBefore(ctx, cutoff); err != nil {
			a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
		}
	}
}

// ignoreCancel maps context cancellation to a clean exit; shutdown via signal
// is not an error.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
