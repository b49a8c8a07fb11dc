package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/yieldvault/internal/config"
	"github.com/alanyoungcy/yieldvault/internal/crypto"
	"github.com/alanyoungcy/yieldvault/internal/keeper"
	"github.com/alanyoungcy/yieldvault/internal/pipeline"
	"github.com/alanyoungcy/yieldvault/internal/server"
	"github.com/alanyoungcy/yieldvault/internal/server/handler"
	"github.com/alanyoungcy/yieldvault/internal/server/ws"
)

// ServeMode runs the vault in-process with its pools, the keeper, the
// archive schedule and the API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	rt, err := buildVault(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	// The vault lives as long as the mode, even with nothing else enabled.
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	for _, pr := range rt.pools {
		g.Go(func() error {
			return pr.pool.Run(ctx, pr.interval)
		})
	}

	if a.cfg.Keeper.Enabled {
		if k := a.buildKeeper(ctx, rt, deps); k != nil {
			g.Go(func() error {
				return k.Run(ctx)
			})
		}
	}

	a.startArchive(ctx, g, deps)

	if a.cfg.Server.Enabled {
		snaps := handler.LiveSnapshots{Vault: rt.service}
		handlers := server.Handlers{
			Health:     handler.NewHealthHandler(a.cfg.Mode, deps.Probes, a.logger),
			Vault:      handler.NewVaultHandler(snaps, a.logger),
			Strategy:   handler.NewStrategyHandler(rt.service, rt.service, snaps, a.logger),
			History:    handler.NewHistoryHandler(rt.service, a.eventLog(deps), deps.BlobReader, a.logger),
			Operations: handler.NewOperationsHandler(rt.service, a.logger),
			Admin:      handler.NewAdminHandler(rt.service, a.logger),
		}
		a.startServer(ctx, g, handlers, server.Deps{Callers: rt.access, Limiter: deps.RateLimiter}, deps, snaps)
	}

	return g.Wait()
}

// ReadOnlyMode serves the snapshots and history another process persisted.
// No vault runs here, so every mutating route is absent.
func (a *App) ReadOnlyMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting read-only mode")

	addr := vaultAddress(a.cfg)
	snaps := handler.StoredSnapshots{
		Vault:  addr,
		Cache:  deps.SnapshotCache,
		States: deps.StateStore,
		Logger: a.logger,
	}
	history := handler.StoredHistory{
		Vault:        addr,
		ReportStore:  deps.ReportStore,
		AuditEntries: deps.AuditStore,
	}

	g, ctx := errgroup.WithContext(ctx)
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.Mode, deps.Probes, a.logger),
		Vault:    handler.NewVaultHandler(snaps, a.logger),
		Strategy: handler.NewStrategyHandler(nil, nil, snaps, a.logger),
		History:  handler.NewHistoryHandler(history, a.eventLog(deps), deps.BlobReader, a.logger),
	}
	a.startServer(ctx, g, handlers, server.Deps{Limiter: deps.RateLimiter}, deps, snaps)
	return g.Wait()
}

// ArchiveMode only runs the archive schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires postgres and s3")
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startArchive(ctx, g, deps)
	return g.Wait()
}

// buildKeeper loads the keeper key and resolves its roles. A missing key
// disables the keeper with a warning rather than failing the mode.
func (a *App) buildKeeper(ctx context.Context, rt *vaultRuntime, deps *Dependencies) *keeper.Keeper {
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Signer.PrivateKey,
		EncryptedKeyPath: a.cfg.Signer.EncryptedKeyPath,
		KeyPassword:      a.cfg.Signer.KeyPassword,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "keeper disabled", slog.String("error", err.Error()))
		return nil
	}
	caller := rt.access.Caller(signer.Address())
	return keeper.New(rt.vault, rt.service, rt.strategies, deps.LockManager, caller, keeper.Config{
		Interval: a.cfg.Keeper.Interval.Duration,
		LockTTL:  a.cfg.Keeper.LockTTL.Duration,
	}, a.logger)
}

// startArchive schedules archive runs when enabled and possible.
func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil || !(a.cfg.Archive.Enabled || a.cfg.Mode == config.ModeArchive) {
		return
	}
	var pruner pipeline.ReportPruner
	if a.cfg.Archive.PruneReports {
		pruner = deps.ReportStore
	}
	archiver := pipeline.NewArchiver(deps.Archiver, pruner, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})
}

// eventLog serves GET /api/events from the vault's stream on the event bus.
func (a *App) eventLog(deps *Dependencies) handler.BusEvents {
	return handler.BusEvents{Vault: vaultAddress(a.cfg), Bus: deps.EventBus}
}

// startServer runs the HTTP server, and the WebSocket hub when an event bus
// is available, until ctx is done.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, handlers server.Handlers, sdeps server.Deps, deps *Dependencies, snaps ws.SnapshotSource) {
	var hub *ws.Hub
	if deps.EventBus != nil {
		hub = ws.NewHub(deps.EventBus, a.logger, ws.Config{
			Vault:     vaultAddress(a.cfg),
			Mode:      a.cfg.Mode,
			Snapshots: snaps,
			StartedAt: time.Now().UTC(),
			Replay:    a.cfg.Server.WSReplay,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		SignatureMaxAge: a.cfg.Server.SignatureMaxAge.Duration,
	}, handlers, sdeps, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
