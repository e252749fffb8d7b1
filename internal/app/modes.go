package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/urbanium/internal/crypto"
	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/feed"
	"github.com/alanyoungcy/urbanium/internal/keeper"
	"github.com/alanyoungcy/urbanium/internal/metrics"
	"github.com/alanyoungcy/urbanium/internal/server"
	"github.com/alanyoungcy/urbanium/internal/server/handler"
	"github.com/alanyoungcy/urbanium/internal/server/ws"
	"github.com/alanyoungcy/urbanium/internal/service"
)

// APIMode serves the HTTP API and the event stream.
func (a *App) APIMode(ctx context.Context, deps *Dependencies, svc *service.VaultService) error {
	a.logger.InfoContext(ctx, "starting api mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, svc)
	return g.Wait()
}

// KeeperMode runs the background workers without the HTTP API.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies, svc *service.VaultService) error {
	a.logger.InfoContext(ctx, "starting keeper mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startWorkers(ctx, g, deps, svc); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs the HTTP API and every enabled worker in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svc *service.VaultService) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startWorkers(ctx, g, deps, svc); err != nil {
		return err
	}
	a.startServer(ctx, g, deps, svc)
	return g.Wait()
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.VaultService) {
	hub := ws.NewHub(deps.Bus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.logger),
		Vaults: handler.NewVaultHandler(svc, a.cfg.Server.SignedRoutes, a.logger),
		Admin:  handler.NewAdminHandler(svc, deps.Archiver, a.logger),
	}, hub, deps.Limiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.VaultService) error {
	m := metrics.Vault()

	if a.cfg.Oracle.Enabled {
		feeds, err := a.cfg.FeedIDs()
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		publisher, err := domain.ParseID(a.cfg.Oracle.Publisher)
		if err != nil {
			return fmt.Errorf("app: oracle publisher: %w", err)
		}
		poller := feed.NewPoller(feed.PollerConfig{
			Feeds:     feeds,
			Interval:  a.cfg.Oracle.Interval.Duration,
			Publisher: publisher,
		},
			feed.NewHermesClient(a.cfg.Oracle.HermesURL, a.cfg.Oracle.Timeout.Duration),
			deps.Feeds, deps.Limiter, m, a.logger)
		g.Go(func() error {
			return poller.Run(ctx)
		})
	}

	if a.cfg.Keeper.Enabled {
		k, err := a.buildKeeper(svc, m)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return k.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchive(ctx, deps, m)
		})
	}
	return nil
}

// buildKeeper loads the executor key and resolves the configured targets.
func (a *App) buildKeeper(svc *service.VaultService, m *metrics.VaultMetrics) (*keeper.Keeper, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Keeper.PrivateKey,
		EncryptedKeyPath: a.cfg.Keeper.EncryptedKeyPath,
		KeyPassword:      a.cfg.Keeper.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: keeper key: %w", err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return nil, fmt.Errorf("app: keeper signer: %w", err)
	}

	targets := make([]keeper.Target, 0, len(a.cfg.Keeper.Targets))
	for i, t := range a.cfg.Keeper.Targets {
		id, err := domain.ParseID(t.Vault)
		if err != nil {
			return nil, fmt.Errorf("app: keeper target %d: %w", i, err)
		}
		targets = append(targets, keeper.Target{Vault: id, Amount: t.Amount, Bps: t.Bps})
	}
	return keeper.New(svc, signer.ID(), targets, a.cfg.Keeper.Interval.Duration, m, a.logger), nil
}

// runArchive archives audit history past retention and snapshots every
// vault's positions on each interval. Failures are logged and retried on
// the next run.
func (a *App) runArchive(ctx context.Context, deps *Dependencies, m *metrics.VaultMetrics) error {
	logger := a.logger.With(slog.String("component", "archive"))
	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		n, err := deps.Archiver.ArchiveAudit(ctx, deps.Clock.Now().Add(-retention))
		if err != nil {
			logger.WarnContext(ctx, "audit archive failed", slog.String("error", err.Error()))
		} else {
			m.AddArchived(n)
		}

		if a.cfg.Archive.Snapshot {
			a.snapshotAll(ctx, deps, logger)
		}
	}
}

func (a *App) snapshotAll(ctx context.Context, deps *Dependencies, logger *slog.Logger) {
	const page = 100
	for offset := 0; ; offset += page {
		vaults, err := deps.Store.Vaults().List(ctx, domain.ListOpts{Limit: page, Offset: offset})
		if err != nil {
			logger.WarnContext(ctx, "snapshot: list vaults failed", slog.String("error", err.Error()))
			return
		}
		for _, v := range vaults {
			if _, err := deps.Archiver.SnapshotPositions(ctx, v.ID); err != nil {
				logger.WarnContext(ctx, "snapshot failed",
					slog.String("vault", v.ID.Hex()),
					slog.String("error", err.Error()))
			}
		}
		if len(vaults) < page {
			return
		}
	}
}
