// Package keeper routes idle primary-reserve funds on a schedule.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/metrics"
	"github.com/alanyoungcy/urbanium/internal/service"
	"github.com/alanyoungcy/urbanium/internal/vault"
)

// VaultRouter is the part of the vault service the keeper drives.
type VaultRouter interface {
	GetVault(ctx context.Context, vaultID domain.ID) (service.VaultView, error)
	RouteYield(ctx context.Context, vaultID, executor domain.ID, amount uint64) (service.RouteResult, error)
}

// Target is one vault the keeper routes for. A non-zero Amount is routed
// as is; otherwise Bps of the primary reserve balance is routed.
type Target struct {
	Vault  domain.ID
	Amount uint64
	Bps    uint16
}

// Keeper periodically calls RouteYield for each target as the executor.
type Keeper struct {
	router   VaultRouter
	executor domain.ID
	targets  []Target
	interval time.Duration
	metrics  *metrics.VaultMetrics
	logger   *slog.Logger
}

// New creates a Keeper.
func New(router VaultRouter, executor domain.ID, targets []Target, interval time.Duration, m *metrics.VaultMetrics, logger *slog.Logger) *Keeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Keeper{
		router:   router,
		executor: executor,
		targets:  targets,
		interval: interval,
		metrics:  m,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run ticks until ctx is cancelled. Rejected routes are logged and retried
// on the next tick.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.Info("keeper started",
		slog.String("executor", k.executor.Hex()),
		slog.Int("targets", len(k.targets)),
		slog.Duration("interval", k.interval),
	)
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			k.logger.Info("keeper stopped")
			return nil
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick runs one routing pass over every target.
func (k *Keeper) Tick(ctx context.Context) {
	for _, t := range k.targets {
		if ctx.Err() != nil {
			return
		}
		result := k.route(ctx, t)
		k.metrics.ObserveKeeperRoute(t.Vault, result)
	}
}

func (k *Keeper) route(ctx context.Context, t Target) string {
	log := k.logger.With(slog.String("vault", t.Vault.Hex()))

	amount := t.Amount
	if amount == 0 {
		view, err := k.router.GetVault(ctx, t.Vault)
		if err != nil {
			log.WarnContext(ctx, "keeper load vault failed", slog.String("error", err.Error()))
			return "error"
		}
		amount = bpsOf(view.Balances[domain.ReservePrimary], t.Bps)
	}
	if amount == 0 {
		log.DebugContext(ctx, "keeper nothing to route")
		return "skipped"
	}

	res, err := k.router.RouteYield(ctx, t.Vault, k.executor, amount)
	if err != nil {
		if ve, ok := domain.AsVaultError(err); ok {
			log.WarnContext(ctx, "keeper route rejected",
				slog.Uint64("amount", amount),
				slog.String("reason", ve.Name),
			)
			return "rejected"
		}
		if errors.Is(err, domain.ErrLockHeld) {
			log.DebugContext(ctx, "keeper vault busy")
			return "busy"
		}
		log.ErrorContext(ctx, "keeper route failed", slog.String("error", err.Error()))
		return "error"
	}

	log.InfoContext(ctx, "keeper routed",
		slog.Uint64("amount", amount),
		slog.String("reserve", res.Reserve),
		slog.Int64("price", res.Price),
	)
	return "routed_" + res.Reserve
}

// bpsOf returns floor(balance * bps / 10000).
func bpsOf(balance uint64, bps uint16) uint64 {
	if bps == 0 || balance == 0 {
		return 0
	}
	v := new(uint256.Int).Mul(uint256.NewInt(balance), uint256.NewInt(uint64(bps)))
	v.Div(v, uint256.NewInt(vault.BpsDenominator))
	return v.Uint64()
}
