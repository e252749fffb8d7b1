package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/urbanium/internal/config"
	"github.com/alanyoungcy/urbanium/internal/crypto"
	"github.com/alanyoungcy/urbanium/internal/metrics"
	"github.com/alanyoungcy/urbanium/internal/service"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Port = 0
	return &cfg
}

func TestWireMemory(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), testConfig(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Store)
	assert.NotNil(t, deps.Audit)
	assert.NotNil(t, deps.Feeds)
	assert.NotNil(t, deps.Locks)
	assert.NotNil(t, deps.Bus)
	assert.NotNil(t, deps.Events)
	assert.Nil(t, deps.Limiter)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Health)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "api"
	a := New(cfg, slog.New(slog.DiscardHandler))
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, a.Run(ctx))
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "trade"
	a := New(cfg, slog.New(slog.DiscardHandler))
	defer a.Close()
	assert.ErrorContains(t, a.Run(context.Background()), "unsupported mode")
}

func TestBuildKeeper(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Keeper.PrivateKey = key
	cfg.Keeper.Targets = []config.KeeperTarget{{
		Vault: "0x00000000000000000000000000000000000000000000000000000000000000aa",
		Bps:   500,
	}}
	a := New(cfg, slog.New(slog.DiscardHandler))

	deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer cleanup()
	svc := service.NewVaultService(service.VaultDeps{Store: deps.Store, Feeds: deps.Feeds, Locks: deps.Locks}, service.VaultConfig{}, slog.New(slog.DiscardHandler))

	k, err := a.buildKeeper(svc, metrics.Vault())
	require.NoError(t, err)
	assert.NotNil(t, k)

	cfg.Keeper.Targets[0].Vault = "vault-one"
	_, err = a.buildKeeper(svc, metrics.Vault())
	assert.ErrorContains(t, err, "keeper target 0")
}
