package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/service"
)

var (
	vaultA   = domain.MustParseID("0x00000000000000000000000000000000000000000000000000000000000000a1")
	vaultB   = domain.MustParseID("0x00000000000000000000000000000000000000000000000000000000000000b2")
	executor = domain.MustParseID("0x4444444444444444444444444444444444444444")
)

type routeCall struct {
	vault    domain.ID
	executor domain.ID
	amount   uint64
}

type fakeRouter struct {
	primary map[domain.ID]uint64
	errs    map[domain.ID]error
	calls   []routeCall
}

func (f *fakeRouter) GetVault(_ context.Context, id domain.ID) (service.VaultView, error) {
	bal, ok := f.primary[id]
	if !ok {
		return service.VaultView{}, domain.ErrNotFound
	}
	var v service.VaultView
	v.ID = id
	v.Balances[domain.ReservePrimary] = bal
	return v, nil
}

func (f *fakeRouter) RouteYield(_ context.Context, id, exec domain.ID, amount uint64) (service.RouteResult, error) {
	f.calls = append(f.calls, routeCall{vault: id, executor: exec, amount: amount})
	if err := f.errs[id]; err != nil {
		return service.RouteResult{}, err
	}
	return service.RouteResult{Destination: domain.ReserveYieldA, Reserve: "yield_a", Amount: amount, Price: 150}, nil
}

func TestBpsOf(t *testing.T) {
	assert.Equal(t, uint64(250), bpsOf(1000, 2500))
	assert.Equal(t, uint64(0), bpsOf(1000, 0))
	assert.Equal(t, uint64(0), bpsOf(3, 1))
	assert.Equal(t, uint64(18446744073709551615), bpsOf(18446744073709551615, 10000))
}

func TestTickRoutesEachTarget(t *testing.T) {
	r := &fakeRouter{primary: map[domain.ID]uint64{vaultB: 1000}}
	k := New(r, executor, []Target{
		{Vault: vaultA, Amount: 40},
		{Vault: vaultB, Bps: 1000},
	}, 0, nil, slog.New(slog.DiscardHandler))

	k.Tick(context.Background())

	require.Len(t, r.calls, 2)
	assert.Equal(t, routeCall{vault: vaultA, executor: executor, amount: 40}, r.calls[0])
	assert.Equal(t, routeCall{vault: vaultB, executor: executor, amount: 100}, r.calls[1])
}

func TestRouteOutcomes(t *testing.T) {
	r := &fakeRouter{
		primary: map[domain.ID]uint64{vaultA: 0},
		errs: map[domain.ID]error{
			vaultB: fmt.Errorf("vault_service: route: %w", domain.ErrInsufficientLiquidity),
		},
	}
	k := New(r, executor, nil, 0, nil, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	assert.Equal(t, "skipped", k.route(ctx, Target{Vault: vaultA, Bps: 5000}))
	assert.Equal(t, "rejected", k.route(ctx, Target{Vault: vaultB, Amount: 10}))
	assert.Equal(t, "error", k.route(ctx, Target{Vault: domain.MustParseID("0x5555555555555555555555555555555555555555"), Bps: 1}))
	assert.Equal(t, "routed_yield_a", k.route(ctx, Target{Vault: vaultA, Amount: 7}))

	r.errs[vaultA] = fmt.Errorf("vault_service: lock: %w", domain.ErrLockHeld)
	assert.Equal(t, "busy", k.route(ctx, Target{Vault: vaultA, Amount: 7}))
}

func TestTickStopsOnCancelledContext(t *testing.T) {
	r := &fakeRouter{}
	k := New(r, executor, []Target{{Vault: vaultA, Amount: 1}}, 0, nil, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	k.Tick(ctx)
	assert.Empty(t, r.calls)
}
