package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/events"
	"github.com/alanyoungcy/urbanium/internal/identity"
	"github.com/alanyoungcy/urbanium/internal/store/memory"
	"github.com/alanyoungcy/urbanium/internal/vault"
)

var (
	asset     = domain.MustParseID("0x00000000000000000000000000000000000000000000000000000000000000aa")
	feedID    = domain.MustParseID("0x0000000000000000000000000000000000000000000000000000000000000f01")
	publisher = domain.MustParseID("0x3333333333333333333333333333333333333333")
	alice     = domain.MustParseID("0x1111111111111111111111111111111111111111")
	bob       = domain.MustParseID("0x2222222222222222222222222222222222222222")
	keeper    = domain.MustParseID("0x4444444444444444444444444444444444444444")
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   *VaultService
	store *memory.Store
	feeds *memory.FeedStore
	locks *memory.LockManager
	bus   *memory.SignalBus
	audit *memory.AuditStore
	clock *testClock
	vault domain.Vault
}

func oracleConfig() domain.OracleConfig {
	return domain.OracleConfig{
		Authority:           publisher,
		Feed:                feedID,
		MaxStalenessSeconds: 60,
		MaxConfidenceBps:    100,
	}
}

func (f *fixture) setPrice(t *testing.T, price int64, conf uint64, expo int32) {
	t.Helper()
	f.setFeed(t, publisher, domain.Observation{Price: price, Conf: conf, Expo: expo, PublishTime: f.clock.Now().Unix()})
}

func (f *fixture) setFeed(t *testing.T, owner domain.ID, obs domain.Observation) {
	t.Helper()
	require.NoError(t, f.feeds.Store(context.Background(), domain.FeedAccount{
		ID:    feedID,
		Owner: owner,
		Data:  vault.EncodeObservation(obs),
	}))
}

func (f *fixture) balance(t *testing.T, id domain.ID) uint64 {
	t.Helper()
	a, err := f.store.Ledger().Account(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func (f *fixture) wallet(holder domain.ID) domain.ID {
	return identity.WalletAddress(holder, asset)
}

// newFixture builds a service over in-memory adapters with the asset
// registered and the feed at price 150 (expo -2). It does not create the
// vault.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{t: time.Unix(1_750_000_000, 0).UTC()}
	f := &fixture{
		store: memory.New(clock),
		feeds: memory.NewFeedStore(),
		locks: memory.NewLockManager(clock),
		bus:   memory.NewSignalBus(),
		audit: memory.NewAuditStore(clock),
		clock: clock,
	}
	f.svc = NewVaultService(VaultDeps{
		Store:  f.store,
		Feeds:  f.feeds,
		Locks:  f.locks,
		Bus:    f.bus,
		Events: memory.NewEventLog(0),
		Audit:  f.audit,
		Clock:  clock,
	}, VaultConfig{LockTTL: time.Minute}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, f.svc.RegisterAsset(context.Background(), domain.Asset{ID: asset, Decimals: 6}))
	f.setPrice(t, 150, 1, -2)
	return f
}

// newVaultFixture also creates the vault (threshold 100) and funds alice
// and bob with 1000 each.
func newVaultFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := newFixture(t)
	v, err := f.svc.InitializeVault(ctx, InitializeVaultParams{
		Asset:               asset,
		Oracle:              oracleConfig(),
		RouteThresholdPrice: 100,
	})
	require.NoError(t, err)
	f.vault = v
	for _, h := range []domain.ID{alice, bob} {
		_, err := f.svc.FundHolder(ctx, h, asset, 1000)
		require.NoError(t, err)
	}
	return f
}

func TestInitializeVault(t *testing.T) {
	f := newVaultFixture(t)
	v := f.vault

	wantID, _ := identity.VaultAddress(asset)
	assert.Equal(t, wantID, v.ID)
	assert.Equal(t, int32(-2), v.OracleExpo)
	assert.Equal(t, domain.VaultVersion, v.Version)
	assert.Zero(t, v.TotalShares)
	for i, r := range v.Reserves {
		assert.Equal(t, identity.ReserveAddress(v.ID, domain.ReserveKind(i)), r)
	}

	_, err := f.svc.InitializeVault(context.Background(), InitializeVaultParams{Asset: asset, Oracle: oracleConfig()})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestInitializeVaultRejections(t *testing.T) {
	ctx := context.Background()
	other := domain.MustParseID("0x00000000000000000000000000000000000000000000000000000000000000bb")

	t.Run("unknown asset", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.InitializeVault(ctx, InitializeVaultParams{Asset: other, Oracle: oracleConfig()})
		assert.ErrorIs(t, err, domain.ErrInvalidMint)
	})
	t.Run("stale oracle", func(t *testing.T) {
		f := newFixture(t)
		f.clock.Advance(2 * time.Minute)
		_, err := f.svc.InitializeVault(ctx, InitializeVaultParams{Asset: asset, Oracle: oracleConfig()})
		assert.ErrorIs(t, err, domain.ErrOracleStale)
	})
	t.Run("wide confidence", func(t *testing.T) {
		f := newFixture(t)
		f.setPrice(t, 150, 2, -2)
		_, err := f.svc.InitializeVault(ctx, InitializeVaultParams{Asset: asset, Oracle: oracleConfig()})
		assert.ErrorIs(t, err, domain.ErrOracleConfidenceTooHigh)
	})
	t.Run("foreign owner", func(t *testing.T) {
		f := newFixture(t)
		f.setFeed(t, alice, domain.Observation{Price: 150, Expo: -2, PublishTime: f.clock.Now().Unix()})
		_, err := f.svc.InitializeVault(ctx, InitializeVaultParams{Asset: asset, Oracle: oracleConfig()})
		assert.ErrorIs(t, err, domain.ErrInvalidOracleOwner)
	})
	t.Run("primary reserve not owned by vault", func(t *testing.T) {
		f := newFixture(t)
		acct, err := f.svc.FundHolder(ctx, alice, asset, 0)
		require.NoError(t, err)
		_, err = f.svc.InitializeVault(ctx, InitializeVaultParams{
			Asset:    asset,
			Reserves: [domain.ReserveCount]domain.ID{acct.ID},
			Oracle:   oracleConfig(),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidReserveAccount)
	})
	t.Run("yield reserve duplicates primary", func(t *testing.T) {
		f := newFixture(t)
		vaultID, _ := identity.VaultAddress(asset)
		primary := identity.ReserveAddress(vaultID, domain.ReservePrimary)
		_, err := f.svc.InitializeVault(ctx, InitializeVaultParams{
			Asset:    asset,
			Reserves: [domain.ReserveCount]domain.ID{domain.ZeroID, primary},
			Oracle:   oracleConfig(),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidYieldReserveAccount)

		_, err = f.store.Ledger().Account(ctx, primary)
		assert.ErrorIs(t, err, domain.ErrNotFound, "derived reserve opened by the failed call is rolled back")
	})
}

func TestDepositBootstrapAndProportionality(t *testing.T) {
	ctx := context.Background()
	f := newVaultFixture(t)

	minted, err := f.svc.Deposit(ctx, f.vault.ID, alice, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), minted, "first deposit mints 1:1")
	assert.Equal(t, uint64(900), f.balance(t, f.wallet(alice)))
	assert.Equal(t, uint64(100), f.balance(t, f.vault.Reserve(domain.ReservePrimary)))

	// Yield doubles the pool.
	_, err = f.svc.FundReserve(ctx, f.vault.ID, domain.ReserveYieldA, 100)
	require.NoError(t, err)

	first, err := f.svc.Deposit(ctx, f.vault.ID, bob, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), first)

	pos, err := f.svc.GetPosition(ctx, f.vault.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), pos.Shares)
	assert.Equal(t, uint64(200), pos.Redeemable)

	view, err := f.svc.GetVault(ctx, f.vault.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), view.TotalShares)
	assert.Equal(t, "300", view.TotalAssets)
}

func TestDepositRejections(t *testing.T) {
	ctx := context.Background()
	f := newVaultFixture(t)

	_, err := f.svc.Deposit(ctx, f.vault.ID, alice, 0)
	assert.ErrorIs(t, err, domain.ErrZeroAmount)

	_, err = f.svc.Deposit(ctx, alice, alice, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidVault)

	_, err = f.svc.Deposit(ctx, f.vault.ID, alice, 1001)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	_, err = f.svc.GetPosition(ctx, f.vault.ID, alice)
	assert.ErrorIs(t, err, domain.ErrNotFound, "failed deposit leaves no position behind")

	stranger := domain.MustParseID("0x5555555555555555555555555555555555555555")
	_, err = f.svc.Deposit(ctx, f.vault.ID, stranger, 10)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestDepositZeroMintRejected(t *testing.T) {
	ctx := context.Background()
	f := newVaultFixture(t)
	_, err := f.svc.Deposit(ctx, f.vault.ID, alice, 10)
	require.NoError(t, err)
	_, err = f.svc.FundReserve(ctx, f.vault.ID, domain.ReserveYieldB, 100)
	require.NoError(t, err)

	// 10 shares over 110 assets: 5 * 10 / 110 rounds to zero.
	_, err = f.svc.Deposit(ctx, f.vault.ID, bob, 5)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	assert.Equal(t, uint64(1000), f.balance(t, f.wallet(bob)))
}

func TestWithdrawDrainsInFixedOrder(t *testing.T) {
	ctx := context.Background()
	f := newVaultFixture(t)

	_, err := f.svc.Deposit(ctx, f.vault.ID, alice, 10)
	require.NoError(t, err)
	_, err = f.svc.FundReserve(ctx, f.vault.ID, domain.ReserveYieldB, 5)
	require.NoError(t, err)

	// 8 of 10 shares over 15 assets redeem 12: 10 from primary, 0 from the
	// empty yield A, 2 from yield B.
	amount, err := f.svc.Withdraw(ctx, f.vault.ID, alice, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), amount)
	assert.Equal(t, uint64(0), f.balance(t, f.vault.Reserve(domain.ReservePrimary)))
	assert.Equal(t, uint64(0), f.balance(t, f.vault.Reserve(domain.ReserveYieldA)))
	assert.Equal(t, uint64(3), f.balance(t, f.vault.Reserve(domain.ReserveYieldB)))
	assert.Equal(t, uint64(1002), f.balance(t, f.wallet(alice)))

	pos, err := f.svc.GetPosition(ctx, f.vault.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pos.Shares)

	amount, err = f.svc.Withdraw(ctx, f.vault.ID, alice, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), amount)

	pos, err = f.svc.GetPosition(ctx, f.vault.ID, alice)
	require.NoError(t, err)
	assert.Zero(t, pos.Shares, "drained positions are kept")
	view, err := f.svc.GetVault(ctx, f.vault.ID)
	require.NoError(t, err)
	assert.Zero(t, view.TotalShares)
}

func TestWithdrawRejections(t *testing.T) {
	ctx := context.Background()
	f := newVaultFixture(t)
	_, err := f.svc.Deposit(ctx, f.vault.ID, alice, 50)
	require.NoError(t, err)

	before, err := f.svc.GetVault(ctx, f.vault.ID)
	require.NoError(t, err)

	_, err = f.svc.Withdraw(ctx, f.vault.ID, alice, 0)
	assert.ErrorIs(t, err, domain.ErrZeroShares)

	_, err = f.svc.Withdraw(ctx, f.vault.ID, alice, 51)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	_, err = f.svc.Withdraw(ctx, f.vault.ID, bob, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidPosition)

	after, err := f.svc.GetVault(ctx, f.vault.ID)
	require.NoError(t, err)
	assert.Equal(t, before.TotalShares, after.TotalShares)
	assert.Equal(t, before.Balances, after.Balances)
	assert.Equal(t, uint64(950), f.balance(t, f.wallet(alice)))
}

func TestRouteYield(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		price   int64
		want    domain.ReserveKind
		wantErr error
	}{
		{name: "above threshold", price: 150, want: domain.ReserveYieldA},
		{name: "at threshold", price: 100, want: domain.ReserveYieldA},
		{name: "below threshold", price: 99, want: domain.ReserveYieldB},
		{name: "zero price", price: 0, wantErr: domain.ErrOraclePriceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newVaultFixture(t)
			_, err := f.svc.Deposit(ctx, f.vault.ID, alice, 500)
			require.NoError(t, err)
			f.setPrice(t, tc.price, 0, -2)

			res, err := f.svc.RouteYield(ctx, f.vault.ID, keeper, 200)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Destination)
			assert.Equal(t, uint64(300), f.balance(t, f.vault.Reserve(domain.ReservePrimary)))
			assert.Equal(t, uint64(200), f.balance(t, f.vault.Reserve(tc.want)))

			view, err := f.svc.GetVault(ctx, f.vault.ID)
			require.NoError(t, err)
			assert.Equal(t, uint64(500), view.TotalShares, "routing never touches shares")
		})
	}
}

func TestRouteYieldRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("zero amount", func(t *testing.T) {
		f := newVaultFixture(t)
		_, err := f.svc.RouteYield(ctx, f.vault.ID, keeper, 0)
		assert.ErrorIs(t, err, domain.ErrZeroAmount)
	})
	t.Run("no executor", func(t *testing.T) {
		f := newVaultFixture(t)
		_, err := f.svc.RouteYield(ctx, f.vault.ID, domain.ZeroID, 1)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
	t.Run("exponent changed", func(t *testing.T) {
		f := newVaultFixture(t)
		_, err := f.svc.Deposit(ctx, f.vault.ID, alice, 10)
		require.NoError(t, err)
		f.setPrice(t, 1500, 0, -3)
		_, err = f.svc.RouteYield(ctx, f.vault.ID, keeper, 5)
		assert.ErrorIs(t, err, domain.ErrOracleExponentMismatch)
	})
	t.Run("stale before liquidity", func(t *testing.T) {
		f := newVaultFixture(t)
		f.clock.Advance(time.Hour)
		_, err := f.svc.RouteYield(ctx, f.vault.ID, keeper, 5)
		assert.ErrorIs(t, err, domain.ErrOracleStale)
	})
	t.Run("more than primary", func(t *testing.T) {
		f := newVaultFixture(t)
		_, err := f.svc.Deposit(ctx, f.vault.ID, alice, 10)
		require.NoError(t, err)
		_, err = f.svc.RouteYield(ctx, f.vault.ID, keeper, 11)
		assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
		assert.Equal(t, uint64(10), f.balance(t, f.vault.Reserve(domain.ReservePrimary)))
	})
}

func TestOperationsRespectVaultLock(t *testing.T) {
	ctx := context.Background()
	f := newVaultFixture(t)
	unlock, err := f.locks.Acquire(ctx, lockKey(f.vault.ID), time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = f.svc.Deposit(ctx, f.vault.ID, alice, 10)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newVaultFixture(t)

	ch, err := f.bus.Subscribe(ctx, domain.VaultEventChannelPrefix+"*")
	require.NoError(t, err)

	_, err = f.svc.Deposit(ctx, f.vault.ID, alice, 0)
	require.Error(t, err)
	_, err = f.svc.Deposit(ctx, f.vault.ID, alice, 40)
	require.NoError(t, err)

	select {
	case frame := <-ch:
		ev, err := events.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, domain.EventDeposited, ev.Type)
		assert.Equal(t, uint64(40), ev.Amount)
		assert.Equal(t, alice, ev.Actor)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	history, err := f.svc.Events(ctx, f.vault.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.EventVaultInitialized, history[0].Event.Type)
	assert.Equal(t, domain.EventDeposited, history[1].Event.Type)

	entries, err := f.audit.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "vault.deposited", entries[0].Event)
}

func TestSharesNeverExceedTotal(t *testing.T) {
	ctx := context.Background()
	f := newVaultFixture(t)

	steps := []struct {
		holder  domain.ID
		deposit uint64
		burn    uint64
		yield   uint64
	}{
		{holder: alice, deposit: 333},
		{holder: bob, deposit: 17},
		{yield: 101},
		{holder: alice, burn: 100},
		{holder: bob, deposit: 250},
		{yield: 7},
		{holder: bob, burn: 13},
		{holder: alice, deposit: 10},
	}
	for i, st := range steps {
		switch {
		case st.yield > 0:
			_, err := f.svc.FundReserve(ctx, f.vault.ID, domain.ReserveYieldA, st.yield)
			require.NoError(t, err, "step %d", i)
		case st.deposit > 0:
			_, err := f.svc.Deposit(ctx, f.vault.ID, st.holder, st.deposit)
			require.NoError(t, err, "step %d", i)
		case st.burn > 0:
			_, err := f.svc.Withdraw(ctx, f.vault.ID, st.holder, st.burn)
			require.NoError(t, err, "step %d", i)
		}

		positions, err := f.svc.ListPositions(ctx, f.vault.ID, domain.ListOpts{})
		require.NoError(t, err)
		var sum uint64
		for _, p := range positions {
			sum += p.Shares
		}
		view, err := f.svc.GetVault(ctx, f.vault.ID)
		require.NoError(t, err)
		assert.Equal(t, view.TotalShares, sum, "step %d", i)
	}
}
