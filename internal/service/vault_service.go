package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/events"
	"github.com/alanyoungcy/urbanium/internal/identity"
	"github.com/alanyoungcy/urbanium/internal/metrics"
	"github.com/alanyoungcy/urbanium/internal/vault"
)

// VaultConfig holds the tunables of VaultService.
type VaultConfig struct {
	LockTTL time.Duration
}

// VaultDeps are the collaborators of VaultService. Bus, Events, Audit and
// Metrics are optional.
type VaultDeps struct {
	Store   domain.Store
	Feeds   domain.FeedStore
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Events  domain.EventLog
	Audit   domain.AuditStore
	Clock   domain.Clock
	Metrics *metrics.VaultMetrics
}

// VaultService runs the four vault operations. Each operation holds the
// vault lock, runs inside one store unit of work, and publishes its event
// only after the unit of work commits.
type VaultService struct {
	store   domain.Store
	feeds   domain.FeedStore
	locks   domain.LockManager
	bus     domain.SignalBus
	events  domain.EventLog
	audit   domain.AuditStore
	clock   domain.Clock
	metrics *metrics.VaultMetrics
	cfg     VaultConfig
	logger  *slog.Logger
}

// NewVaultService creates a VaultService.
func NewVaultService(deps VaultDeps, cfg VaultConfig, logger *slog.Logger) *VaultService {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	return &VaultService{
		store:   deps.Store,
		feeds:   deps.Feeds,
		locks:   deps.Locks,
		bus:     deps.Bus,
		events:  deps.Events,
		audit:   deps.Audit,
		clock:   deps.Clock,
		metrics: deps.Metrics,
		cfg:     cfg,
		logger:  logger,
	}
}

// InitializeVaultParams describes a new vault. A zero reserve handle asks
// the service to derive and open that reserve.
type InitializeVaultParams struct {
	Asset               domain.ID                      `json:"asset"`
	Reserves            [domain.ReserveCount]domain.ID `json:"reserves"`
	Oracle              domain.OracleConfig            `json:"oracle"`
	RouteThresholdPrice int64                          `json:"route_threshold_price"`
}

// RouteResult reports where a routing call sent the funds.
type RouteResult struct {
	Destination   domain.ReserveKind `json:"-"`
	DestinationID domain.ID          `json:"destination"`
	Reserve       string             `json:"reserve"`
	Price         int64              `json:"price"`
	Expo          int32              `json:"expo"`
	Amount        uint64             `json:"amount"`
}

// InitializeVault creates the vault for p.Asset. The oracle is read once so
// that its exponent can be recorded; a feed failing its checks aborts the
// creation.
func (s *VaultService) InitializeVault(ctx context.Context, p InitializeVaultParams) (v domain.Vault, err error) {
	const op = "initialize_vault"
	started := time.Now()
	defer func() { s.metrics.ObserveOperation(op, started, err) }()

	vaultID, bump := identity.VaultAddress(p.Asset)
	authority, authBump := identity.VaultAuthorityAddress(vaultID)

	unlock, err := s.locks.Acquire(ctx, lockKey(vaultID), s.cfg.LockTTL)
	if err != nil {
		return domain.Vault{}, fmt.Errorf("vault_service: %s: %w", op, err)
	}
	defer unlock()

	obs, err := s.observe(ctx, p.Oracle)
	if err != nil {
		return domain.Vault{}, fmt.Errorf("vault_service: %s: %w", op, err)
	}
	if err := vault.EnforceConfidence(obs, p.Oracle.MaxConfidenceBps); err != nil {
		return domain.Vault{}, fmt.Errorf("vault_service: %s: %w", op, err)
	}

	err = s.store.Atomic(ctx, func(ctx context.Context, acc domain.Accounts) error {
		if _, err := acc.Ledger().Asset(ctx, p.Asset); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrInvalidMint
			}
			return err
		}
		if _, err := acc.Vaults().Get(ctx, vaultID); err == nil {
			return fmt.Errorf("vault %s: %w", vaultID, domain.ErrAlreadyExists)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		reserves, err := s.resolveReserves(ctx, acc.Ledger(), vaultID, authority, p)
		if err != nil {
			return err
		}
		v = domain.Vault{
			ID:                  vaultID,
			Version:             domain.VaultVersion,
			Bump:                bump,
			AuthorityBump:       authBump,
			Asset:               p.Asset,
			Reserves:            reserves,
			Oracle:              p.Oracle,
			OracleExpo:          obs.Expo,
			RouteThresholdPrice: p.RouteThresholdPrice,
		}
		if err := acc.Vaults().Create(ctx, v); err != nil {
			return err
		}
		v, err = acc.Vaults().Get(ctx, vaultID)
		return err
	})
	if err != nil {
		return domain.Vault{}, fmt.Errorf("vault_service: %s: %w", op, err)
	}

	s.logger.InfoContext(ctx, "vault_service: vault initialized",
		slog.String("vault", vaultID.Hex()),
		slog.String("asset", p.Asset.Hex()),
		slog.Int("oracle_expo", int(obs.Expo)),
	)
	s.committed(ctx, domain.VaultEvent{
		Type:  domain.EventVaultInitialized,
		Vault: vaultID,
		Actor: authority,
		At:    s.clock.Now(),
	})
	return v, nil
}

// resolveReserves opens derived reserves for zero handles and checks
// supplied ones: they must exist, hold the vault asset, be owned by the
// vault authority and be pairwise distinct.
func (s *VaultService) resolveReserves(ctx context.Context, l domain.Ledger, vaultID, authority domain.ID, p InitializeVaultParams) ([domain.ReserveCount]domain.ID, error) {
	var out [domain.ReserveCount]domain.ID
	seen := make(map[domain.ID]bool, domain.ReserveCount)
	for i, handle := range p.Reserves {
		kind := domain.ReserveKind(i)
		invalid := reserveError(kind)
		if handle.IsZero() {
			handle = identity.ReserveAddress(vaultID, kind)
			if _, err := l.Account(ctx, handle); errors.Is(err, domain.ErrNotFound) {
				if err := l.OpenAccount(ctx, domain.Account{ID: handle, Asset: p.Asset, Owner: authority}); err != nil {
					return out, err
				}
			} else if err != nil {
				return out, err
			}
		}
		acct, err := l.Account(ctx, handle)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return out, invalid
			}
			return out, err
		}
		if acct.Asset != p.Asset || acct.Owner != authority || seen[handle] {
			return out, invalid
		}
		seen[handle] = true
		out[i] = handle
	}
	return out, nil
}

// Deposit moves amount from the holder's wallet into the primary reserve
// and mints shares at the pre-deposit rate.
func (s *VaultService) Deposit(ctx context.Context, vaultID, holder domain.ID, amount uint64) (minted uint64, err error) {
	const op = "deposit"
	started := time.Now()
	defer func() { s.metrics.ObserveOperation(op, started, err) }()

	if amount == 0 {
		return 0, fmt.Errorf("vault_service: %s: %w", op, domain.ErrZeroAmount)
	}
	unlock, err := s.locks.Acquire(ctx, lockKey(vaultID), s.cfg.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("vault_service: %s: %w", op, err)
	}
	defer unlock()

	var totalShares, positionShares uint64
	err = s.store.Atomic(ctx, func(ctx context.Context, acc domain.Accounts) error {
		v, c, err := loadVault(ctx, acc, vaultID)
		if err != nil {
			return err
		}
		reserves, err := loadReserves(ctx, acc.Ledger(), v, c)
		if err != nil {
			return err
		}
		total, err := vault.TotalAssets(reserves[0].Balance, reserves[1].Balance, reserves[2].Balance)
		if err != nil {
			return err
		}
		minted, err = vault.SharesForDeposit(amount, total, v.TotalShares)
		if err != nil {
			return err
		}

		if err := acc.Ledger().Transfer(ctx, domain.Transfer{
			Asset:     v.Asset,
			From:      identity.WalletAddress(holder, v.Asset),
			To:        v.Reserve(domain.ReservePrimary),
			Amount:    amount,
			Authority: holder,
		}); err != nil {
			return err
		}

		pos, err := getOrCreatePosition(ctx, acc.Positions(), vaultID, holder)
		if err != nil {
			return err
		}
		if positionShares, err = vault.AddShares(pos.Shares, minted); err != nil {
			return err
		}
		if totalShares, err = vault.AddShares(v.TotalShares, minted); err != nil {
			return err
		}
		if err := acc.Positions().SetShares(ctx, pos.ID, positionShares); err != nil {
			return err
		}
		return acc.Vaults().SetTotalShares(ctx, vaultID, totalShares)
	})
	if err != nil {
		return 0, fmt.Errorf("vault_service: %s: %w", op, err)
	}

	s.logger.InfoContext(ctx, "vault_service: deposit committed",
		slog.String("vault", vaultID.Hex()),
		slog.String("holder", holder.Hex()),
		slog.Uint64("amount", amount),
		slog.Uint64("shares", minted),
		slog.Uint64("position_shares", positionShares),
	)
	s.metrics.SetTotalShares(vaultID, totalShares)
	s.committed(ctx, domain.VaultEvent{
		Type:        domain.EventDeposited,
		Vault:       vaultID,
		Actor:       holder,
		Amount:      amount,
		Shares:      minted,
		TotalShares: totalShares,
		At:          s.clock.Now(),
	})
	return minted, nil
}

// Withdraw burns shares and pays their proportional value to the holder's
// wallet, draining the primary reserve first, then yield A, then yield B.
func (s *VaultService) Withdraw(ctx context.Context, vaultID, holder domain.ID, shares uint64) (redeemed uint64, err error) {
	const op = "withdraw"
	started := time.Now()
	defer func() { s.metrics.ObserveOperation(op, started, err) }()

	if shares == 0 {
		return 0, fmt.Errorf("vault_service: %s: %w", op, domain.ErrZeroShares)
	}
	unlock, err := s.locks.Acquire(ctx, lockKey(vaultID), s.cfg.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("vault_service: %s: %w", op, err)
	}
	defer unlock()

	var totalShares uint64
	var drained vault.DrainResult
	err = s.store.Atomic(ctx, func(ctx context.Context, acc domain.Accounts) error {
		v, c, err := loadVault(ctx, acc, vaultID)
		if err != nil {
			return err
		}
		pos, err := loadPosition(ctx, acc.Positions(), vaultID, holder)
		if err != nil {
			return err
		}
		if shares > pos.Shares {
			return domain.ErrInsufficientShares
		}
		if v.TotalShares == 0 {
			return domain.ErrInsufficientLiquidity
		}

		reserves, err := loadReserves(ctx, acc.Ledger(), v, c)
		if err != nil {
			return err
		}
		total, err := vault.TotalAssets(reserves[0].Balance, reserves[1].Balance, reserves[2].Balance)
		if err != nil {
			return err
		}
		if redeemed, err = vault.AssetsForWithdraw(shares, total, v.TotalShares); err != nil {
			return err
		}

		wallet := identity.WalletAddress(holder, v.Asset)
		drained, err = vault.Drain(ctx, reserveSettler(acc.Ledger(), v, c), wallet, redeemed, reserves)
		if err != nil {
			return err
		}

		positionShares, err := vault.SubShares(pos.Shares, shares)
		if err != nil {
			return err
		}
		if totalShares, err = vault.SubShares(v.TotalShares, shares); err != nil {
			return err
		}
		if err := acc.Positions().SetShares(ctx, pos.ID, positionShares); err != nil {
			return err
		}
		return acc.Vaults().SetTotalShares(ctx, vaultID, totalShares)
	})
	if err != nil {
		return 0, fmt.Errorf("vault_service: %s: %w", op, err)
	}

	s.logger.InfoContext(ctx, "vault_service: withdraw committed",
		slog.String("vault", vaultID.Hex()),
		slog.String("holder", holder.Hex()),
		slog.Uint64("shares", shares),
		slog.Uint64("amount", redeemed),
		slog.Any("drained", drained.Sent),
	)
	s.metrics.SetTotalShares(vaultID, totalShares)
	s.committed(ctx, domain.VaultEvent{
		Type:        domain.EventWithdrawn,
		Vault:       vaultID,
		Actor:       holder,
		Amount:      redeemed,
		Shares:      shares,
		TotalShares: totalShares,
		At:          s.clock.Now(),
	})
	return redeemed, nil
}

// RouteYield moves amount from the primary reserve to yield A or B
// depending on the validated oracle price. Shares are untouched.
func (s *VaultService) RouteYield(ctx context.Context, vaultID, executor domain.ID, amount uint64) (res RouteResult, err error) {
	const op = "route_yield"
	started := time.Now()
	defer func() { s.metrics.ObserveOperation(op, started, err) }()

	if amount == 0 {
		return RouteResult{}, fmt.Errorf("vault_service: %s: %w", op, domain.ErrZeroAmount)
	}
	if executor.IsZero() {
		return RouteResult{}, fmt.Errorf("vault_service: %s: executor: %w", op, domain.ErrUnauthorized)
	}
	unlock, err := s.locks.Acquire(ctx, lockKey(vaultID), s.cfg.LockTTL)
	if err != nil {
		return RouteResult{}, fmt.Errorf("vault_service: %s: %w", op, err)
	}
	defer unlock()

	var totalShares uint64
	err = s.store.Atomic(ctx, func(ctx context.Context, acc domain.Accounts) error {
		v, c, err := loadVault(ctx, acc, vaultID)
		if err != nil {
			return err
		}
		totalShares = v.TotalShares

		obs, err := s.observe(ctx, v.Oracle)
		if err != nil {
			return err
		}
		if err := vault.EnforceConfidence(obs, v.Oracle.MaxConfidenceBps); err != nil {
			return err
		}
		if err := vault.CheckExponent(obs, v.OracleExpo); err != nil {
			return err
		}

		reserves, err := loadReserves(ctx, acc.Ledger(), v, c)
		if err != nil {
			return err
		}
		dest, err := vault.Route(ctx, reserveSettler(acc.Ledger(), v, c), vault.RouteRequest{
			Amount:    amount,
			Price:     obs.Price,
			Threshold: v.RouteThresholdPrice,
			Primary:   reserves[domain.ReservePrimary],
			YieldA:    v.Reserve(domain.ReserveYieldA),
			YieldB:    v.Reserve(domain.ReserveYieldB),
		})
		if err != nil {
			return err
		}
		res = RouteResult{
			Destination:   dest,
			DestinationID: v.Reserve(dest),
			Reserve:       dest.String(),
			Price:         obs.Price,
			Expo:          obs.Expo,
			Amount:        amount,
		}
		return nil
	})
	if err != nil {
		return RouteResult{}, fmt.Errorf("vault_service: %s: %w", op, err)
	}

	s.logger.InfoContext(ctx, "vault_service: yield routed",
		slog.String("vault", vaultID.Hex()),
		slog.String("executor", executor.Hex()),
		slog.String("destination", res.Reserve),
		slog.Int64("price", res.Price),
		slog.Uint64("amount", amount),
	)
	s.committed(ctx, domain.VaultEvent{
		Type:        domain.EventYieldRouted,
		Vault:       vaultID,
		Actor:       executor,
		Amount:      amount,
		TotalShares: totalShares,
		Destination: res.DestinationID,
		Price:       res.Price,
		At:          s.clock.Now(),
	})
	return res, nil
}

// observe loads the configured feed and validates owner and staleness.
func (s *VaultService) observe(ctx context.Context, cfg domain.OracleConfig) (domain.Observation, error) {
	feed, err := s.feeds.Load(ctx, cfg.Feed)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Observation{}, domain.ErrOraclePriceUnavailable
		}
		return domain.Observation{}, err
	}
	return vault.ReadPrice(feed, cfg, s.clock.Now())
}

// committed runs the post-commit side effects. Failures are logged only:
// the operation has already been applied.
func (s *VaultService) committed(ctx context.Context, ev domain.VaultEvent) {
	if s.audit != nil {
		detail := map[string]any{
			"vault":        ev.Vault.Hex(),
			"actor":        ev.Actor.Hex(),
			"amount":       ev.Amount,
			"shares":       ev.Shares,
			"total_shares": ev.TotalShares,
		}
		if !ev.Destination.IsZero() {
			detail["destination"] = ev.Destination.Hex()
			detail["price"] = ev.Price
		}
		if err := s.audit.Log(ctx, "vault."+string(ev.Type), detail); err != nil {
			s.logger.WarnContext(ctx, "vault_service: audit log failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus == nil && s.events == nil {
		return
	}
	frame, err := events.Encode(ev)
	if err != nil {
		s.logger.WarnContext(ctx, "vault_service: encode event failed", slog.String("error", err.Error()))
		return
	}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, domain.VaultEventChannel(ev.Vault), frame); err != nil {
			s.logger.WarnContext(ctx, "vault_service: publish event failed",
				slog.String("vault", ev.Vault.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.events != nil {
		if err := s.events.StreamAppend(ctx, domain.VaultEventStream(ev.Vault), frame); err != nil {
			s.logger.WarnContext(ctx, "vault_service: append event failed",
				slog.String("vault", ev.Vault.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func lockKey(vaultID domain.ID) string {
	return "vault:" + vaultID.Hex()
}

// loadVault reads the vault record, checks its derivation and returns the
// capability for its reserves.
func loadVault(ctx context.Context, acc domain.Accounts, vaultID domain.ID) (domain.Vault, identity.Capability, error) {
	v, err := acc.Vaults().Get(ctx, vaultID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Vault{}, identity.Capability{}, domain.ErrInvalidVault
		}
		return domain.Vault{}, identity.Capability{}, err
	}
	if err := identity.CheckVault(v); err != nil {
		return domain.Vault{}, identity.Capability{}, err
	}
	c, err := identity.VaultCapability(v)
	if err != nil {
		return domain.Vault{}, identity.Capability{}, err
	}
	return v, c, nil
}

// loadReserves reads the three reserve balances in drain order and checks
// that each reserve still belongs to the vault.
func loadReserves(ctx context.Context, l domain.Ledger, v domain.Vault, c identity.Capability) ([]vault.Reserve, error) {
	out := make([]vault.Reserve, domain.ReserveCount)
	for i, handle := range v.Reserves {
		kind := domain.ReserveKind(i)
		acct, err := l.Account(ctx, handle)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, reserveError(kind)
			}
			return nil, err
		}
		if acct.Asset != v.Asset || acct.Owner != c.Authority {
			return nil, reserveError(kind)
		}
		out[i] = vault.Reserve{ID: handle, Balance: acct.Balance}
	}
	return out, nil
}

func reserveError(kind domain.ReserveKind) error {
	if kind == domain.ReservePrimary {
		return domain.ErrInvalidReserveAccount
	}
	return domain.ErrInvalidYieldReserveAccount
}

// reserveSettler transfers out of v's reserves under its capability.
func reserveSettler(l domain.Ledger, v domain.Vault, c identity.Capability) vault.Settler {
	return vault.SettlerFunc(func(ctx context.Context, from, to domain.ID, amount uint64) error {
		return l.Transfer(ctx, domain.Transfer{
			Asset:     v.Asset,
			From:      from,
			To:        to,
			Amount:    amount,
			Authority: c.Authority,
		})
	})
}

func loadPosition(ctx context.Context, ps domain.PositionStore, vaultID, holder domain.ID) (domain.Position, error) {
	id, _ := identity.PositionAddress(vaultID, holder)
	p, err := ps.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, domain.ErrInvalidPosition
		}
		return domain.Position{}, err
	}
	if err := identity.CheckPosition(p, vaultID, holder); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

// getOrCreatePosition returns the holder's position, creating an empty one
// on first use. Identity fields are set once.
func getOrCreatePosition(ctx context.Context, ps domain.PositionStore, vaultID, holder domain.ID) (domain.Position, error) {
	p, err := loadPosition(ctx, ps, vaultID, holder)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrInvalidPosition) {
		return domain.Position{}, err
	}
	id, bump := identity.PositionAddress(vaultID, holder)
	if _, getErr := ps.Get(ctx, id); getErr == nil {
		return domain.Position{}, err
	}
	p = domain.Position{ID: id, Bump: bump, Vault: vaultID, Holder: holder}
	if err := ps.Create(ctx, p); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}
