package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/events"
	"github.com/alanyoungcy/urbanium/internal/identity"
	"github.com/alanyoungcy/urbanium/internal/vault"
)

// VaultView is a vault record with its live reserve balances.
type VaultView struct {
	domain.Vault
	Authority   domain.ID                   `json:"authority"`
	Balances    [domain.ReserveCount]uint64 `json:"balances"`
	TotalAssets string                      `json:"total_assets"`
}

// PositionView is a position with the amount its shares currently redeem.
type PositionView struct {
	domain.Position
	Redeemable uint64 `json:"redeemable"`
}

// EventRecord is one entry of a vault's event history.
type EventRecord struct {
	ID    string            `json:"id"`
	Event domain.VaultEvent `json:"event"`
}

// GetVault returns the vault with its reserve balances.
func (s *VaultService) GetVault(ctx context.Context, vaultID domain.ID) (VaultView, error) {
	v, c, err := loadVault(ctx, s.store, vaultID)
	if err != nil {
		return VaultView{}, fmt.Errorf("vault_service: get vault: %w", notFound(err))
	}
	reserves, err := loadReserves(ctx, s.store.Ledger(), v, c)
	if err != nil {
		return VaultView{}, fmt.Errorf("vault_service: get vault: %w", err)
	}
	view := VaultView{Vault: v, Authority: c.Authority}
	for i, r := range reserves {
		view.Balances[i] = r.Balance
	}
	total, err := vault.TotalAssets(view.Balances[0], view.Balances[1], view.Balances[2])
	if err != nil {
		return VaultView{}, fmt.Errorf("vault_service: get vault: %w", err)
	}
	view.TotalAssets = total.Dec()
	return view, nil
}

// ListVaults returns vault records in creation order.
func (s *VaultService) ListVaults(ctx context.Context, opts domain.ListOpts) ([]domain.Vault, error) {
	vs, err := s.store.Vaults().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("vault_service: list vaults: %w", err)
	}
	return vs, nil
}

// GetPosition returns holder's position in the vault and what it redeems
// at the current rate.
func (s *VaultService) GetPosition(ctx context.Context, vaultID, holder domain.ID) (PositionView, error) {
	view, err := s.GetVault(ctx, vaultID)
	if err != nil {
		return PositionView{}, err
	}
	p, err := loadPosition(ctx, s.store.Positions(), vaultID, holder)
	if err != nil {
		return PositionView{}, fmt.Errorf("vault_service: get position: %w", notFound(err))
	}
	return PositionView{Position: p, Redeemable: redeemable(view, p)}, nil
}

// ListPositions returns the positions of a vault ordered by holder.
func (s *VaultService) ListPositions(ctx context.Context, vaultID domain.ID, opts domain.ListOpts) ([]PositionView, error) {
	view, err := s.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	ps, err := s.store.Positions().ListByVault(ctx, vaultID, opts)
	if err != nil {
		return nil, fmt.Errorf("vault_service: list positions: %w", err)
	}
	out := make([]PositionView, len(ps))
	for i, p := range ps {
		out[i] = PositionView{Position: p, Redeemable: redeemable(view, p)}
	}
	return out, nil
}

// Events returns up to count events recorded after the given stream id.
func (s *VaultService) Events(ctx context.Context, vaultID domain.ID, after string, count int) ([]EventRecord, error) {
	if s.events == nil {
		return nil, nil
	}
	if after == "" {
		after = "0"
	}
	msgs, err := s.events.StreamRead(ctx, domain.VaultEventStream(vaultID), after, count)
	if err != nil {
		return nil, fmt.Errorf("vault_service: events: %w", err)
	}
	out := make([]EventRecord, 0, len(msgs))
	for _, m := range msgs {
		ev, err := events.Decode(m.Payload)
		if err != nil {
			s.logger.WarnContext(ctx, "vault_service: skip undecodable event",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, EventRecord{ID: m.ID, Event: ev})
	}
	return out, nil
}

// RegisterAsset adds an asset to the settlement ledger.
func (s *VaultService) RegisterAsset(ctx context.Context, a domain.Asset) error {
	if a.ID.IsZero() {
		return fmt.Errorf("vault_service: register asset: %w", domain.ErrInvalidMint)
	}
	if err := s.store.Ledger().RegisterAsset(ctx, a); err != nil {
		return fmt.Errorf("vault_service: register asset: %w", err)
	}
	s.logger.InfoContext(ctx, "vault_service: asset registered",
		slog.String("asset", a.ID.Hex()),
		slog.Int("decimals", int(a.Decimals)),
	)
	return nil
}

// FundHolder credits holder's wallet for asset, opening the wallet first
// if needed.
func (s *VaultService) FundHolder(ctx context.Context, holder, asset domain.ID, amount uint64) (domain.Account, error) {
	wallet := identity.WalletAddress(holder, asset)
	var out domain.Account
	err := s.store.Atomic(ctx, func(ctx context.Context, acc domain.Accounts) error {
		l := acc.Ledger()
		if _, err := l.Asset(ctx, asset); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrInvalidMint
			}
			return err
		}
		if _, err := l.Account(ctx, wallet); errors.Is(err, domain.ErrNotFound) {
			if err := l.OpenAccount(ctx, domain.Account{ID: wallet, Asset: asset, Owner: holder}); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		if amount > 0 {
			if err := l.Fund(ctx, wallet, amount); err != nil {
				return err
			}
		}
		var err error
		out, err = l.Account(ctx, wallet)
		return err
	})
	if err != nil {
		return domain.Account{}, fmt.Errorf("vault_service: fund holder: %w", err)
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, "ledger.fund", map[string]any{
			"account": wallet.Hex(),
			"holder":  holder.Hex(),
			"amount":  amount,
		}); err != nil {
			s.logger.WarnContext(ctx, "vault_service: audit log failed", slog.String("error", err.Error()))
		}
	}
	return out, nil
}

// FundReserve credits a vault reserve directly. It stands in for yield
// accruing in the destination reserves.
func (s *VaultService) FundReserve(ctx context.Context, vaultID domain.ID, kind domain.ReserveKind, amount uint64) (domain.Account, error) {
	if int(kind) >= domain.ReserveCount {
		return domain.Account{}, fmt.Errorf("vault_service: fund reserve: %w", domain.ErrInvalidYieldReserveAccount)
	}
	var out domain.Account
	err := s.store.Atomic(ctx, func(ctx context.Context, acc domain.Accounts) error {
		v, _, err := loadVault(ctx, acc, vaultID)
		if err != nil {
			return err
		}
		if err := acc.Ledger().Fund(ctx, v.Reserve(kind), amount); err != nil {
			return err
		}
		out, err = acc.Ledger().Account(ctx, v.Reserve(kind))
		return err
	})
	if err != nil {
		return domain.Account{}, fmt.Errorf("vault_service: fund reserve: %w", err)
	}
	return out, nil
}

// Wallet returns holder's ledger account for asset.
func (s *VaultService) Wallet(ctx context.Context, holder, asset domain.ID) (domain.Account, error) {
	a, err := s.store.Ledger().Account(ctx, identity.WalletAddress(holder, asset))
	if err != nil {
		return domain.Account{}, fmt.Errorf("vault_service: wallet: %w", err)
	}
	return a, nil
}

// redeemable is best effort: a position that cannot be valued reports 0.
func redeemable(view VaultView, p domain.Position) uint64 {
	if p.Shares == 0 || view.TotalShares == 0 {
		return 0
	}
	total, err := vault.TotalAssets(view.Balances[0], view.Balances[1], view.Balances[2])
	if err != nil {
		return 0
	}
	amount, err := vault.AssetsForWithdraw(p.Shares, total, view.TotalShares)
	if err != nil {
		return 0
	}
	return amount
}

// notFound turns the identity errors raised for missing records back into
// ErrNotFound for read paths.
func notFound(err error) error {
	if errors.Is(err, domain.ErrInvalidVault) || errors.Is(err, domain.ErrInvalidPosition) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	return err
}
