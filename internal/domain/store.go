package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// VaultStore persists vault records.
type VaultStore interface {
	Create(ctx context.Context, v Vault) error
	Get(ctx context.Context, id ID) (Vault, error)
	SetTotalShares(ctx context.Context, id ID, totalShares uint64) error
	List(ctx context.Context, opts ListOpts) ([]Vault, error)
}

// PositionStore persists holder positions.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	Get(ctx context.Context, id ID) (Position, error)
	SetShares(ctx context.Context, id ID, shares uint64) error
	ListByVault(ctx context.Context, vault ID, opts ListOpts) ([]Position, error)
}

// Ledger is the settlement service: asset balances and transfers between
// them. Transfer fails without side effects when the source cannot cover
// the amount.
type Ledger interface {
	RegisterAsset(ctx context.Context, a Asset) error
	Asset(ctx context.Context, id ID) (Asset, error)
	OpenAccount(ctx context.Context, a Account) error
	Account(ctx context.Context, id ID) (Account, error)
	Transfer(ctx context.Context, t Transfer) error
	Fund(ctx context.Context, id ID, amount uint64) error
}

// Accounts groups the record stores and the ledger that one operation sees.
type Accounts interface {
	Vaults() VaultStore
	Positions() PositionStore
	Ledger() Ledger
}

// Store is the account/storage layer. Reads through the embedded Accounts
// are not transactional; Atomic runs fn so that either every write and
// transfer it issues is applied, or none is. Records fn reads through acc
// cannot change under it until fn returns.
type Store interface {
	Accounts
	Atomic(ctx context.Context, fn func(ctx context.Context, acc Accounts) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
