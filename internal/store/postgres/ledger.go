package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// Ledger implements domain.Ledger. Balances are NUMERIC(20,0) so the full
// uint64 range fits; they cross the wire as decimal text.
type Ledger struct {
	q querier
}

func (l *Ledger) RegisterAsset(ctx context.Context, a domain.Asset) error {
	const query = `INSERT INTO assets (id, decimals) VALUES ($1, $2)`
	if _, err := l.q.Exec(ctx, query, a.ID.Bytes(), int16(a.Decimals)); err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("postgres: register asset %s: %w", a.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: register asset %s: %w", a.ID, err)
	}
	return nil
}

func (l *Ledger) Asset(ctx context.Context, id domain.ID) (domain.Asset, error) {
	var decimals int16
	err := l.q.QueryRow(ctx, `SELECT decimals FROM assets WHERE id = $1`, id.Bytes()).Scan(&decimals)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Asset{}, fmt.Errorf("postgres: get asset %s: %w", id, domain.ErrNotFound)
		}
		return domain.Asset{}, fmt.Errorf("postgres: get asset %s: %w", id, err)
	}
	return domain.Asset{ID: id, Decimals: uint8(decimals)}, nil
}

// OpenAccount creates an account with the given starting balance. The
// asset must already be registered.
func (l *Ledger) OpenAccount(ctx context.Context, a domain.Account) error {
	if _, err := l.Asset(ctx, a.Asset); err != nil {
		return fmt.Errorf("postgres: open account: %w", err)
	}
	const query = `
		INSERT INTO ledger_accounts (id, asset, owner, balance)
		VALUES ($1, $2, $3, $4::text::numeric)`
	_, err := l.q.Exec(ctx, query,
		a.ID.Bytes(), a.Asset.Bytes(), a.Owner.Bytes(), strconv.FormatUint(a.Balance, 10))
	if err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("postgres: open account %s: %w", a.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: open account %s: %w", a.ID, err)
	}
	return nil
}

func (l *Ledger) Account(ctx context.Context, id domain.ID) (domain.Account, error) {
	a, err := l.account(ctx, l.q, id, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, domain.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}

func (l *Ledger) account(ctx context.Context, q querier, id domain.ID, forUpdate bool) (domain.Account, error) {
	query := `SELECT asset, owner, balance::text, updated_at FROM ledger_accounts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		asset, owner []byte
		balance      string
		updatedAt    time.Time
	)
	if err := q.QueryRow(ctx, query, id.Bytes()).Scan(&asset, &owner, &balance, &updatedAt); err != nil {
		return domain.Account{}, err
	}
	bal, err := strconv.ParseUint(balance, 10, 64)
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: account %s balance %q: %w", id, balance, err)
	}
	assetID, err := scanID(asset)
	if err != nil {
		return domain.Account{}, err
	}
	ownerID, err := scanID(owner)
	if err != nil {
		return domain.Account{}, err
	}
	return domain.Account{ID: id, Asset: assetID, Owner: ownerID, Balance: bal, UpdatedAt: updatedAt}, nil
}

// Transfer locks both accounts, validates the move in full and only then
// writes, so a rejected transfer changes nothing.
func (l *Ledger) Transfer(ctx context.Context, t domain.Transfer) error {
	return inTx(ctx, l.q, func(tx pgx.Tx) error {
		from, err := l.account(ctx, tx, t.From, true)
		if err != nil {
			return transferLookupError(err)
		}
		to, err := l.account(ctx, tx, t.To, true)
		if err != nil {
			return transferLookupError(err)
		}
		if from.Asset != t.Asset || to.Asset != t.Asset {
			return domain.ErrAssetMismatch
		}
		if from.Owner != t.Authority {
			return domain.ErrUnauthorizedTransfer
		}
		if from.Balance < t.Amount {
			return domain.ErrInsufficientFunds
		}
		if t.From == t.To {
			return nil
		}
		if to.Balance+t.Amount < to.Balance {
			return domain.ErrArithmeticOverflow
		}
		if err := setBalance(ctx, tx, t.From, from.Balance-t.Amount); err != nil {
			return err
		}
		return setBalance(ctx, tx, t.To, to.Balance+t.Amount)
	})
}

// Fund credits amount to an account outside of any transfer.
func (l *Ledger) Fund(ctx context.Context, id domain.ID, amount uint64) error {
	return inTx(ctx, l.q, func(tx pgx.Tx) error {
		a, err := l.account(ctx, tx, id, true)
		if err != nil {
			return transferLookupError(err)
		}
		if a.Balance+amount < a.Balance {
			return domain.ErrArithmeticOverflow
		}
		return setBalance(ctx, tx, id, a.Balance+amount)
	})
}

func setBalance(ctx context.Context, q querier, id domain.ID, balance uint64) error {
	const query = `UPDATE ledger_accounts SET balance = $2::text::numeric, updated_at = NOW() WHERE id = $1`
	if _, err := q.Exec(ctx, query, id.Bytes(), strconv.FormatUint(balance, 10)); err != nil {
		return fmt.Errorf("postgres: set balance %s: %w", id, err)
	}
	return nil
}

func transferLookupError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAccountNotFound
	}
	return fmt.Errorf("postgres: transfer: %w", err)
}

var _ domain.Ledger = (*Ledger)(nil)
