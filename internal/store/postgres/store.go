package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx. Begin on a
// transaction opens a savepoint, so helpers can nest atomic steps.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store. Reads and writes through Vaults,
// Positions and Ledger run on the pool; Atomic runs fn in one transaction.
type Store struct {
	db querier
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func (s *Store) Vaults() domain.VaultStore       { return &VaultStore{q: s.db} }
func (s *Store) Positions() domain.PositionStore { return &PositionStore{q: s.db} }
func (s *Store) Ledger() domain.Ledger           { return &Ledger{q: s.db} }

// Atomic runs fn in a transaction that commits only if fn returns nil.
// Vault and position rows read through acc are locked FOR UPDATE until
// the transaction ends, so concurrent operations on one vault serialize on
// its row even when the caller's distributed lock has expired.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, acc domain.Accounts) error) error {
	return inTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(ctx, txAccounts{q: tx})
	})
}

type txAccounts struct{ q querier }

func (a txAccounts) Vaults() domain.VaultStore       { return &VaultStore{q: a.q, forUpdate: true} }
func (a txAccounts) Positions() domain.PositionStore { return &PositionStore{q: a.q, forUpdate: true} }
func (a txAccounts) Ledger() domain.Ledger           { return &Ledger{q: a.q} }

// inTx runs fn in a transaction, or a savepoint when q is already one, and
// ends it with exactly one Commit or Rollback.
func inTx(ctx context.Context, q querier, fn func(tx pgx.Tx) error) error {
	tx, err := q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// uniqueViolation reports whether err is a unique or primary key conflict.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanID(b []byte) (domain.ID, error) {
	if len(b) != domain.IDLength {
		return domain.ZeroID, fmt.Errorf("postgres: identity of %d bytes", len(b))
	}
	return domain.IDFromBytes(b), nil
}

// Compile-time interface checks.
var (
	_ domain.Store    = (*Store)(nil)
	_ domain.Accounts = txAccounts{}
	_ querier         = (*pgxpool.Pool)(nil)
)
