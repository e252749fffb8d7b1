package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// VaultStore implements domain.VaultStore. Each row holds the fixed-layout
// vault record.
type VaultStore struct {
	q querier
	// forUpdate locks rows returned by Get for the enclosing transaction.
	forUpdate bool
}

const vaultSelectCols = `id, record, created_at, updated_at`

func scanVault(row pgx.Row) (domain.Vault, error) {
	var (
		id, record []byte
		v          domain.Vault
	)
	if err := row.Scan(&id, &record, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return domain.Vault{}, err
	}
	created, updated := v.CreatedAt, v.UpdatedAt
	if err := v.UnmarshalBinary(record); err != nil {
		return domain.Vault{}, err
	}
	vid, err := scanID(id)
	if err != nil {
		return domain.Vault{}, err
	}
	v.ID, v.CreatedAt, v.UpdatedAt = vid, created, updated
	return v, nil
}

// Create inserts a new vault. It returns domain.ErrAlreadyExists when the
// vault or its asset is already taken.
func (s *VaultStore) Create(ctx context.Context, v domain.Vault) error {
	record, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("postgres: encode vault: %w", err)
	}
	const query = `INSERT INTO vaults (id, asset, record) VALUES ($1, $2, $3)`
	if _, err := s.q.Exec(ctx, query, v.ID.Bytes(), v.Asset.Bytes(), record); err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("postgres: create vault %s: %w", v.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create vault %s: %w", v.ID, err)
	}
	return nil
}

// Get returns the vault by identity or domain.ErrNotFound.
func (s *VaultStore) Get(ctx context.Context, id domain.ID) (domain.Vault, error) {
	query := `SELECT ` + vaultSelectCols + ` FROM vaults WHERE id = $1`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}
	v, err := scanVault(s.q.QueryRow(ctx, query, id.Bytes()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vault{}, fmt.Errorf("postgres: get vault %s: %w", id, domain.ErrNotFound)
		}
		return domain.Vault{}, fmt.Errorf("postgres: get vault %s: %w", id, err)
	}
	return v, nil
}

// SetTotalShares rewrites the record with the new share total. The row is
// locked for the rest of the enclosing transaction.
func (s *VaultStore) SetTotalShares(ctx context.Context, id domain.ID, totalShares uint64) error {
	return inTx(ctx, s.q, func(tx pgx.Tx) error {
		query := `SELECT ` + vaultSelectCols + ` FROM vaults WHERE id = $1 FOR UPDATE`
		v, err := scanVault(tx.QueryRow(ctx, query, id.Bytes()))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("postgres: set total shares %s: %w", id, domain.ErrNotFound)
			}
			return fmt.Errorf("postgres: set total shares %s: %w", id, err)
		}
		v.TotalShares = totalShares
		record, err := v.MarshalBinary()
		if err != nil {
			return fmt.Errorf("postgres: encode vault: %w", err)
		}
		const update = `UPDATE vaults SET record = $2, updated_at = NOW() WHERE id = $1`
		if _, err := tx.Exec(ctx, update, id.Bytes(), record); err != nil {
			return fmt.Errorf("postgres: set total shares %s: %w", id, err)
		}
		return nil
	})
}

// List returns vaults in creation order.
func (s *VaultStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Vault, error) {
	query, args := listQuery(`SELECT `+vaultSelectCols+` FROM vaults WHERE 1=1`, nil, opts, "created_at, id")
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list vaults: %w", err)
	}
	defer rows.Close()

	var vaults []domain.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan vault: %w", err)
		}
		vaults = append(vaults, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list vaults rows: %w", err)
	}
	return vaults, nil
}

// listQuery appends the time window, ordering and pagination of opts.
func listQuery(query string, args []any, opts domain.ListOpts, orderBy string) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY " + orderBy
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

var _ domain.VaultStore = (*VaultStore)(nil)
