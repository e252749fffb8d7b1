package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// PositionStore implements domain.PositionStore. Each row holds the
// fixed-layout position record.
type PositionStore struct {
	q querier
	// forUpdate locks rows returned by Get for the enclosing transaction.
	forUpdate bool
}

const positionSelectCols = `id, record, created_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		id, record []byte
		p          domain.Position
	)
	if err := row.Scan(&id, &record, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Position{}, err
	}
	if err := p.UnmarshalBinary(record); err != nil {
		return domain.Position{}, err
	}
	pid, err := scanID(id)
	if err != nil {
		return domain.Position{}, err
	}
	p.ID = pid
	return p, nil
}

// Create inserts a new position. A second position for the same vault and
// holder is rejected with domain.ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	record, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("postgres: encode position: %w", err)
	}
	const query = `INSERT INTO positions (id, vault, holder, record) VALUES ($1, $2, $3, $4)`
	if _, err := s.q.Exec(ctx, query, p.ID.Bytes(), p.Vault.Bytes(), p.Holder.Bytes(), record); err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("postgres: create position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

func (s *PositionStore) Get(ctx context.Context, id domain.ID) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPosition(s.q.QueryRow(ctx, query, id.Bytes()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// SetShares rewrites the record with the new share balance.
func (s *PositionStore) SetShares(ctx context.Context, id domain.ID, shares uint64) error {
	return inTx(ctx, s.q, func(tx pgx.Tx) error {
		query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1 FOR UPDATE`
		p, err := scanPosition(tx.QueryRow(ctx, query, id.Bytes()))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("postgres: set shares %s: %w", id, domain.ErrNotFound)
			}
			return fmt.Errorf("postgres: set shares %s: %w", id, err)
		}
		p.Shares = shares
		record, err := p.MarshalBinary()
		if err != nil {
			return fmt.Errorf("postgres: encode position: %w", err)
		}
		const update = `UPDATE positions SET record = $2, updated_at = NOW() WHERE id = $1`
		if _, err := tx.Exec(ctx, update, id.Bytes(), record); err != nil {
			return fmt.Errorf("postgres: set shares %s: %w", id, err)
		}
		return nil
	})
}

// ListByVault returns the positions of one vault in creation order.
func (s *PositionStore) ListByVault(ctx context.Context, vault domain.ID, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := listQuery(
		`SELECT `+positionSelectCols+` FROM positions WHERE vault = $1`,
		[]any{vault.Bytes()}, opts, "created_at, id",
	)
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
