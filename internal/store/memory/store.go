// Package memory implements the domain store, ledger and cache ports in
// process memory. It backs the dev mode and the service tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

type row struct {
	data      []byte
	createdAt time.Time
	updatedAt time.Time
}

type state struct {
	vaults    map[domain.ID]row
	positions map[domain.ID]row
	assets    map[domain.ID]domain.Asset
	accounts  map[domain.ID]domain.Account
}

func newState() *state {
	return &state{
		vaults:    make(map[domain.ID]row),
		positions: make(map[domain.ID]row),
		assets:    make(map[domain.ID]domain.Asset),
		accounts:  make(map[domain.ID]domain.Account),
	}
}

// clone copies the maps. Row data is never mutated in place, so sharing
// the byte slices is safe.
func (st *state) clone() *state {
	return &state{
		vaults:    maps.Clone(st.vaults),
		positions: maps.Clone(st.positions),
		assets:    maps.Clone(st.assets),
		accounts:  maps.Clone(st.accounts),
	}
}

// Store implements domain.Store. Records are kept in their fixed binary
// layout. Atomic runs against a copy of the state and swaps it in only when
// fn succeeds; atomic sections are serialized.
type Store struct {
	mu    sync.Mutex
	st    *state
	clock domain.Clock
}

// New creates an empty Store.
func New(clock domain.Clock) *Store {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Store{st: newState(), clock: clock}
}

func (s *Store) locked(fn func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) view() *view {
	return &view{run: s.locked, clock: s.clock}
}

func (s *Store) Vaults() domain.VaultStore       { return &vaultStore{s.view()} }
func (s *Store) Positions() domain.PositionStore { return &positionStore{s.view()} }
func (s *Store) Ledger() domain.Ledger           { return &ledger{s.view()} }

// Atomic implements domain.Store.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, acc domain.Accounts) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: atomic: %w", domain.ErrContextDone)
	}
	tx := s.st.clone()
	v := &view{run: func(f func(*state) error) error { return f(tx) }, clock: s.clock}
	if err := fn(ctx, v); err != nil {
		return err
	}
	s.st = tx
	return nil
}

// view is one consistent way of reaching a state: either under the store
// mutex or inside an atomic section that already holds it.
type view struct {
	run   func(func(*state) error) error
	clock domain.Clock
}

func (v *view) Vaults() domain.VaultStore       { return &vaultStore{v} }
func (v *view) Positions() domain.PositionStore { return &positionStore{v} }
func (v *view) Ledger() domain.Ledger           { return &ledger{v} }

type vaultStore struct{ v *view }

func (vs *vaultStore) Create(_ context.Context, vault domain.Vault) error {
	data, err := vault.MarshalBinary()
	if err != nil {
		return fmt.Errorf("memory: create vault: %w", err)
	}
	now := vs.v.clock.Now()
	return vs.v.run(func(st *state) error {
		if _, ok := st.vaults[vault.ID]; ok {
			return fmt.Errorf("memory: create vault %s: %w", vault.ID, domain.ErrAlreadyExists)
		}
		st.vaults[vault.ID] = row{data: data, createdAt: now, updatedAt: now}
		return nil
	})
}

func (vs *vaultStore) Get(_ context.Context, id domain.ID) (domain.Vault, error) {
	var out domain.Vault
	err := vs.v.run(func(st *state) error {
		r, ok := st.vaults[id]
		if !ok {
			return fmt.Errorf("memory: get vault %s: %w", id, domain.ErrNotFound)
		}
		var err error
		out, err = decodeVault(id, r)
		return err
	})
	return out, err
}

func (vs *vaultStore) SetTotalShares(_ context.Context, id domain.ID, totalShares uint64) error {
	now := vs.v.clock.Now()
	return vs.v.run(func(st *state) error {
		r, ok := st.vaults[id]
		if !ok {
			return fmt.Errorf("memory: set total shares %s: %w", id, domain.ErrNotFound)
		}
		vault, err := decodeVault(id, r)
		if err != nil {
			return err
		}
		vault.TotalShares = totalShares
		data, err := vault.MarshalBinary()
		if err != nil {
			return fmt.Errorf("memory: set total shares: %w", err)
		}
		st.vaults[id] = row{data: data, createdAt: r.createdAt, updatedAt: now}
		return nil
	})
}

func (vs *vaultStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Vault, error) {
	var out []domain.Vault
	err := vs.v.run(func(st *state) error {
		for id, r := range st.vaults {
			if !inWindow(r.createdAt, opts) {
				continue
			}
			vault, err := decodeVault(id, r)
			if err != nil {
				return err
			}
			out = append(out, vault)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b domain.Vault) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return page(out, opts), nil
}

func decodeVault(id domain.ID, r row) (domain.Vault, error) {
	var vault domain.Vault
	if err := vault.UnmarshalBinary(r.data); err != nil {
		return domain.Vault{}, fmt.Errorf("memory: decode vault %s: %w", id, err)
	}
	vault.ID = id
	vault.CreatedAt = r.createdAt
	vault.UpdatedAt = r.updatedAt
	return vault, nil
}

type positionStore struct{ v *view }

func (ps *positionStore) Create(_ context.Context, p domain.Position) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("memory: create position: %w", err)
	}
	now := ps.v.clock.Now()
	return ps.v.run(func(st *state) error {
		if _, ok := st.positions[p.ID]; ok {
			return fmt.Errorf("memory: create position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		st.positions[p.ID] = row{data: data, createdAt: now, updatedAt: now}
		return nil
	})
}

func (ps *positionStore) Get(_ context.Context, id domain.ID) (domain.Position, error) {
	var out domain.Position
	err := ps.v.run(func(st *state) error {
		r, ok := st.positions[id]
		if !ok {
			return fmt.Errorf("memory: get position %s: %w", id, domain.ErrNotFound)
		}
		var err error
		out, err = decodePosition(id, r)
		return err
	})
	return out, err
}

func (ps *positionStore) SetShares(_ context.Context, id domain.ID, shares uint64) error {
	now := ps.v.clock.Now()
	return ps.v.run(func(st *state) error {
		r, ok := st.positions[id]
		if !ok {
			return fmt.Errorf("memory: set shares %s: %w", id, domain.ErrNotFound)
		}
		p, err := decodePosition(id, r)
		if err != nil {
			return err
		}
		p.Shares = shares
		data, err := p.MarshalBinary()
		if err != nil {
			return fmt.Errorf("memory: set shares: %w", err)
		}
		st.positions[id] = row{data: data, createdAt: r.createdAt, updatedAt: now}
		return nil
	})
}

func (ps *positionStore) ListByVault(_ context.Context, vault domain.ID, opts domain.ListOpts) ([]domain.Position, error) {
	var out []domain.Position
	err := ps.v.run(func(st *state) error {
		for id, r := range st.positions {
			p, err := decodePosition(id, r)
			if err != nil {
				return err
			}
			if p.Vault != vault || !inWindow(r.createdAt, opts) {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b domain.Position) int {
		return slices.Compare(a.Holder[:], b.Holder[:])
	})
	return page(out, opts), nil
}

func decodePosition(id domain.ID, r row) (domain.Position, error) {
	var p domain.Position
	if err := p.UnmarshalBinary(r.data); err != nil {
		return domain.Position{}, fmt.Errorf("memory: decode position %s: %w", id, err)
	}
	p.ID = id
	p.CreatedAt = r.createdAt
	p.UpdatedAt = r.updatedAt
	return p, nil
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !t.Before(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

// Compile-time interface checks.
var (
	_ domain.Store    = (*Store)(nil)
	_ domain.Accounts = (*view)(nil)
)
