package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

type ledger struct{ v *view }

func (l *ledger) RegisterAsset(_ context.Context, a domain.Asset) error {
	return l.v.run(func(st *state) error {
		if _, ok := st.assets[a.ID]; ok {
			return fmt.Errorf("memory: register asset %s: %w", a.ID, domain.ErrAlreadyExists)
		}
		st.assets[a.ID] = a
		return nil
	})
}

func (l *ledger) Asset(_ context.Context, id domain.ID) (domain.Asset, error) {
	var out domain.Asset
	err := l.v.run(func(st *state) error {
		a, ok := st.assets[id]
		if !ok {
			return fmt.Errorf("memory: get asset %s: %w", id, domain.ErrNotFound)
		}
		out = a
		return nil
	})
	return out, err
}

func (l *ledger) OpenAccount(_ context.Context, a domain.Account) error {
	a.UpdatedAt = l.v.clock.Now()
	return l.v.run(func(st *state) error {
		if _, ok := st.assets[a.Asset]; !ok {
			return fmt.Errorf("memory: open account: asset %s: %w", a.Asset, domain.ErrNotFound)
		}
		if _, ok := st.accounts[a.ID]; ok {
			return fmt.Errorf("memory: open account %s: %w", a.ID, domain.ErrAlreadyExists)
		}
		st.accounts[a.ID] = a
		return nil
	})
}

func (l *ledger) Account(_ context.Context, id domain.ID) (domain.Account, error) {
	var out domain.Account
	err := l.v.run(func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return fmt.Errorf("memory: get account %s: %w", id, domain.ErrNotFound)
		}
		out = a
		return nil
	})
	return out, err
}

// Transfer validates both accounts before moving anything, so a failed
// transfer leaves balances untouched.
func (l *ledger) Transfer(_ context.Context, t domain.Transfer) error {
	now := l.v.clock.Now()
	return l.v.run(func(st *state) error {
		from, ok := st.accounts[t.From]
		if !ok {
			return domain.ErrAccountNotFound
		}
		to, ok := st.accounts[t.To]
		if !ok {
			return domain.ErrAccountNotFound
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
		from.Balance -= t.Amount
		to.Balance += t.Amount
		from.UpdatedAt, to.UpdatedAt = now, now
		st.accounts[t.From] = from
		st.accounts[t.To] = to
		return nil
	})
}

func (l *ledger) Fund(_ context.Context, id domain.ID, amount uint64) error {
	now := l.v.clock.Now()
	return l.v.run(func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return domain.ErrAccountNotFound
		}
		if a.Balance+amount < a.Balance {
			return domain.ErrArithmeticOverflow
		}
		a.Balance += amount
		a.UpdatedAt = now
		st.accounts[id] = a
		return nil
	})
}

var _ domain.Ledger = (*ledger)(nil)
