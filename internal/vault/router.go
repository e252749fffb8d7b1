package vault

import (
	"context"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// Settler moves funds out of a vault reserve under the vault's authority.
// It must fail without side effects when from cannot cover amount.
type Settler interface {
	Settle(ctx context.Context, from, to domain.ID, amount uint64) error
}

// SettlerFunc adapts a function to Settler.
type SettlerFunc func(ctx context.Context, from, to domain.ID, amount uint64) error

func (f SettlerFunc) Settle(ctx context.Context, from, to domain.ID, amount uint64) error {
	return f(ctx, from, to, amount)
}

// Reserve is a reserve handle with its balance at the time of the call.
type Reserve struct {
	ID      domain.ID
	Balance uint64
}

// SelectDestination picks yield reserve A when price is at or above the
// threshold and B otherwise.
func SelectDestination(price, threshold int64) domain.ReserveKind {
	if price >= threshold {
		return domain.ReserveYieldA
	}
	return domain.ReserveYieldB
}

// RouteRequest is one routing decision's inputs. Price must already have
// passed the oracle checks.
type RouteRequest struct {
	Amount    uint64
	Price     int64
	Threshold int64
	Primary   Reserve
	YieldA    domain.ID
	YieldB    domain.ID
}

// Route moves Amount from the primary reserve to the destination chosen by
// price and returns that destination.
func Route(ctx context.Context, s Settler, req RouteRequest) (domain.ReserveKind, error) {
	if req.Amount == 0 {
		return 0, domain.ErrZeroAmount
	}
	dest := SelectDestination(req.Price, req.Threshold)
	if req.Primary.Balance < req.Amount {
		return dest, domain.ErrInsufficientLiquidity
	}
	to := req.YieldA
	if dest == domain.ReserveYieldB {
		to = req.YieldB
	}
	if err := s.Settle(ctx, req.Primary.ID, to, req.Amount); err != nil {
		return dest, err
	}
	return dest, nil
}
