package vault

import (
	"context"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// DrainResult records what each reserve sent, in reserve order.
type DrainResult struct {
	Sent      []uint64
	Remaining uint64
}

// Drain pulls target out of reserves in the given order, taking at most
// each reserve's balance and skipping empty ones. If the reserves cannot
// cover target it returns ErrInsufficientLiquidity along with what was
// already sent; the caller's unit of work must roll those transfers back.
func Drain(ctx context.Context, s Settler, to domain.ID, target uint64, reserves []Reserve) (DrainResult, error) {
	res := DrainResult{Sent: make([]uint64, len(reserves)), Remaining: target}
	for i, r := range reserves {
		if res.Remaining == 0 {
			break
		}
		send := min(r.Balance, res.Remaining)
		if send == 0 {
			continue
		}
		if err := s.Settle(ctx, r.ID, to, send); err != nil {
			return res, err
		}
		res.Sent[i] = send
		res.Remaining -= send
	}
	if res.Remaining != 0 {
		return res, domain.ErrInsufficientLiquidity
	}
	return res, nil
}
