// Package vault holds the accounting and decision logic of a pooled-fund
// vault: share issuance and redemption, price validation, yield routing and
// the multi-reserve drain. Everything here is pure or talks to a Settler;
// persistence and locking belong to the caller.
package vault

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// TotalAssets sums the three reserve balances. The result is wide so the
// share math never sees a truncated total.
func TotalAssets(primary, yieldA, yieldB uint64) (*uint256.Int, error) {
	total := uint256.NewInt(primary)
	if _, overflow := total.AddOverflow(total, uint256.NewInt(yieldA)); overflow {
		return nil, domain.ErrArithmeticOverflow
	}
	if _, overflow := total.AddOverflow(total, uint256.NewInt(yieldB)); overflow {
		return nil, domain.ErrArithmeticOverflow
	}
	return total, nil
}

// SharesForDeposit converts a deposit into shares at the current rate:
// floor(amount * totalShares / totalAssets). An empty vault mints 1:1.
// A deposit that would mint zero shares is rejected as an overflow so the
// depositor never pays for nothing.
func SharesForDeposit(amount uint64, totalAssets *uint256.Int, totalShares uint64) (uint64, error) {
	if amount == 0 {
		return 0, domain.ErrZeroAmount
	}
	if totalShares == 0 || totalAssets == nil || totalAssets.IsZero() {
		return amount, nil
	}
	shares, err := mulDiv(amount, totalShares, totalAssets)
	if err != nil {
		return 0, err
	}
	if shares == 0 {
		return 0, domain.ErrArithmeticOverflow
	}
	return shares, nil
}

// AssetsForWithdraw converts shares into the asset amount they redeem:
// floor(shares * totalAssets / totalShares). Rounding favours the pool.
// A nil totalAssets is an undefined total and is rejected.
func AssetsForWithdraw(shares uint64, totalAssets *uint256.Int, totalShares uint64) (uint64, error) {
	if shares == 0 {
		return 0, domain.ErrZeroShares
	}
	if totalShares == 0 {
		return 0, domain.ErrInsufficientLiquidity
	}
	if totalAssets == nil {
		return 0, domain.ErrArithmeticOverflow
	}
	num, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(shares), totalAssets)
	if overflow {
		return 0, domain.ErrArithmeticOverflow
	}
	num.Div(num, uint256.NewInt(totalShares))
	if !num.IsUint64() {
		return 0, domain.ErrArithmeticOverflow
	}
	return num.Uint64(), nil
}

// mulDiv computes floor(a*b/denom) with a 256-bit intermediate.
func mulDiv(a, b uint64, denom *uint256.Int) (uint64, error) {
	if denom.IsZero() {
		return 0, domain.ErrArithmeticOverflow
	}
	num, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow {
		return 0, domain.ErrArithmeticOverflow
	}
	num.Div(num, denom)
	if !num.IsUint64() {
		return 0, domain.ErrArithmeticOverflow
	}
	return num.Uint64(), nil
}

// AddShares and SubShares are the checked updates applied to share balances.
func AddShares(balance, delta uint64) (uint64, error) {
	sum := balance + delta
	if sum < balance {
		return 0, domain.ErrArithmeticOverflow
	}
	return sum, nil
}

func SubShares(balance, delta uint64) (uint64, error) {
	if delta > balance {
		return 0, domain.ErrArithmeticOverflow
	}
	return balance - delta, nil
}
