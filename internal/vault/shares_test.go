package vault

import (
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

func TestTotalAssets(t *testing.T) {
	total, err := TotalAssets(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), total.Uint64())

	total, err = TotalAssets(math.MaxUint64, math.MaxUint64, math.MaxUint64)
	require.NoError(t, err)
	assert.False(t, total.IsUint64(), "sum of three max balances exceeds 64 bits")
}

func TestSharesForDeposit(t *testing.T) {
	tests := []struct {
		name        string
		amount      uint64
		totalAssets uint64
		totalShares uint64
		want        uint64
		wantErr     error
	}{
		{name: "zero amount", amount: 0, totalAssets: 100, totalShares: 100, wantErr: domain.ErrZeroAmount},
		{name: "bootstrap no shares", amount: 500, totalAssets: 0, totalShares: 0, want: 500},
		{name: "bootstrap shares but no assets", amount: 500, totalAssets: 0, totalShares: 1000, want: 500},
		{name: "bootstrap assets but no shares", amount: 500, totalAssets: 70, totalShares: 0, want: 500},
		{name: "one to one", amount: 100, totalAssets: 1000, totalShares: 1000, want: 100},
		{name: "appreciated pool", amount: 100, totalAssets: 2000, totalShares: 1000, want: 50},
		{name: "rounds down", amount: 10, totalAssets: 3000, totalShares: 1000, want: 3},
		{name: "zero mint rejected", amount: 1, totalAssets: 3000, totalShares: 1000, wantErr: domain.ErrArithmeticOverflow},
		{name: "wide intermediate", amount: math.MaxUint64, totalAssets: math.MaxUint64, totalShares: math.MaxUint64, want: math.MaxUint64},
		{name: "down-cast overflow", amount: math.MaxUint64, totalAssets: 1, totalShares: 2, wantErr: domain.ErrArithmeticOverflow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SharesForDeposit(tc.amount, uint256.NewInt(tc.totalAssets), tc.totalShares)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAssetsForWithdraw(t *testing.T) {
	tests := []struct {
		name        string
		shares      uint64
		totalAssets uint64
		totalShares uint64
		want        uint64
		wantErr     error
	}{
		{name: "zero shares", shares: 0, totalAssets: 100, totalShares: 100, wantErr: domain.ErrZeroShares},
		{name: "no shares outstanding", shares: 5, totalAssets: 100, totalShares: 0, wantErr: domain.ErrInsufficientLiquidity},
		{name: "all shares", shares: 100, totalAssets: 250, totalShares: 100, want: 250},
		{name: "rounds down", shares: 1, totalAssets: 10, totalShares: 3, want: 3},
		{name: "empty pool", shares: 10, totalAssets: 0, totalShares: 100, want: 0},
		{name: "down-cast overflow", shares: math.MaxUint64, totalAssets: math.MaxUint64, totalShares: 1, wantErr: domain.ErrArithmeticOverflow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := AssetsForWithdraw(tc.shares, uint256.NewInt(tc.totalAssets), tc.totalShares)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAssetsForWithdrawNilTotal(t *testing.T) {
	got, err := AssetsForWithdraw(10, nil, 100)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	assert.Zero(t, got)
}

func TestAssetsForWithdrawWideTotal(t *testing.T) {
	total, err := TotalAssets(math.MaxUint64, math.MaxUint64, 2)
	require.NoError(t, err)
	got, err := AssetsForWithdraw(1, total, 4)
	require.NoError(t, err)
	// (2^65 - 2 + 2) / 4 = 2^63
	assert.Equal(t, uint64(1)<<63, got)
}

func TestBootstrapMintsOneToOne(t *testing.T) {
	for _, amount := range []uint64{1, 7, 1_000_000, math.MaxUint64} {
		got, err := SharesForDeposit(amount, uint256.NewInt(12345), 0)
		require.NoError(t, err)
		assert.Equal(t, amount, got)
	}
}

func TestRoundTripFavoursPool(t *testing.T) {
	pools := []struct{ assets, shares uint64 }{
		{1000, 1000}, {1003, 1000}, {7, 3}, {999_999, 1}, {1 << 40, 1 << 20},
	}
	for _, pool := range pools {
		for _, amount := range []uint64{1, 2, 13, 997, 1 << 30} {
			shares, err := SharesForDeposit(amount, uint256.NewInt(pool.assets), pool.shares)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
				continue
			}
			total, err := TotalAssets(pool.assets, amount, 0)
			require.NoError(t, err)
			back, err := AssetsForWithdraw(shares, total, pool.shares+shares)
			require.NoError(t, err)
			assert.LessOrEqual(t, back, amount, "pool %+v amount %d", pool, amount)
		}
	}
}

func TestEqualDepositsMintEqualShares(t *testing.T) {
	assets, shares := uint64(5000), uint64(4000)
	first, err := SharesForDeposit(250, uint256.NewInt(assets), shares)
	require.NoError(t, err)
	second, err := SharesForDeposit(250, uint256.NewInt(assets), shares)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCheckedShareUpdates(t *testing.T) {
	_, err := AddShares(math.MaxUint64, 1)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	_, err = SubShares(1, 2)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)

	got, err := SubShares(10, 10)
	require.NoError(t, err)
	assert.Zero(t, got)
}
