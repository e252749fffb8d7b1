package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

func reserves(balances ...uint64) []Reserve {
	ids := []domain.ID{primaryID, yieldAID, yieldBID}
	out := make([]Reserve, len(balances))
	for i, b := range balances {
		out[i] = Reserve{ID: ids[i], Balance: b}
	}
	return out
}

func TestDrain(t *testing.T) {
	tests := []struct {
		name          string
		balances      []uint64
		target        uint64
		wantSent      []uint64
		wantRemaining uint64
		wantErr       error
	}{
		{name: "skips empty reserve", balances: []uint64{10, 0, 5}, target: 12, wantSent: []uint64{10, 0, 2}},
		{name: "insufficient", balances: []uint64{3, 0, 0}, target: 12, wantSent: []uint64{3, 0, 0}, wantRemaining: 9, wantErr: domain.ErrInsufficientLiquidity},
		{name: "primary covers all", balances: []uint64{50, 50, 50}, target: 20, wantSent: []uint64{20, 0, 0}},
		{name: "primary then A", balances: []uint64{5, 10, 50}, target: 12, wantSent: []uint64{5, 7, 0}},
		{name: "exact total", balances: []uint64{1, 2, 3}, target: 6, wantSent: []uint64{1, 2, 3}},
		{name: "zero target", balances: []uint64{1, 2, 3}, target: 0, wantSent: []uint64{0, 0, 0}},
		{name: "all empty", balances: []uint64{0, 0, 0}, target: 1, wantSent: []uint64{0, 0, 0}, wantRemaining: 1, wantErr: domain.ErrInsufficientLiquidity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rs := reserves(tc.balances...)
			s := newRecordingSettler(rs...)
			res, err := Drain(context.Background(), s, holderID, tc.target, rs)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.wantSent, res.Sent)
			assert.Equal(t, tc.wantRemaining, res.Remaining)
			for _, tr := range s.transfers {
				assert.Equal(t, holderID, tr.to)
				assert.NotZero(t, tr.amount, "empty reserves are skipped")
			}
		})
	}
}

func TestDrainOrderIsFixed(t *testing.T) {
	rs := reserves(4, 4, 4)
	s := newRecordingSettler(rs...)
	_, err := Drain(context.Background(), s, holderID, 10, rs)
	require.NoError(t, err)
	require.Len(t, s.transfers, 3)
	assert.Equal(t, primaryID, s.transfers[0].from)
	assert.Equal(t, yieldAID, s.transfers[1].from)
	assert.Equal(t, yieldBID, s.transfers[2].from)
	assert.Equal(t, uint64(2), s.transfers[2].amount)
}

func TestDrainStopsOnSettlementError(t *testing.T) {
	rs := reserves(4, 4, 4)
	s := newRecordingSettler(rs...)
	s.failOn = yieldAID
	res, err := Drain(context.Background(), s, holderID, 10, rs)
	assert.EqualError(t, err, "settlement down")
	assert.Equal(t, []uint64{4, 0, 0}, res.Sent)
	assert.Equal(t, uint64(6), res.Remaining)
}
