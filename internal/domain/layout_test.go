package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLengths(t *testing.T) {
	assert.Equal(t, 233, VaultRecordLen)
	assert.Equal(t, 81, PositionRecordLen)
}

func TestVaultRecordEncoding(t *testing.T) {
	v := Vault{
		Version:       VaultVersion,
		Bump:          254,
		AuthorityBump: 251,
		Asset:         MustParseID("0x00000000000000000000000000000000000000000000000000000000000000aa"),
		Reserves: [ReserveCount]ID{
			MustParseID("0x00000000000000000000000000000000000000000000000000000000000000a0"),
			MustParseID("0x00000000000000000000000000000000000000000000000000000000000000a1"),
			MustParseID("0x00000000000000000000000000000000000000000000000000000000000000a2"),
		},
		Oracle: OracleConfig{
			Authority:           MustParseID("0x3333333333333333333333333333333333333333"),
			Feed:                MustParseID("0x0000000000000000000000000000000000000000000000000000000000000f01"),
			MaxStalenessSeconds: 120,
			MaxConfidenceBps:    250,
		},
		OracleExpo:          -8,
		RouteThresholdPrice: -42,
		TotalShares:         1 << 40,
	}
	data, err := v.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, VaultRecordLen)
	assert.Equal(t, vaultDiscriminator[:], data[:DiscriminatorLength])

	var got Vault
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, v, got)
}

func TestPositionRecordEncoding(t *testing.T) {
	p := Position{
		Bump:   200,
		Vault:  MustParseID("0x00000000000000000000000000000000000000000000000000000000000000cc"),
		Holder: MustParseID("0x1111111111111111111111111111111111111111"),
		Shares: 987654321,
	}
	data, err := p.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, PositionRecordLen)

	var got Position
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, p, got)
}

func TestRecordDecodingRejectsForeignData(t *testing.T) {
	p, err := Position{Shares: 1}.MarshalBinary()
	require.NoError(t, err)

	var v Vault
	assert.Error(t, v.UnmarshalBinary(p), "wrong length")

	vaultBytes, err := Vault{}.MarshalBinary()
	require.NoError(t, err)
	vaultBytes[0] ^= 0xff
	assert.Error(t, v.UnmarshalBinary(vaultBytes), "wrong discriminator")
}
