package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

var (
	testAsset  = domain.MustParseID("0x00000000000000000000000000000000000000000000000000000000000000aa")
	testHolder = domain.MustParseID("0x1111111111111111111111111111111111111111")
)

func TestFindAddressDeterministic(t *testing.T) {
	a, bumpA := VaultAddress(testAsset)
	b, bumpB := VaultAddress(testAsset)
	assert.Equal(t, a, b)
	assert.Equal(t, bumpA, bumpB)
	assert.Zero(t, a[0]&0x80, "derived identities keep the top bit clear")
}

func TestFindAddressPicksHighestViableBump(t *testing.T) {
	id, bump := VaultAddress(testAsset)
	for b := 255; b > int(bump); b-- {
		_, err := CreateAddress(uint8(b), VaultSeeds(testAsset)...)
		assert.Error(t, err, "bump %d should not be viable", b)
	}
	got, err := CreateAddress(bump, VaultSeeds(testAsset)...)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestDistinctSeedsDistinctIdentities(t *testing.T) {
	vault, _ := VaultAddress(testAsset)
	authority, _ := VaultAuthorityAddress(vault)
	position, _ := PositionAddress(vault, testHolder)
	seen := map[domain.ID]string{
		vault:     "vault",
		authority: "authority",
		position:  "position",
	}
	for _, kind := range []domain.ReserveKind{domain.ReservePrimary, domain.ReserveYieldA, domain.ReserveYieldB} {
		id := ReserveAddress(vault, kind)
		_, dup := seen[id]
		assert.False(t, dup, "reserve %s collides", kind)
		seen[id] = kind.String()
	}
	wallet := WalletAddress(testHolder, testAsset)
	_, dup := seen[wallet]
	assert.False(t, dup)
}

func TestVerify(t *testing.T) {
	vault, bump := VaultAddress(testAsset)
	assert.True(t, Verify(vault, bump, VaultSeeds(testAsset)...))
	assert.False(t, Verify(vault, bump-1, VaultSeeds(testAsset)...))

	other := testAsset
	other[31] = 0xab
	assert.False(t, Verify(vault, bump, VaultSeeds(other)...))
}

func TestCheckVaultAndCapability(t *testing.T) {
	id, bump := VaultAddress(testAsset)
	authority, authBump := VaultAuthorityAddress(id)
	v := domain.Vault{ID: id, Bump: bump, AuthorityBump: authBump, Asset: testAsset}

	require.NoError(t, CheckVault(v))
	c, err := VaultCapability(v)
	require.NoError(t, err)
	assert.Equal(t, authority, c.Authority)
	assert.Equal(t, id, c.Vault)

	tampered := v
	tampered.Asset[0] = 0x01
	assert.ErrorIs(t, CheckVault(tampered), domain.ErrInvalidVault)
}

func TestCheckPosition(t *testing.T) {
	vault, _ := VaultAddress(testAsset)
	id, bump := PositionAddress(vault, testHolder)
	p := domain.Position{ID: id, Bump: bump, Vault: vault, Holder: testHolder}
	require.NoError(t, CheckPosition(p, vault, testHolder))

	stranger := domain.MustParseID("0x2222222222222222222222222222222222222222")
	assert.ErrorIs(t, CheckPosition(p, vault, stranger), domain.ErrInvalidPosition)

	p.Bump--
	assert.ErrorIs(t, CheckPosition(p, vault, testHolder), domain.ErrInvalidPosition)
}
