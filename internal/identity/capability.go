package identity

import (
	"github.com/alanyoungcy/urbanium/internal/domain"
)

// Capability authorizes transfers out of one vault's reserves. It carries
// no secret; it is valid only because it re-derives from the vault record.
type Capability struct {
	Vault     domain.ID
	Authority domain.ID
	Bump      uint8
}

// CheckVault verifies that v is stored under the identity derived from its
// asset and bump.
func CheckVault(v domain.Vault) error {
	if !Verify(v.ID, v.Bump, VaultSeeds(v.Asset)...) {
		return domain.ErrInvalidVault
	}
	return nil
}

// VaultCapability re-derives the vault authority from the record and
// returns the capability for it.
func VaultCapability(v domain.Vault) (Capability, error) {
	authority, err := CreateAddress(v.AuthorityBump, VaultAuthoritySeeds(v.ID)...)
	if err != nil {
		return Capability{}, domain.ErrInvalidVaultAuthority
	}
	return Capability{Vault: v.ID, Authority: authority, Bump: v.AuthorityBump}, nil
}

// CheckPosition verifies that p is the position of holder in vault.
func CheckPosition(p domain.Position, vault, holder domain.ID) error {
	if p.Vault != vault || p.Holder != holder {
		return domain.ErrInvalidPosition
	}
	if !Verify(p.ID, p.Bump, PositionSeeds(vault, holder)...) {
		return domain.ErrInvalidPosition
	}
	return nil
}
