// Package identity derives the deterministic identities of vault records,
// reserves and holder wallets, and the capability a vault uses to move
// funds out of its reserves.
package identity

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// Seed prefixes. Changing any of them re-keys every record.
var (
	VaultSeed          = []byte("urbanium_vault")
	VaultAuthoritySeed = []byte("urbanium_vault_authority")
	PositionSeed       = []byte("urbanium_user_position")
	ReserveSeed        = []byte("urbanium_reserve")
	WalletSeed         = []byte("urbanium_wallet")
)

// derivationTag separates derived identities from any other keccak use.
var derivationTag = []byte("urbanium/derived-identity")

// CreateAddress hashes seeds and bump into an identity. It fails when the
// candidate lands in the reserved half of the space (top bit set), in which
// case the caller must try another bump.
func CreateAddress(bump uint8, seeds ...[]byte) (domain.ID, error) {
	parts := make([][]byte, 0, len(seeds)+2)
	parts = append(parts, seeds...)
	parts = append(parts, []byte{bump}, derivationTag)
	h := ethcrypto.Keccak256(parts...)
	if h[0]&0x80 != 0 {
		return domain.ZeroID, fmt.Errorf("identity: bump %d is not viable", bump)
	}
	return domain.IDFromBytes(h), nil
}

// FindAddress searches bumps from 255 down and returns the first viable
// identity. Every seed set has a viable bump with overwhelming probability;
// exhausting all 256 indicates a broken hash and panics.
func FindAddress(seeds ...[]byte) (domain.ID, uint8) {
	for bump := 255; bump >= 0; bump-- {
		id, err := CreateAddress(uint8(bump), seeds...)
		if err == nil {
			return id, uint8(bump)
		}
	}
	panic("identity: no viable bump")
}

// Verify reports whether id is the identity derived from seeds with bump.
func Verify(id domain.ID, bump uint8, seeds ...[]byte) bool {
	got, err := CreateAddress(bump, seeds...)
	return err == nil && got == id
}

func VaultSeeds(asset domain.ID) [][]byte {
	return [][]byte{VaultSeed, asset[:]}
}

func VaultAuthoritySeeds(vault domain.ID) [][]byte {
	return [][]byte{VaultAuthoritySeed, vault[:]}
}

func PositionSeeds(vault, holder domain.ID) [][]byte {
	return [][]byte{PositionSeed, vault[:], holder[:]}
}

func ReserveSeeds(vault domain.ID, kind domain.ReserveKind) [][]byte {
	return [][]byte{ReserveSeed, vault[:], {byte(kind)}}
}

func WalletSeeds(holder, asset domain.ID) [][]byte {
	return [][]byte{WalletSeed, holder[:], asset[:]}
}

// VaultAddress is the vault record identity for asset.
func VaultAddress(asset domain.ID) (domain.ID, uint8) {
	return FindAddress(VaultSeeds(asset)...)
}

// VaultAuthorityAddress is the identity that owns a vault's reserves.
func VaultAuthorityAddress(vault domain.ID) (domain.ID, uint8) {
	return FindAddress(VaultAuthoritySeeds(vault)...)
}

// PositionAddress is the position record identity for holder in vault.
func PositionAddress(vault, holder domain.ID) (domain.ID, uint8) {
	return FindAddress(PositionSeeds(vault, holder)...)
}

// ReserveAddress is the default reserve account identity for kind.
func ReserveAddress(vault domain.ID, kind domain.ReserveKind) domain.ID {
	id, _ := FindAddress(ReserveSeeds(vault, kind)...)
	return id
}

// WalletAddress is the holder's ledger account for asset.
func WalletAddress(holder, asset domain.ID) domain.ID {
	id, _ := FindAddress(WalletSeeds(holder, asset)...)
	return id
}
