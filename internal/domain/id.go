package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// IDLength is the byte width of every identity.
const IDLength = 32

// ID identifies a vault, position, reserve, feed, asset or holder.
type ID [IDLength]byte

// ZeroID is the unset identity.
var ZeroID ID

// IsZero reports whether id is unset.
func (id ID) IsZero() bool {
	return id == ZeroID
}

// Hex renders id as 0x-prefixed lowercase hex.
func (id ID) Hex() string {
	return hexutil.Encode(id[:])
}

func (id ID) String() string {
	return id.Hex()
}

// Bytes returns a copy of the raw identity bytes.
func (id ID) Bytes() []byte {
	out := make([]byte, IDLength)
	copy(out, id[:])
	return out
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID accepts a 32-byte hex identity or a 20-byte address, with or
// without the 0x prefix. Addresses are left-padded.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	switch len(raw) {
	case 2 * IDLength:
		b, err := hexutil.Decode("0x" + raw)
		if err != nil {
			return ZeroID, fmt.Errorf("domain: parse id %q: %w", s, err)
		}
		var id ID
		copy(id[:], b)
		return id, nil
	case 2 * common.AddressLength:
		if !common.IsHexAddress(raw) {
			return ZeroID, fmt.Errorf("domain: parse id %q: invalid address", s)
		}
		return IDFromAddress(common.HexToAddress(raw)), nil
	default:
		return ZeroID, fmt.Errorf("domain: parse id %q: want %d or %d hex characters, got %d",
			s, 2*IDLength, 2*common.AddressLength, len(raw))
	}
}

// MustParseID is ParseID for constants and tests.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IDFromAddress widens an account address into an identity.
func IDFromAddress(addr common.Address) ID {
	return ID(common.BytesToHash(addr.Bytes()))
}

// IDFromBytes copies b into an identity. Longer input is truncated from the left.
func IDFromBytes(b []byte) ID {
	return ID(common.BytesToHash(b))
}
