package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// routeIntentTag separates route intents from any other signed payload.
const routeIntentTag = "urbanium/route-intent/v1"

// Signer holds the executor key. Its identity is the widened address of
// the key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner parses a hex secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// ID is the executor identity used for routing.
func (s *Signer) ID() domain.ID {
	return domain.IDFromAddress(s.address)
}

// RouteIntentHash is the digest signed to authorize routing amount of
// vault at unix time ts.
func RouteIntentHash(vault domain.ID, amount uint64, ts int64) []byte {
	buf := make([]byte, 0, len(routeIntentTag)+domain.IDLength+16)
	buf = append(buf, routeIntentTag...)
	buf = append(buf, vault[:]...)
	buf = binary.BigEndian.AppendUint64(buf, amount)
	buf = binary.BigEndian.AppendUint64(buf, uint64(ts))
	return ethcrypto.Keccak256(buf)
}

// SignRoute returns a 65-byte [R || S || V] signature over the route intent.
func (s *Signer) SignRoute(vault domain.ID, amount uint64, ts int64) ([]byte, error) {
	sig, err := ethcrypto.Sign(RouteIntentHash(vault, amount, ts), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign route: %w", err)
	}
	return sig, nil
}

// RecoverRouteSigner returns the identity that produced sig over the route
// intent.
func RecoverRouteSigner(vault domain.ID, amount uint64, ts int64, sig []byte) (domain.ID, error) {
	if len(sig) != ethcrypto.SignatureLength {
		return domain.ZeroID, fmt.Errorf("crypto/signer: signature length %d, want %d", len(sig), ethcrypto.SignatureLength)
	}
	pub, err := ethcrypto.SigToPub(RouteIntentHash(vault, amount, ts), sig)
	if err != nil {
		return domain.ZeroID, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return domain.IDFromAddress(ethcrypto.PubkeyToAddress(*pub)), nil
}
