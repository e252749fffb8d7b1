package domain

import (
	"encoding/binary"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DiscriminatorLength prefixes every encoded record.
const DiscriminatorLength = 8

// Encoded record lengths, discriminator included.
const (
	VaultRecordLen    = DiscriminatorLength + 1 + 1 + 1 + IDLength*6 + 4 + 8 + 2 + 8 + 8
	PositionRecordLen = DiscriminatorLength + 1 + IDLength + IDLength + 8
)

var (
	vaultDiscriminator    = discriminator("account:Vault")
	positionDiscriminator = discriminator("account:UserPosition")
)

func discriminator(name string) [DiscriminatorLength]byte {
	var d [DiscriminatorLength]byte
	copy(d[:], ethcrypto.Keccak256([]byte(name)))
	return d
}

// recordWriter appends little-endian fields into a fixed buffer.
type recordWriter struct {
	buf []byte
	off int
}

func (w *recordWriter) bytes(b []byte) { w.off += copy(w.buf[w.off:], b) }
func (w *recordWriter) u8(v uint8)     { w.buf[w.off] = v; w.off++ }
func (w *recordWriter) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[w.off:], v)
	w.off += 2
}
func (w *recordWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}
func (w *recordWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
}

type recordReader struct {
	buf []byte
	off int
}

func (r *recordReader) id() ID {
	var id ID
	r.off += copy(id[:], r.buf[r.off:r.off+IDLength])
	return id
}
func (r *recordReader) u8() uint8 { v := r.buf[r.off]; r.off++; return v }
func (r *recordReader) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}
func (r *recordReader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}
func (r *recordReader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

// MarshalBinary encodes the persisted fields of v in the fixed vault layout.
// The record identity and timestamps are not part of the layout.
func (v Vault) MarshalBinary() ([]byte, error) {
	w := &recordWriter{buf: make([]byte, VaultRecordLen)}
	w.bytes(vaultDiscriminator[:])
	w.u8(v.Version)
	w.u8(v.Bump)
	w.u8(v.AuthorityBump)
	w.bytes(v.Asset[:])
	for _, r := range v.Reserves {
		w.bytes(r[:])
	}
	w.bytes(v.Oracle.Authority[:])
	w.bytes(v.Oracle.Feed[:])
	w.u32(uint32(v.OracleExpo))
	w.u64(v.Oracle.MaxStalenessSeconds)
	w.u16(v.Oracle.MaxConfidenceBps)
	w.u64(uint64(v.RouteThresholdPrice))
	w.u64(v.TotalShares)
	return w.buf, nil
}

// UnmarshalBinary decodes a vault record produced by MarshalBinary.
func (v *Vault) UnmarshalBinary(data []byte) error {
	if len(data) != VaultRecordLen {
		return fmt.Errorf("domain: vault record length %d, want %d", len(data), VaultRecordLen)
	}
	if [DiscriminatorLength]byte(data[:DiscriminatorLength]) != vaultDiscriminator {
		return fmt.Errorf("domain: vault record discriminator mismatch")
	}
	r := &recordReader{buf: data, off: DiscriminatorLength}
	v.Version = r.u8()
	v.Bump = r.u8()
	v.AuthorityBump = r.u8()
	v.Asset = r.id()
	for i := range v.Reserves {
		v.Reserves[i] = r.id()
	}
	v.Oracle.Authority = r.id()
	v.Oracle.Feed = r.id()
	v.OracleExpo = int32(r.u32())
	v.Oracle.MaxStalenessSeconds = r.u64()
	v.Oracle.MaxConfidenceBps = r.u16()
	v.RouteThresholdPrice = int64(r.u64())
	v.TotalShares = r.u64()
	return nil
}

// MarshalBinary encodes p in the fixed position layout.
func (p Position) MarshalBinary() ([]byte, error) {
	w := &recordWriter{buf: make([]byte, PositionRecordLen)}
	w.bytes(positionDiscriminator[:])
	w.u8(p.Bump)
	w.bytes(p.Vault[:])
	w.bytes(p.Holder[:])
	w.u64(p.Shares)
	return w.buf, nil
}

// UnmarshalBinary decodes a position record produced by MarshalBinary.
func (p *Position) UnmarshalBinary(data []byte) error {
	if len(data) != PositionRecordLen {
		return fmt.Errorf("domain: position record length %d, want %d", len(data), PositionRecordLen)
	}
	if [DiscriminatorLength]byte(data[:DiscriminatorLength]) != positionDiscriminator {
		return fmt.Errorf("domain: position record discriminator mismatch")
	}
	r := &recordReader{buf: data, off: DiscriminatorLength}
	p.Bump = r.u8()
	p.Vault = r.id()
	p.Holder = r.id()
	p.Shares = r.u64()
	return nil
}
