package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/identity"
)

// snapshotMultipartThreshold is the snapshot size above which uploads go
// through the multipart manager.
const snapshotMultipartThreshold = 8 * 1024 * 1024

// VaultSource reads the vault whose positions are snapshotted.
type VaultSource interface {
	Get(ctx context.Context, id domain.ID) (domain.Vault, error)
}

// PositionSource lists the positions of a vault page by page.
type PositionSource interface {
	ListByVault(ctx context.Context, vault domain.ID, opts domain.ListOpts) ([]domain.Position, error)
}

// multipartWriter is implemented by Writer; fakes used in tests may omit it.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver implements domain.Archiver. It copies audit history and position
// snapshots into object storage.
//
// Archived audit rows are NOT deleted from the primary store. Pruning is a
// separate step once the archive has been verified.
type Archiver struct {
	writer    domain.BlobWriter
	vaults    VaultSource
	positions PositionSource
	audit     domain.AuditStore
	clock     domain.Clock
	pageSize  int
}

// NewArchiver creates an Archiver writing through w.
func NewArchiver(w domain.BlobWriter, vaults VaultSource, positions PositionSource, audit domain.AuditStore, clock domain.Clock) *Archiver {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Archiver{
		writer:    w,
		vaults:    vaults,
		positions: positions,
		audit:     audit,
		clock:     clock,
		pageSize:  500,
	}
}

// ArchiveAudit uploads every audit entry created before the cutoff to
// archive/audit/YYYY-MM.jsonl, oldest first, and records the archival in
// the audit log.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	var entries []domain.AuditEntry
	for offset := 0; ; offset += a.pageSize {
		page, err := a.audit.List(ctx, domain.ListOpts{Until: &before, Limit: a.pageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		entries = append(entries, page...)
		if len(page) < a.pageSize {
			break
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}
	// List is newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))
	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return count, nil
}

// SnapshotPositions writes the vault record followed by every position
// record of the vault, each in its fixed layout, and returns the object
// path.
func (a *Archiver) SnapshotPositions(ctx context.Context, vault domain.ID) (string, error) {
	v, err := a.vaults.Get(ctx, vault)
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot vault %s: %w", vault, err)
	}
	record, err := v.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot vault %s: %w", vault, err)
	}

	var buf bytes.Buffer
	buf.Write(record)
	count := 0
	for offset := 0; ; offset += a.pageSize {
		page, err := a.positions.ListByVault(ctx, vault, domain.ListOpts{Limit: a.pageSize, Offset: offset})
		if err != nil {
			return "", fmt.Errorf("s3blob: snapshot positions %s: %w", vault, err)
		}
		for _, p := range page {
			rec, err := p.MarshalBinary()
			if err != nil {
				return "", fmt.Errorf("s3blob: snapshot position %s: %w", p.ID, err)
			}
			buf.Write(rec)
		}
		count += len(page)
		if len(page) < a.pageSize {
			break
		}
	}

	path := snapshotPath(vault, a.clock.Now())
	body := bytes.NewReader(buf.Bytes())
	if mw, ok := a.writer.(multipartWriter); ok && buf.Len() > snapshotMultipartThreshold {
		err = mw.PutMultipart(ctx, path, body, snapshotMultipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, body, "application/octet-stream")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot upload: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"path":      path,
		"vault":     vault.Hex(),
		"positions": count,
	}); err != nil {
		return path, fmt.Errorf("s3blob: snapshot audit log: %w", err)
	}
	return path, nil
}

// archivePath partitions archive files by the year-month of the cutoff.
//
//	archive/audit/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// snapshotPath keys a snapshot by vault and capture time.
//
//	snapshots/positions/0xab.../20250102T150405Z.bin
func snapshotPath(vault domain.ID, at time.Time) string {
	return SnapshotPrefix(vault) + at.UTC().Format("20060102T150405Z") + ".bin"
}

// SnapshotPrefix is the path prefix under which a vault's snapshots live.
func SnapshotPrefix(vault domain.ID) string {
	return "snapshots/positions/" + vault.Hex() + "/"
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// ReadSnapshot decodes an object written by SnapshotPositions. Identities
// are re-derived since the records do not carry them.
func ReadSnapshot(r io.Reader) (domain.Vault, []domain.Position, error) {
	var v domain.Vault
	record := make([]byte, domain.VaultRecordLen)
	if _, err := io.ReadFull(r, record); err != nil {
		return v, nil, fmt.Errorf("s3blob: read snapshot vault: %w", err)
	}
	if err := v.UnmarshalBinary(record); err != nil {
		return v, nil, fmt.Errorf("s3blob: read snapshot vault: %w", err)
	}
	v.ID, _ = identity.VaultAddress(v.Asset)

	var positions []domain.Position
	record = make([]byte, domain.PositionRecordLen)
	for {
		_, err := io.ReadFull(r, record)
		if errors.Is(err, io.EOF) {
			return v, positions, nil
		}
		if err != nil {
			return v, nil, fmt.Errorf("s3blob: read snapshot position %d: %w", len(positions), err)
		}
		var p domain.Position
		if err := p.UnmarshalBinary(record); err != nil {
			return v, nil, fmt.Errorf("s3blob: read snapshot position %d: %w", len(positions), err)
		}
		p.ID, _ = identity.PositionAddress(v.ID, p.Holder)
		positions = append(positions, p)
	}
}

var (
	_ domain.Archiver   = (*Archiver)(nil)
	_ domain.BlobWriter = (*Writer)(nil)
	_ multipartWriter   = (*Writer)(nil)
)
