package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/identity"
	"github.com/alanyoungcy/urbanium/internal/store/memory"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type putCall struct {
	path        string
	body        []byte
	contentType string
}

type fakeWriter struct {
	puts []putCall
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.puts = append(w.puts, putCall{path: path, body: b, contentType: contentType})
	return nil
}

func TestArchiveAudit(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)}
	audit := memory.NewAuditStore(clock)
	require.NoError(t, audit.Log(ctx, "vault.deposit", map[string]any{"n": 1}))
	clock.t = clock.t.Add(time.Hour)
	require.NoError(t, audit.Log(ctx, "vault.withdraw", map[string]any{"n": 2}))
	clock.t = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, audit.Log(ctx, "vault.route", map[string]any{"n": 3}))

	store := memory.New(clock)
	w := &fakeWriter{}
	a := NewArchiver(w, store.Vaults(), store.Positions(), audit, clock)
	a.pageSize = 1

	before := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveAudit(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, w.puts, 1)
	assert.Equal(t, "archive/audit/2025-01.jsonl", w.puts[0].path)
	assert.Equal(t, "application/x-ndjson", w.puts[0].contentType)

	lines := strings.Split(strings.TrimSpace(string(w.puts[0].body)), "\n")
	require.Len(t, lines, 2)
	var first domain.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "vault.deposit", first.Event)

	entries, err := audit.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "archive.audit", entries[0].Event)
	assert.Equal(t, "archive/audit/2025-01.jsonl", entries[0].Detail["path"])
}

func TestArchiveAuditEmpty(t *testing.T) {
	clock := &fixedClock{t: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)}
	w := &fakeWriter{}
	store := memory.New(clock)
	a := NewArchiver(w, store.Vaults(), store.Positions(), memory.NewAuditStore(clock), clock)

	n, err := a.ArchiveAudit(context.Background(), clock.t)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.puts)
}

func TestSnapshotPositionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{t: time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)}
	store := memory.New(clock)
	audit := memory.NewAuditStore(clock)

	asset := domain.MustParseID("0x00000000000000000000000000000000000000000000000000000000000000aa")
	vaultID, bump := identity.VaultAddress(asset)
	v := domain.Vault{ID: vaultID, Version: domain.VaultVersion, Bump: bump, Asset: asset, TotalShares: 30}
	require.NoError(t, store.Vaults().Create(ctx, v))

	holders := []domain.ID{
		domain.MustParseID("0x1111111111111111111111111111111111111111"),
		domain.MustParseID("0x2222222222222222222222222222222222222222"),
	}
	for i, h := range holders {
		id, pb := identity.PositionAddress(vaultID, h)
		require.NoError(t, store.Positions().Create(ctx, domain.Position{
			ID: id, Bump: pb, Vault: vaultID, Holder: h, Shares: uint64(10 * (i + 1)),
		}))
	}

	w := &fakeWriter{}
	a := NewArchiver(w, store.Vaults(), store.Positions(), audit, clock)
	path, err := a.SnapshotPositions(ctx, vaultID)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/positions/"+vaultID.Hex()+"/20250304T050607Z.bin", path)

	require.Len(t, w.puts, 1)
	body := w.puts[0].body
	assert.Len(t, body, domain.VaultRecordLen+2*domain.PositionRecordLen)

	gotVault, positions, err := ReadSnapshot(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, vaultID, gotVault.ID)
	assert.Equal(t, uint64(30), gotVault.TotalShares)
	require.Len(t, positions, 2)

	var total uint64
	for _, p := range positions {
		want, _ := identity.PositionAddress(vaultID, p.Holder)
		assert.Equal(t, want, p.ID)
		total += p.Shares
	}
	assert.Equal(t, uint64(30), total)
}

func TestSnapshotPositionsUnknownVault(t *testing.T) {
	clock := &fixedClock{t: time.Now()}
	store := memory.New(clock)
	a := NewArchiver(&fakeWriter{}, store.Vaults(), store.Positions(), memory.NewAuditStore(clock), clock)

	_, err := a.SnapshotPositions(context.Background(), domain.MustParseID("0x5555555555555555555555555555555555555555"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReadSnapshotTruncated(t *testing.T) {
	v := domain.Vault{Version: domain.VaultVersion}
	rec, err := v.MarshalBinary()
	require.NoError(t, err)
	body := append(rec, 0x01, 0x02)

	_, _, err = ReadSnapshot(bytes.NewReader(body))
	assert.Error(t, err)
}

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: normalisePrefix("/urbanium/prod/")}
	assert.Equal(t, "urbanium/prod/archive/audit/2025-01.jsonl", c.key("archive/audit/2025-01.jsonl"))
	assert.Equal(t, "archive/audit/2025-01.jsonl", c.path("urbanium/prod/archive/audit/2025-01.jsonl"))
	assert.Equal(t, "", normalisePrefix(""))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}
