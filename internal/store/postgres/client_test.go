package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/urbanium?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "urbanium"}))
	assert.Equal(t, "postgres://u:p@db:6432/urbanium?sslmode=require",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Port: 6432, Database: "urbanium", SSLMode: "require"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "  postgres://x ", Host: "ignored"}))
}

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, "001_vault.sql", ms[0].name)
	assert.Len(t, ms[0].checksum, 64)
	assert.Contains(t, ms[0].sql, "CREATE TABLE IF NOT EXISTS vaults")
}

func TestListQuery(t *testing.T) {
	opts := domain.ListOpts{Limit: 10, Offset: 20}
	query, args := listQuery(`SELECT id FROM positions WHERE vault = $1`, []any{"v"}, opts, "created_at, id")
	assert.Equal(t, `SELECT id FROM positions WHERE vault = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`, query)
	assert.Equal(t, []any{"v", 10, 20}, args)
}

func TestAuditVault(t *testing.T) {
	id := domain.MustParseID("0x00000000000000000000000000000000000000000000000000000000000000aa")
	assert.Equal(t, id.Bytes(), auditVault(map[string]any{"vault": id.Hex()}))
	assert.Nil(t, auditVault(map[string]any{"vault": "not-an-id"}))
	assert.Nil(t, auditVault(map[string]any{"n": 1}))
}
