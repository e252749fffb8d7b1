package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testFeed      = "0x0000000000000000000000000000000000000000000000000000000000000f01"
	testPublisher = "0x3333333333333333333333333333333333333333"
	testVault     = "0x00000000000000000000000000000000000000000000000000000000000000aa"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.RunsServer())
	assert.True(t, cfg.RunsWorkers())
	assert.False(t, cfg.UsesPostgres())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urbanium.toml")
	body := `
mode = "api"
store = "postgres"

[database]
dsn = "postgres://u:p@db:5432/urbanium"

[server]
port = 9000
rate_window = "30s"

[oracle]
enabled = true
feeds = ["` + testFeed + `"]
publisher = "` + testPublisher + `"
interval = "2s"

[[keeper.targets]]
vault = "` + testVault + `"
bps = 2500
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("URBANIUM_SERVER_PORT", "9100")
	t.Setenv("URBANIUM_REDIS_ADDR", "cache:6379")
	t.Setenv("URBANIUM_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("URBANIUM_LOCK_TTL", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "api", cfg.Mode)
	assert.True(t, cfg.UsesPostgres())
	assert.False(t, cfg.RunsWorkers())
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RateWindow.Duration)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 3*time.Second, cfg.Lock.TTL.Duration)
	assert.Equal(t, 2*time.Second, cfg.Oracle.Interval.Duration)
	require.Len(t, cfg.Keeper.Targets, 1)
	assert.Equal(t, uint16(2500), cfg.Keeper.Targets[0].Bps)

	feeds, err := cfg.FeedIDs()
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, testFeed, feeds[0].Hex())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Store = "sqlite"
	cfg.Oracle.Enabled = true
	cfg.Oracle.Feeds = []string{"nope"}
	cfg.Keeper.Enabled = true
	cfg.Keeper.EncryptedKeyPath = "/keys/executor.json"
	cfg.Keeper.Targets = []KeeperTarget{{Vault: testVault}}
	cfg.Archive.Enabled = true
	cfg.Lock.TTL.Duration = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown store "sqlite"`,
		`oracle: feed "nope"`,
		"oracle: publisher",
		"keeper: key_password is required",
		"keeper: targets[0]: set amount or bps",
		"archive: requires store",
		"lock: ttl must be > 0",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Password = "pg-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-secret"
	cfg.Keeper.PrivateKey = "0xdeadbeef"
	cfg.Oracle.Feeds = []string{testFeed}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Database.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Keeper.PrivateKey)
	assert.Empty(t, out.Keeper.KeyPassword)

	out.Oracle.Feeds[0] = "changed"
	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, testFeed, cfg.Oracle.Feeds[0])
	assert.Equal(t, "pg-secret", cfg.Database.Password)
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
