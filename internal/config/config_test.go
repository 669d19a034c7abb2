package config

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-liquidity-sync/internal/solana"
)

func key(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return base58.Encode(sum[:])
}

func setAddresses(t *testing.T) {
	t.Helper()
	t.Setenv("POOL_ADDRESS", key("pool"))
	t.Setenv("TOKEN_MINT", key("mint"))
	t.Setenv("BUYBACK_ADDRESS", key("buyback"))
}

func TestLoad_DefaultsWithEnv(t *testing.T) {
	setAddresses(t)
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, key("pool"), cfg.Addresses.Pool)
	assert.Equal(t, solana.AssociatedTokenAccountProgramID, cfg.Addresses.AssociatedTokenProgram)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Cooldown)
	assert.Equal(t, 3*time.Minute, cfg.Sync.StuckThreshold)
	assert.Equal(t, 8.0, cfg.RPC.RequestsPerSecond)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)

	rl := cfg.RateLimited()
	assert.Equal(t, 3, rl.SignatureAttempts)
	assert.Equal(t, 2, rl.TransactionAttempts)
	assert.Equal(t, 5, rl.FanOut)
}

func TestLoad_YAMLThenEnvOverride(t *testing.T) {
	setAddresses(t)
	t.Setenv("SYNC_MAX_PAGES", "3")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
rpc:
  url: https://rpc.example.com
  requests_per_second: 5
sync:
  cooldown: 90s
  max_pages: 20
  excluded_signatures: [badsig]
storage:
  backend: memory
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://rpc.example.com", cfg.RPC.URL)
	assert.Equal(t, 5.0, cfg.RPC.RequestsPerSecond)
	assert.Equal(t, 90*time.Second, cfg.Sync.Cooldown)
	assert.Equal(t, 3, cfg.Sync.MaxPages)
	assert.Equal(t, []string{"badsig"}, cfg.Sync.ExcludedSignatures)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, 3*time.Minute, cfg.Sync.StuckThreshold)
}

func TestLoad_InvalidEnvNumber(t *testing.T) {
	setAddresses(t)
	t.Setenv("SYNC_MAX_PAGES", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNC_MAX_PAGES")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Addresses = Addresses{Pool: key("pool"), Mint: key("mint"), Buyback: key("buyback")}
		cfg.Storage.Backend = "memory"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing pool", func(c *Config) { c.Addresses.Pool = "" }},
		{"invalid mint", func(c *Config) { c.Addresses.Mint = "not-base58!" }},
		{"short buyback", func(c *Config) { c.Addresses.Buyback = base58.Encode([]byte("short")) }},
		{"bad ata program", func(c *Config) { c.Addresses.AssociatedTokenProgram = "xyz" }},
		{"zero rps", func(c *Config) { c.RPC.RequestsPerSecond = 0 }},
		{"page size too large", func(c *Config) { c.Sync.PageSize = 1001 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "cassandra" }},
		{"redis without url", func(c *Config) { c.Storage.Backend = "redis" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }},
		{"kafka without topic", func(c *Config) {
			c.Kafka.Brokers = []string{"k:9092"}
			c.Kafka.Topic = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
