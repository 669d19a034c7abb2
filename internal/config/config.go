// Package config loads service configuration from a .env file, an optional
// YAML file and environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"solana-liquidity-sync/internal/logger"
	"solana-liquidity-sync/internal/solana"
)

// Config holds all configuration values.
type Config struct {
	Addresses Addresses      `yaml:"addresses"`
	RPC       RPCConfig      `yaml:"rpc"`
	Sync      SyncConfig     `yaml:"sync"`
	Storage   StorageConfig  `yaml:"storage"`
	Kafka     KafkaConfig    `yaml:"kafka"`
	Pricing   PricingConfig  `yaml:"pricing"`
	Server    ServerConfig   `yaml:"server"`
	Log       logger.Options `yaml:"log"`
}

// Addresses are the tracked on-chain accounts.
type Addresses struct {
	Pool    string `yaml:"pool"`
	Mint    string `yaml:"mint"`
	Buyback string `yaml:"buyback"`

	// AssociatedTokenProgram enables derived token account resolution. It
	// defaults to the mainnet program; an empty value turns resolution off.
	AssociatedTokenProgram string `yaml:"associated_token_program"`
}

// RPCConfig configures the upstream client.
type RPCConfig struct {
	URL                 string               `yaml:"url"`
	WSURL               string               `yaml:"ws_url"`
	Timeout             time.Duration        `yaml:"timeout"`
	RequestsPerSecond   float64              `yaml:"requests_per_second"`
	SignatureAttempts   int                  `yaml:"signature_attempts"`
	TransactionAttempts int                  `yaml:"transaction_attempts"`
	StatusAttempts      int                  `yaml:"status_attempts"`
	RetryBaseDelay      time.Duration        `yaml:"retry_base_delay"`
	MaxRetryDelay       time.Duration        `yaml:"max_retry_delay"`
	FanOut              int                  `yaml:"fan_out"`
	InterBatchDelay     time.Duration        `yaml:"inter_batch_delay"`
	ErrorPatterns       solana.ErrorPatterns `yaml:"error_patterns"`
}

// SyncConfig configures sync runs.
type SyncConfig struct {
	Cooldown           time.Duration `yaml:"cooldown"`
	StuckThreshold     time.Duration `yaml:"stuck_threshold"`
	PageSize           int           `yaml:"page_size"`
	MaxPages           int           `yaml:"max_pages"`
	MaxTransactions    int           `yaml:"max_transactions"`
	DefaultTarget      int           `yaml:"default_target"`
	Interval           time.Duration `yaml:"interval"`
	Watch              bool          `yaml:"watch"`
	ExcludedSignatures []string      `yaml:"excluded_signatures"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend       string      `yaml:"backend"` // memory, file, postgres, s3, redis
	Dir           string      `yaml:"dir"`
	PostgresDSN   string      `yaml:"postgres_dsn"`
	ClickhouseDSN string      `yaml:"clickhouse_dsn"`
	S3            S3Config    `yaml:"s3"`
	Redis         RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// S3Config configures the object store backend.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// KafkaConfig configures event publishing. Empty brokers disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// PricingConfig configures the SOL/USD price source.
type PricingConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	rl := solana.DefaultRateLimitedConfig()
	return &Config{
		Addresses: Addresses{
			AssociatedTokenProgram: solana.AssociatedTokenAccountProgramID,
		},
		RPC: RPCConfig{
			URL:                 "https://api.mainnet-beta.solana.com",
			Timeout:             solana.DefaultTimeout,
			RequestsPerSecond:   rl.RequestsPerSecond,
			SignatureAttempts:   rl.SignatureAttempts,
			TransactionAttempts: rl.TransactionAttempts,
			StatusAttempts:      rl.StatusAttempts,
			RetryBaseDelay:      rl.RetryBaseDelay,
			MaxRetryDelay:       rl.MaxRetryDelay,
			FanOut:              rl.FanOut,
			InterBatchDelay:     rl.InterBatchDelay,
			ErrorPatterns:       solana.DefaultErrorPatterns(),
		},
		Sync: SyncConfig{
			Cooldown:        2 * time.Minute,
			StuckThreshold:  3 * time.Minute,
			PageSize:        solana.MaxSignatureLimit,
			MaxPages:        10,
			MaxTransactions: 500,
			DefaultTarget:   50,
			Interval:        10 * time.Minute,
		},
		Storage: StorageConfig{
			Backend: "file",
			Dir:     "./data",
		},
		Kafka: KafkaConfig{
			Topic: "liquidity-events",
		},
		Pricing: PricingConfig{
			URL:     "https://api.coingecko.com/api/v3",
			Timeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: logger.Options{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads configuration. Priority order:
// environment variables > YAML file (when path is set) > .env file > defaults.
func Load(path string) (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Addresses.Pool = getEnv("POOL_ADDRESS", c.Addresses.Pool)
	c.Addresses.Mint = getEnv("TOKEN_MINT", c.Addresses.Mint)
	c.Addresses.Buyback = getEnv("BUYBACK_ADDRESS", c.Addresses.Buyback)
	c.Addresses.AssociatedTokenProgram = getEnv("ASSOCIATED_TOKEN_PROGRAM_ID", c.Addresses.AssociatedTokenProgram)

	c.RPC.URL = getEnv("RPC_URL", c.RPC.URL)
	c.RPC.WSURL = getEnv("WS_URL", c.RPC.WSURL)

	var err error
	if c.RPC.RequestsPerSecond, err = getEnvFloat("RPC_REQUESTS_PER_SECOND", c.RPC.RequestsPerSecond); err != nil {
		return err
	}
	if c.RPC.FanOut, err = getEnvInt("RPC_FAN_OUT", c.RPC.FanOut); err != nil {
		return err
	}
	if c.RPC.Timeout, err = getEnvDuration("RPC_TIMEOUT", c.RPC.Timeout); err != nil {
		return err
	}

	if c.Sync.Cooldown, err = getEnvDuration("SYNC_COOLDOWN", c.Sync.Cooldown); err != nil {
		return err
	}
	if c.Sync.StuckThreshold, err = getEnvDuration("SYNC_STUCK_THRESHOLD", c.Sync.StuckThreshold); err != nil {
		return err
	}
	if c.Sync.MaxPages, err = getEnvInt("SYNC_MAX_PAGES", c.Sync.MaxPages); err != nil {
		return err
	}
	if c.Sync.MaxTransactions, err = getEnvInt("SYNC_MAX_TRANSACTIONS", c.Sync.MaxTransactions); err != nil {
		return err
	}
	if c.Sync.DefaultTarget, err = getEnvInt("SYNC_DEFAULT_TARGET", c.Sync.DefaultTarget); err != nil {
		return err
	}
	if c.Sync.Interval, err = getEnvDuration("SYNC_INTERVAL", c.Sync.Interval); err != nil {
		return err
	}
	if c.Sync.Watch, err = getEnvBool("SYNC_WATCH", c.Sync.Watch); err != nil {
		return err
	}
	c.Sync.ExcludedSignatures = getEnvList("EXCLUDED_SIGNATURES", c.Sync.ExcludedSignatures)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Dir = getEnv("STORAGE_DIR", c.Storage.Dir)
	c.Storage.PostgresDSN = getEnv("POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Storage.ClickhouseDSN = getEnv("CLICKHOUSE_DSN", c.Storage.ClickhouseDSN)
	c.Storage.S3.Bucket = getEnv("S3_BUCKET", c.Storage.S3.Bucket)
	c.Storage.S3.Prefix = getEnv("S3_PREFIX", c.Storage.S3.Prefix)
	c.Storage.S3.Region = getEnv("AWS_REGION", c.Storage.S3.Region)
	c.Storage.S3.Endpoint = getEnv("S3_ENDPOINT", c.Storage.S3.Endpoint)
	c.Storage.S3.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", c.Storage.S3.AccessKeyID)
	c.Storage.S3.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", c.Storage.S3.SecretAccessKey)
	c.Storage.Redis.URL = getEnv("REDIS_URL", c.Storage.Redis.URL)
	c.Storage.Redis.Prefix = getEnv("REDIS_PREFIX", c.Storage.Redis.Prefix)
	if c.Storage.S3.UsePathStyle, err = getEnvBool("S3_USE_PATH_STYLE", c.Storage.S3.UsePathStyle); err != nil {
		return err
	}

	c.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)

	if c.Pricing.Enabled, err = getEnvBool("PRICING_ENABLED", c.Pricing.Enabled); err != nil {
		return err
	}
	c.Pricing.URL = getEnv("PRICING_URL", c.Pricing.URL)

	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)
	c.Server.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.Output = getEnv("LOG_OUTPUT", c.Log.Output)
	return nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	for name, addr := range map[string]string{
		"POOL_ADDRESS":    c.Addresses.Pool,
		"TOKEN_MINT":      c.Addresses.Mint,
		"BUYBACK_ADDRESS": c.Addresses.Buyback,
	} {
		if addr == "" {
			return fmt.Errorf("%s is required", name)
		}
		if _, err := solana.DecodePublicKey(addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Addresses.AssociatedTokenProgram != "" {
		if _, err := solana.DecodePublicKey(c.Addresses.AssociatedTokenProgram); err != nil {
			return fmt.Errorf("ASSOCIATED_TOKEN_PROGRAM_ID: %w", err)
		}
	}

	if c.RPC.URL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.RPC.RequestsPerSecond <= 0 {
		return fmt.Errorf("RPC_REQUESTS_PER_SECOND must be positive")
	}
	if c.RPC.FanOut <= 0 {
		return fmt.Errorf("RPC_FAN_OUT must be positive")
	}

	if c.Sync.PageSize <= 0 || c.Sync.PageSize > solana.MaxSignatureLimit {
		return fmt.Errorf("sync page size must be in 1..%d", solana.MaxSignatureLimit)
	}
	if c.Sync.Cooldown < 0 || c.Sync.StuckThreshold <= 0 {
		return fmt.Errorf("sync cooldown must be non-negative and stuck threshold positive")
	}
	if c.Sync.MaxPages < 0 || c.Sync.MaxTransactions < 0 {
		return fmt.Errorf("sync budgets must be non-negative")
	}

	switch c.Storage.Backend {
	case "memory":
	case "file":
		if c.Storage.Dir == "" {
			return fmt.Errorf("STORAGE_DIR is required for the file backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("AWS_REGION is required for the s3 backend")
		}
	case "redis":
		if c.Storage.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// RateLimited returns the upstream client settings.
func (c *Config) RateLimited() solana.RateLimitedConfig {
	return solana.RateLimitedConfig{
		RequestsPerSecond:   c.RPC.RequestsPerSecond,
		SignatureAttempts:   c.RPC.SignatureAttempts,
		TransactionAttempts: c.RPC.TransactionAttempts,
		StatusAttempts:      c.RPC.StatusAttempts,
		RetryBaseDelay:      c.RPC.RetryBaseDelay,
		MaxRetryDelay:       c.RPC.MaxRetryDelay,
		FanOut:              c.RPC.FanOut,
		InterBatchDelay:     c.RPC.InterBatchDelay,
		Patterns:            c.RPC.ErrorPatterns,
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
