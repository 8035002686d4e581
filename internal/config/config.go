// Package config defines the top-level configuration for the otcindex
// indexer and provides loading plus validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OTCINDEX_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Indexer  IndexerConfig  `toml:"indexer"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds the chain endpoints and the exchange contract address.
type LedgerConfig struct {
	RPCURL          string `toml:"rpc_url"`
	WSURL           string `toml:"ws_url"`
	ContractAddress string `toml:"contract_address"`
	ChainID         int64  `toml:"chain_id"`
	// Source names the checkpoint cursor for this contract. Each source has
	// exactly one logical writer at a time.
	Source string `toml:"source"`
}

// PostgresConfig holds PostgreSQL connection parameters. DSN, when set, takes
// precedence over the individual fields.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// IndexerConfig holds the sync pipeline parameters. The core sync fields are
// required and validated at startup.
type IndexerConfig struct {
	// PollInterval is how often the backfill loop checks for new blocks while
	// catching up to the chain head.
	PollInterval duration `toml:"poll_interval"`

	// MaxReconnectAttempts bounds consecutive listener reconnects before the
	// listener stops and surfaces a fatal error.
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`

	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay duration `toml:"reconnect_delay"`

	// BatchSize is the height span of one backfill batch.
	BatchSize uint64 `toml:"batch_size"`

	// GenesisHeight is where a fresh checkpoint starts.
	GenesisHeight uint64 `toml:"genesis_height"`

	// RPCTimeout bounds every ledger RPC issued by the backfill path.
	RPCTimeout duration `toml:"rpc_timeout"`

	// ReconcileInterval enables the periodic read-model vs ledger comparison
	// when > 0. ReconcileSample orders are re-read from the chain per run.
	ReconcileInterval duration `toml:"reconcile_interval"`
	ReconcileSample   int      `toml:"reconcile_sample"`

	// ArchiveInterval and ArchiveRetentionDays drive the cold-storage export
	// of aged fills and withdrawals. ArchiveInterval 0 disables it.
	ArchiveInterval      duration `toml:"archive_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
}

// ServerConfig holds HTTP server parameters. An empty APIKey disables
// authentication; RateLimitPerMinute 0 disables per-client rate limiting.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials. Events filters which
// alert kinds are delivered; an empty list delivers everything.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like "5s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			RPCURL:  "http://localhost:8545",
			WSURL:   "ws://localhost:8546",
			ChainID: 1,
			Source:  "otc-exchange",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "otcindex",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "otcindex-archive",
			ForcePathStyle: true,
		},
		Indexer: IndexerConfig{
			PollInterval:         duration{15 * time.Second},
			MaxReconnectAttempts: 5,
			ReconnectDelay:       duration{5 * time.Second},
			BatchSize:            100,
			GenesisHeight:        0,
			RPCTimeout:           duration{30 * time.Second},
			ReconcileInterval:    duration{30 * time.Minute},
			ReconcileSample:      50,
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"ordering_violation", "reconnect_exhausted", "reconcile_divergence", "error"},
		},
		Mode:     "index",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"index":    true,
	"listen":   true,
	"backfill": true,
	"monitor":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a single
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: index, listen, backfill, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if mode != "monitor" {
		if c.Ledger.ContractAddress == "" {
			errs = append(errs, "ledger: contract_address must not be empty")
		}
		if c.Ledger.RPCURL == "" {
			errs = append(errs, "ledger: rpc_url must not be empty")
		}
		if (mode == "listen" || mode == "index") && c.Ledger.WSURL == "" {
			errs = append(errs, "ledger: ws_url is required for live event subscription")
		}
		if c.Ledger.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("ledger: chain_id must be positive, got %d", c.Ledger.ChainID))
		}
		if strings.TrimSpace(c.Ledger.Source) == "" {
			errs = append(errs, "ledger: source must not be empty")
		}
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Indexer.ArchiveInterval.Duration > 0 {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Indexer.ArchiveRetentionDays < 1 {
			errs = append(errs, "indexer: archive_retention_days must be >= 1 when archiving is enabled")
		}
	}

	if c.Indexer.PollInterval.Duration <= 0 {
		errs = append(errs, "indexer: poll_interval must be > 0")
	}
	if c.Indexer.MaxReconnectAttempts < 1 {
		errs = append(errs, "indexer: max_reconnect_attempts must be >= 1")
	}
	if c.Indexer.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "indexer: reconnect_delay must be > 0")
	}
	if c.Indexer.BatchSize < 1 {
		errs = append(errs, "indexer: batch_size must be >= 1")
	}
	if c.Indexer.RPCTimeout.Duration <= 0 {
		errs = append(errs, "indexer: rpc_timeout must be > 0")
	}
	if c.Indexer.ReconcileInterval.Duration > 0 && c.Indexer.ReconcileSample < 1 {
		errs = append(errs, "indexer: reconcile_sample must be >= 1 when reconciliation is enabled")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "server: rate_limit_per_minute must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
