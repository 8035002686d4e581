package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads configuration from the TOML file at path, applies OTCINDEX_*
// environment overrides, and validates the result. A .env file in the working
// directory is loaded first when present so local development does not need
// exported variables.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets environment variables win over file values, which
// keeps secrets out of the TOML file in deployments.
func applyEnvOverrides(cfg *Config) {
	setStr("OTCINDEX_MODE", &cfg.Mode)
	setStr("OTCINDEX_LOG_LEVEL", &cfg.LogLevel)

	setStr("OTCINDEX_LEDGER_RPC_URL", &cfg.Ledger.RPCURL)
	setStr("OTCINDEX_LEDGER_WS_URL", &cfg.Ledger.WSURL)
	setStr("OTCINDEX_LEDGER_CONTRACT_ADDRESS", &cfg.Ledger.ContractAddress)
	setInt64("OTCINDEX_LEDGER_CHAIN_ID", &cfg.Ledger.ChainID)
	setStr("OTCINDEX_LEDGER_SOURCE", &cfg.Ledger.Source)

	setStr("OTCINDEX_POSTGRES_DSN", &cfg.Postgres.DSN)
	setStr("OTCINDEX_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("OTCINDEX_POSTGRES_PORT", &cfg.Postgres.Port)
	setStr("OTCINDEX_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setStr("OTCINDEX_POSTGRES_USER", &cfg.Postgres.User)
	setStr("OTCINDEX_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setBool("OTCINDEX_POSTGRES_RUN_MIGRATIONS", &cfg.Postgres.RunMigrations)

	setStr("OTCINDEX_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("OTCINDEX_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("OTCINDEX_REDIS_DB", &cfg.Redis.DB)
	setBool("OTCINDEX_REDIS_TLS_ENABLED", &cfg.Redis.TLSEnabled)

	setStr("OTCINDEX_S3_ENDPOINT", &cfg.S3.Endpoint)
	setStr("OTCINDEX_S3_REGION", &cfg.S3.Region)
	setStr("OTCINDEX_S3_BUCKET", &cfg.S3.Bucket)
	setStr("OTCINDEX_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	setStr("OTCINDEX_S3_SECRET_KEY", &cfg.S3.SecretKey)

	setDuration("OTCINDEX_POLL_INTERVAL", &cfg.Indexer.PollInterval)
	setInt("OTCINDEX_MAX_RECONNECT_ATTEMPTS", &cfg.Indexer.MaxReconnectAttempts)
	setDuration("OTCINDEX_RECONNECT_DELAY", &cfg.Indexer.ReconnectDelay)
	setUint64("OTCINDEX_BATCH_SIZE", &cfg.Indexer.BatchSize)
	setUint64("OTCINDEX_GENESIS_HEIGHT", &cfg.Indexer.GenesisHeight)
	setDuration("OTCINDEX_RPC_TIMEOUT", &cfg.Indexer.RPCTimeout)

	setBool("OTCINDEX_SERVER_ENABLED", &cfg.Server.Enabled)
	setInt("OTCINDEX_SERVER_PORT", &cfg.Server.Port)
	setStr("OTCINDEX_SERVER_API_KEY", &cfg.Server.APIKey)
	setInt("OTCINDEX_SERVER_RATE_LIMIT_PER_MINUTE", &cfg.Server.RateLimitPerMinute)

	setStr("OTCINDEX_TELEGRAM_TOKEN", &cfg.Notify.TelegramToken)
	setStr("OTCINDEX_TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)
	setStr("OTCINDEX_DISCORD_WEBHOOK_URL", &cfg.Notify.DiscordWebhookURL)
}

func setStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(key string, dst *uint64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}

func setDuration(key string, dst *duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
