package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Ledger.ContractAddress = "0x1111111111111111111111111111111111111111"
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with contract address should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing contract address",
			mutate:  func(c *Config) { c.Ledger.ContractAddress = "" },
			wantErr: "contract_address",
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "replay" },
			wantErr: "unknown mode",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Indexer.PollInterval = duration{0} },
			wantErr: "poll_interval",
		},
		{
			name:    "zero reconnect attempts",
			mutate:  func(c *Config) { c.Indexer.MaxReconnectAttempts = 0 },
			wantErr: "max_reconnect_attempts",
		},
		{
			name:    "zero reconnect delay",
			mutate:  func(c *Config) { c.Indexer.ReconnectDelay = duration{0} },
			wantErr: "reconnect_delay",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Indexer.BatchSize = 0 },
			wantErr: "batch_size",
		},
		{
			name:    "zero rpc timeout",
			mutate:  func(c *Config) { c.Indexer.RPCTimeout = duration{0} },
			wantErr: "rpc_timeout",
		},
		{
			name: "ws url optional for backfill mode",
			mutate: func(c *Config) {
				c.Mode = "backfill"
				c.Ledger.WSURL = ""
			},
			wantErr: "",
		},
		{
			name: "ws url required for listen mode",
			mutate: func(c *Config) {
				c.Mode = "listen"
				c.Ledger.WSURL = ""
			},
			wantErr: "ws_url",
		},
		{
			name: "monitor mode skips ledger checks",
			mutate: func(c *Config) {
				c.Mode = "monitor"
				c.Ledger = LedgerConfig{}
			},
			wantErr: "",
		},
		{
			name: "archiving needs bucket",
			mutate: func(c *Config) {
				c.Indexer.ArchiveInterval = duration{time.Hour}
				c.S3.Bucket = ""
			},
			wantErr: "s3: bucket",
		},
		{
			name: "pool mins above max",
			mutate: func(c *Config) {
				c.Postgres.PoolMinConns = 20
				c.Postgres.PoolMaxConns = 10
			},
			wantErr: "pool_min_conns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Indexer.BatchSize = 0
	cfg.Indexer.PollInterval = duration{0}
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"batch_size", "poll_interval", "redis: addr"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("combined error missing %q: %v", want, err)
		}
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
mode = "backfill"

[ledger]
rpc_url = "http://chain:8545"
contract_address = "0x2222222222222222222222222222222222222222"
source = "exchange-v2"

[indexer]
poll_interval = "10s"
batch_size = 250
genesis_height = 12345
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("OTCINDEX_BATCH_SIZE", "500")
	t.Setenv("OTCINDEX_POSTGRES_PASSWORD", "sekret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "backfill" {
		t.Errorf("mode = %q, want backfill", cfg.Mode)
	}
	if cfg.Ledger.Source != "exchange-v2" {
		t.Errorf("source = %q, want exchange-v2", cfg.Ledger.Source)
	}
	if cfg.Indexer.PollInterval.Duration != 10*time.Second {
		t.Errorf("poll_interval = %v, want 10s", cfg.Indexer.PollInterval.Duration)
	}
	if cfg.Indexer.GenesisHeight != 12345 {
		t.Errorf("genesis_height = %d, want 12345", cfg.Indexer.GenesisHeight)
	}
	// Env wins over file.
	if cfg.Indexer.BatchSize != 500 {
		t.Errorf("batch_size = %d, want env override 500", cfg.Indexer.BatchSize)
	}
	if cfg.Postgres.Password != "sekret" {
		t.Errorf("postgres password not taken from env")
	}
	// Untouched sections keep defaults.
	if cfg.Indexer.MaxReconnectAttempts != 5 {
		t.Errorf("max_reconnect_attempts = %d, want default 5", cfg.Indexer.MaxReconnectAttempts)
	}
}
