package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"clonetest/crypto"
)

// Config is the clonectl configuration file.
type Config struct {
	ChainID      string `toml:"ChainID"`
	Bech32Prefix string `toml:"Bech32Prefix"`
	// ForkHeight pins the snapshot height; zero forks the latest block.
	ForkHeight  uint64 `toml:"ForkHeight"`
	Offline     bool   `toml:"Offline"`
	Parallelism int    `toml:"Parallelism"`

	Remote    Remote    `toml:"remote"`
	Cache     Cache     `toml:"cache"`
	Reports   Reports   `toml:"reports"`
	Logging   Logging   `toml:"logging"`
	Telemetry Telemetry `toml:"telemetry"`
	Server    Server    `toml:"server"`
}

// Default returns the configuration written for a missing file.
func Default() *Config {
	return &Config{
		ChainID:     "juno-1",
		Parallelism: 4,
		Remote: Remote{
			Endpoint:       "http://localhost:26657",
			CallTimeoutMs:  10_000,
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			Retry: Retry{
				InitialIntervalMs: 200,
				MaxIntervalMs:     5_000,
				Multiplier:        2,
				MaxRetries:        5,
				MaxElapsedMs:      30_000,
			},
		},
		Cache:   Cache{Backend: "leveldb", Path: "./clonetest-data/snapshots"},
		Reports: Reports{DSN: "file:./clonetest-data/reports.db"},
		Logging: Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Server:  Server{ListenAddress: "127.0.0.1:9464"},
	}
}

// Load loads the configuration from the given path, writing the defaults when
// the file does not exist yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ChainID = strings.TrimSpace(cfg.ChainID)
	if strings.TrimSpace(cfg.Bech32Prefix) == "" {
		cfg.Bech32Prefix = crypto.PrefixForChain(cfg.ChainID)
	}
	if strings.TrimSpace(cfg.Cache.Backend) == "" {
		cfg.Cache.Backend = "memory"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	cfg.normalize()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
