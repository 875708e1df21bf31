package config

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	MaxParallelism = 256
)

// Validate reports the first inconsistency in cfg.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.ChainID) == "" {
		return fmt.Errorf("ChainID must be set")
	}
	if cfg.Bech32Prefix != strings.ToLower(cfg.Bech32Prefix) || strings.TrimSpace(cfg.Bech32Prefix) == "" {
		return fmt.Errorf("Bech32Prefix %q must be a non-empty lowercase prefix", cfg.Bech32Prefix)
	}
	if !cfg.Offline {
		u, err := url.Parse(cfg.Remote.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("remote: Endpoint %q must be an http(s) URL", cfg.Remote.Endpoint)
		}
	}
	if cfg.Remote.RateLimitRPS < 0 {
		return fmt.Errorf("remote: RateLimitRPS < 0")
	}
	if cfg.Remote.Retry.Multiplier != 0 && cfg.Remote.Retry.Multiplier < 1 {
		return fmt.Errorf("remote.retry: Multiplier must be >= 1")
	}
	if cfg.Remote.Retry.MaxIntervalMs != 0 && cfg.Remote.Retry.MaxIntervalMs < cfg.Remote.Retry.InitialIntervalMs {
		return fmt.Errorf("remote.retry: MaxIntervalMs < InitialIntervalMs")
	}
	switch strings.ToLower(cfg.Cache.Backend) {
	case "memory":
	case "leveldb", "bolt", "bbolt":
		if strings.TrimSpace(cfg.Cache.Path) == "" {
			return fmt.Errorf("cache: Path required for backend %q", cfg.Cache.Backend)
		}
	default:
		return fmt.Errorf("cache: unknown Backend %q", cfg.Cache.Backend)
	}
	if cfg.Offline && strings.ToLower(cfg.Cache.Backend) == "memory" {
		return fmt.Errorf("offline mode needs a persisted cache backend")
	}
	if cfg.Parallelism <= 0 || cfg.Parallelism > MaxParallelism {
		return fmt.Errorf("Parallelism must be in [1, %d]", MaxParallelism)
	}
	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		if strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
			return fmt.Errorf("telemetry: Endpoint required when exporters are enabled")
		}
	}
	return nil
}
