package config

// Remote describes the production chain gateway snapshots are fetched from.
type Remote struct {
	Endpoint       string  `toml:"Endpoint"`
	AuthToken      string  `toml:"AuthToken"`
	AuthTokenEnv   string  `toml:"AuthTokenEnv"`
	CallTimeoutMs  uint64  `toml:"CallTimeoutMs"`
	RateLimitRPS   float64 `toml:"RateLimitRPS"`
	RateLimitBurst int     `toml:"RateLimitBurst"`
	Retry          Retry   `toml:"retry"`
}

// Retry bounds how long a single remote query keeps retrying.
type Retry struct {
	InitialIntervalMs uint64  `toml:"InitialIntervalMs"`
	MaxIntervalMs     uint64  `toml:"MaxIntervalMs"`
	Multiplier        float64 `toml:"Multiplier"`
	MaxRetries        uint64  `toml:"MaxRetries"`
	MaxElapsedMs      uint64  `toml:"MaxElapsedMs"`
}

// Cache selects the persisted snapshot cache backend.
type Cache struct {
	Backend string `toml:"Backend"` // memory, leveldb or bolt
	Path    string `toml:"Path"`
}

// Reports configures the run history database.
type Reports struct {
	DSN string `toml:"DSN"`
}

// Logging controls the structured logger.
type Logging struct {
	Env        string `toml:"Env"`
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry wires the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Server configures the clonectl inspection and metrics listener.
type Server struct {
	ListenAddress string `toml:"ListenAddress"`
}
