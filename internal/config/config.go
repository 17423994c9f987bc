package config

import (
	"fmt"
	"time"

	"github.com/jannikluhn/tlbc-monitor/internal/common"
)

// Config represents the complete configuration of the monitor. It is
// populated from CLI flags, optionally pre-loaded from a config file.
type Config struct {
	// RPCURI is the URI of the node's JSON-RPC server
	RPCURI string `yaml:"rpc_uri" json:"rpc_uri" toml:"rpc_uri"`

	// ChainSpecPath is the path to the chain spec file of the monitored chain
	ChainSpecPath string `yaml:"chain_spec_path" json:"chain_spec_path" toml:"chain_spec_path"`

	// WatchChainSpec stops the monitor when the chain spec file changes
	WatchChainSpec bool `yaml:"watch_chain_spec" json:"watch_chain_spec" toml:"watch_chain_spec"`

	// ReportDir is the directory misbehavior reports are written to
	ReportDir string `yaml:"report_dir" json:"report_dir" toml:"report_dir"`

	// DBDir is the directory the block database and app state are stored in
	DBDir string `yaml:"db_dir" json:"db_dir" toml:"db_dir"`

	// SkipRate is the maximum rate of assigned steps a validator can skip
	// without being reported as offline, in [0, 1]. Zero is a valid value,
	// so the field is a pointer: nil means not configured.
	SkipRate *float64 `yaml:"skip_rate" json:"skip_rate" toml:"skip_rate"`

	// OfflineWindow is the size of the time window considered when deciding
	// whether validators are offline. Zero is a valid value, so the field is
	// a pointer: nil means not configured.
	OfflineWindow *common.Duration `yaml:"offline_window" json:"offline_window" toml:"offline_window"`

	// SyncFrom selects the initial block: a block number, "latest",
	// "earliest", or a negative offset from the remote head
	SyncFrom string `yaml:"sync_from" json:"sync_from" toml:"sync_from"`

	// UpgradeDB allows upgrading an old app state version on startup
	UpgradeDB bool `yaml:"upgrade_db" json:"upgrade_db" toml:"upgrade_db"`

	// LogLevel sets the log verbosity: "debug", "info", "warn" or "error"
	LogLevel string `yaml:"log_level" json:"log_level" toml:"log_level"`

	// LogDevelopment switches to the human-readable console encoder
	LogDevelopment bool `yaml:"log_development" json:"log_development" toml:"log_development"`

	// MetricsAddress is the listen address of the Prometheus metrics server;
	// empty disables the server
	MetricsAddress string `yaml:"metrics_address" json:"metrics_address" toml:"metrics_address"`

	// RequestTimeout bounds every individual JSON-RPC call
	RequestTimeout common.Duration `yaml:"request_timeout" json:"request_timeout" toml:"request_timeout"`

	// Retry configures retries of transient JSON-RPC failures
	Retry *RetryConfig `yaml:"retry" json:"retry" toml:"retry"`

	// DB contains the SQLite tuning knobs
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`
}

// RetryConfig configures the exponential backoff applied to transient
// JSON-RPC failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts per call
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the delay before the first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff caps the delay between retries
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the exponential growth factor
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for optional retry configuration fields.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(500 * time.Millisecond)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(10 * time.Second)
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DatabaseConfig represents SQLite database configuration.
type DatabaseConfig struct {
	// JournalMode sets the SQLite journal mode (e.g. "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	if c.RPCURI == "" {
		c.RPCURI = "http://localhost:8540"
	}
	if c.ReportDir == "" {
		c.ReportDir = "reports"
	}
	if c.DBDir == "" {
		c.DBDir = "state"
	}
	if c.SkipRate == nil {
		rate := 0.5
		c.SkipRate = &rate
	}
	if c.OfflineWindow == nil {
		window := common.NewDuration(24 * time.Hour)
		c.OfflineWindow = &window
	}
	if c.SyncFrom == "" {
		c.SyncFrom = "-1000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RequestTimeout.Duration == 0 {
		c.RequestTimeout = common.NewDuration(30 * time.Second)
	}
	if c.Retry == nil {
		c.Retry = &RetryConfig{}
	}
	c.Retry.ApplyDefaults()
	c.DB.ApplyDefaults()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ChainSpecPath == "" {
		return fmt.Errorf("chain_spec_path is required")
	}

	if c.SkipRate != nil && (*c.SkipRate < 0 || *c.SkipRate > 1) {
		return fmt.Errorf("skip_rate must be a value between 0 and 1")
	}

	if c.OfflineWindow != nil && c.OfflineWindow.Duration < 0 {
		return fmt.Errorf("offline_window must not be negative")
	}

	switch c.DB.JournalMode {
	case "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY":
	default:
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	switch c.DB.Synchronous {
	case "FULL", "NORMAL", "OFF":
	default:
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	return nil
}
