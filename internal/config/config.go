// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for landrive. It supports a three-layer
// override chain (defaults -> config file -> environment -> CLI flags) and
// holds the configured virtual drives as a named map.
package config

// Config is the top-level configuration structure parsed from a TOML file.
// Drives are keyed by a user-chosen slug (e.g. [drive.nas-media]).
type Config struct {
	Drives    map[string]Drive `toml:"drive"`
	Discovery DiscoveryConfig  `toml:"discovery"`
	Transfers TransfersConfig  `toml:"transfers"`
	Reconnect ReconnectConfig  `toml:"reconnect"`
	Sync      SyncConfig       `toml:"sync"`
	Logging   LoggingConfig    `toml:"logging"`
	Network   NetworkConfig    `toml:"network"`
}

// Drive is the configuration record for a single virtual drive.
// Password may be empty for anonymous/guest access.
type Drive struct {
	Name     string `toml:"name"`
	Protocol string `toml:"protocol"` // smb | ftp | sftp | webdav
	Server   string `toml:"server"`   // host or host:port
	Path     string `toml:"path"`     // remote root path (share for smb)
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// DiscoveryConfig controls network scanning behavior: how long a scan pass
// runs, how many probes run in parallel, and how long a device may stay
// silent before it is reported lost.
type DiscoveryConfig struct {
	ScanDuration  string `toml:"scan_duration"`
	ProbeTimeout  string `toml:"probe_timeout"`
	ProbeWorkers  int    `toml:"probe_workers"`
	SilenceWindow string `toml:"silence_window"`
	ScanInterval  string `toml:"scan_interval"` // daemon mode rescan period
}

// TransfersConfig controls the transfer engine: worker count, chunk size,
// bandwidth limits, transient-failure retries, and how long finished jobs
// are retained.
type TransfersConfig struct {
	Workers          int    `toml:"workers"`
	ChunkSize        string `toml:"chunk_size"`
	BandwidthLimit   string `toml:"bandwidth_limit"`
	ChunkTimeout     string `toml:"chunk_timeout"`
	HistoryRetention string `toml:"history_retention"`
	RetryAttempts    int    `toml:"retry_attempts"`
	RetryBaseDelay   string `toml:"retry_base_delay"`
	RetryMaxDelay    string `toml:"retry_max_delay"`
}

// ReconnectConfig controls automatic reconnection after an unexpected drop:
// exponential backoff starting at base_delay, doubling up to max_delay, for
// at most max_attempts tries.
type ReconnectConfig struct {
	BaseDelay   string `toml:"base_delay"`
	MaxDelay    string `toml:"max_delay"`
	MaxAttempts int    `toml:"max_attempts"`
}

// SyncConfig controls the sync orchestrator and the daemon's outbox watch.
type SyncConfig struct {
	OutboxDir       string `toml:"outbox_dir"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// LoggingConfig controls log output behavior: level and format.
// Format "auto" picks text on a TTY and JSON otherwise.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls connection behavior shared by all adapters.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	ListenAddr     string `toml:"listen_addr"` // daemon status endpoint
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	Workers    *int   // --workers flag
	LogLevel   string // derived from -v / -q
}
