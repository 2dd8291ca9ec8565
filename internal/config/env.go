package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "LANDRIVE_CONFIG"
	EnvOutboxDir  = "LANDRIVE_OUTBOX_DIR"
	EnvListenAddr = "LANDRIVE_LISTEN_ADDR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // LANDRIVE_CONFIG: override config file path
	OutboxDir  string // LANDRIVE_OUTBOX_DIR: sync outbox directory override
	ListenAddr string // LANDRIVE_LISTEN_ADDR: daemon status endpoint override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		OutboxDir:  os.Getenv(EnvOutboxDir),
		ListenAddr: os.Getenv(EnvListenAddr),
	}
}
