package config

// Default values for configuration options. These represent the "layer 0"
// of the override chain and are chosen to work on a typical home or office
// LAN without any config file.
const (
	defaultScanDuration     = "30s"
	defaultProbeTimeout     = "2s"
	defaultProbeWorkers     = 64
	defaultSilenceWindow    = "90s"
	defaultScanInterval     = "5m"
	defaultTransferWorkers  = 4
	defaultChunkSize        = "1MiB"
	defaultBandwidthLimit   = "0"
	defaultChunkTimeout     = "60s"
	defaultHistoryRetention = "24h"
	defaultRetryAttempts    = 3
	defaultRetryBaseDelay   = "1s"
	defaultRetryMaxDelay    = "15s"
	defaultReconnectBase    = "2s"
	defaultReconnectMax     = "60s"
	defaultReconnectTries   = 5
	defaultShutdownTimeout  = "30s"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultConnectTimeout   = "10s"
	defaultListenAddr       = "127.0.0.1:7425"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Drives:    make(map[string]Drive),
		Discovery: defaultDiscoveryConfig(),
		Transfers: defaultTransfersConfig(),
		Reconnect: defaultReconnectConfig(),
		Sync:      defaultSyncConfig(),
		Logging:   defaultLoggingConfig(),
		Network:   defaultNetworkConfig(),
	}
}

func defaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		ScanDuration:  defaultScanDuration,
		ProbeTimeout:  defaultProbeTimeout,
		ProbeWorkers:  defaultProbeWorkers,
		SilenceWindow: defaultSilenceWindow,
		ScanInterval:  defaultScanInterval,
	}
}

func defaultTransfersConfig() TransfersConfig {
	return TransfersConfig{
		Workers:          defaultTransferWorkers,
		ChunkSize:        defaultChunkSize,
		BandwidthLimit:   defaultBandwidthLimit,
		ChunkTimeout:     defaultChunkTimeout,
		HistoryRetention: defaultHistoryRetention,
		RetryAttempts:    defaultRetryAttempts,
		RetryBaseDelay:   defaultRetryBaseDelay,
		RetryMaxDelay:    defaultRetryMaxDelay,
	}
}

func defaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		BaseDelay:   defaultReconnectBase,
		MaxDelay:    defaultReconnectMax,
		MaxAttempts: defaultReconnectTries,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		ListenAddr:     defaultListenAddr,
	}
}
