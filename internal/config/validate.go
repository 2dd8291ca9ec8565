package config

import (
	"fmt"
	"strings"
)

// validProtocols is the set of protocol tags a drive may declare. The
// adapter factory is the source of truth at connect time; this check exists
// to fail fast on config load instead of at first connect.
var validProtocols = map[string]bool{
	"smb":    true,
	"ftp":    true,
	"sftp":   true,
	"webdav": true,
}

// validLogLevels for the logging section.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats for the logging section.
var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// Validate checks a loaded Config for structural errors: bad durations and
// sizes, unknown enums, and incomplete drive records. It returns the first
// error found.
func Validate(cfg *Config) error {
	if err := validateDurations(cfg); err != nil {
		return err
	}

	if err := validateSizes(cfg); err != nil {
		return err
	}

	if !validLogLevels[cfg.Logging.LogLevel] {
		return fmt.Errorf("logging.log_level: unknown level %q", cfg.Logging.LogLevel)
	}

	if !validLogFormats[cfg.Logging.LogFormat] {
		return fmt.Errorf("logging.log_format: unknown format %q", cfg.Logging.LogFormat)
	}

	if cfg.Transfers.Workers < 1 {
		return fmt.Errorf("transfers.workers: must be at least 1, got %d", cfg.Transfers.Workers)
	}

	if cfg.Discovery.ProbeWorkers < 1 {
		return fmt.Errorf("discovery.probe_workers: must be at least 1, got %d", cfg.Discovery.ProbeWorkers)
	}

	if cfg.Transfers.RetryAttempts < 0 {
		return fmt.Errorf("transfers.retry_attempts: must be non-negative, got %d", cfg.Transfers.RetryAttempts)
	}

	if cfg.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts: must be non-negative, got %d", cfg.Reconnect.MaxAttempts)
	}

	for id, d := range cfg.Drives {
		if err := ValidateDrive(id, d); err != nil {
			return err
		}
	}

	return nil
}

// ValidateDrive checks a single drive record. Used both during config load
// and when a drive is added at runtime via the CLI.
func ValidateDrive(id string, d Drive) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("drive id must not be empty")
	}

	if !validProtocols[d.Protocol] {
		return fmt.Errorf("drive.%s.protocol: unknown protocol %q (want smb, ftp, sftp, or webdav)", id, d.Protocol)
	}

	if strings.TrimSpace(d.Server) == "" {
		return fmt.Errorf("drive.%s.server: must not be empty", id)
	}

	return nil
}

func validateDurations(cfg *Config) error {
	durations := []struct {
		key string
		val string
	}{
		{"discovery.scan_duration", cfg.Discovery.ScanDuration},
		{"discovery.probe_timeout", cfg.Discovery.ProbeTimeout},
		{"discovery.silence_window", cfg.Discovery.SilenceWindow},
		{"discovery.scan_interval", cfg.Discovery.ScanInterval},
		{"transfers.chunk_timeout", cfg.Transfers.ChunkTimeout},
		{"transfers.history_retention", cfg.Transfers.HistoryRetention},
		{"transfers.retry_base_delay", cfg.Transfers.RetryBaseDelay},
		{"transfers.retry_max_delay", cfg.Transfers.RetryMaxDelay},
		{"reconnect.base_delay", cfg.Reconnect.BaseDelay},
		{"reconnect.max_delay", cfg.Reconnect.MaxDelay},
		{"sync.shutdown_timeout", cfg.Sync.ShutdownTimeout},
		{"network.connect_timeout", cfg.Network.ConnectTimeout},
	}

	for _, d := range durations {
		if _, err := ParseDuration(d.val); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}

	return nil
}

func validateSizes(cfg *Config) error {
	if _, err := ParseSize(cfg.Transfers.ChunkSize); err != nil {
		return fmt.Errorf("transfers.chunk_size: %w", err)
	}

	if _, err := ParseSize(strings.TrimSuffix(strings.ToLower(cfg.Transfers.BandwidthLimit), "/s")); err != nil {
		return fmt.Errorf("transfers.bandwidth_limit: %w", err)
	}

	return nil
}
