package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Save writes cfg to path as TOML, creating parent directories as needed.
// The file is written atomically via a temp file rename so a crash never
// leaves a half-written config behind.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	tmp := path + ".tmp"

	// 0600: drive sections may contain passwords.
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}

	return nil
}

// AddDriveToFile validates and adds a drive section to the config file at
// path, creating the file if it does not exist.
func AddDriveToFile(path, id string, d Drive) error {
	if err := ValidateDrive(id, d); err != nil {
		return err
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return err
	}

	if _, exists := cfg.Drives[id]; exists {
		return fmt.Errorf("drive %q already exists in config", id)
	}

	cfg.Drives[id] = d

	return Save(path, cfg)
}

// RemoveDriveFromFile deletes a drive section from the config file at path.
func RemoveDriveFromFile(path, id string) error {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return err
	}

	if _, exists := cfg.Drives[id]; !exists {
		return fmt.Errorf("drive %q not found in config", id)
	}

	delete(cfg.Drives, id)

	return Save(path, cfg)
}
