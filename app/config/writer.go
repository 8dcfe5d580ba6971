package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Writer persists configuration changes made through the management API.
// Every write backs up the current file and replaces it atomically via a
// temporary file and a rename.
type Writer struct {
	configPath string
}

func NewWriter(configPath string) *Writer {
	return &Writer{configPath: configPath}
}

// WriteConfig writes the entire configuration to the file.
func (w *Writer) WriteConfig(cfg interface{}) error {
	if err := w.backupConfig(); err != nil {
		slog.Warn("Failed to create config backup", "error", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return w.writeAtomic(data)
}

// UpdatePartial updates a section of the config file in place: the current
// document is loaded as a generic mapping, handed to the update function and
// written back, preserving sections this process doesn't know about.
func (w *Writer) UpdatePartial(updateFn func(root map[string]interface{}) error) error {
	root := make(map[string]interface{})

	data, err := os.ReadFile(w.configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Info("Config file doesn't exist, creating a new one", "path", w.configPath)
	} else {
		if err := yaml.Unmarshal(data, &root); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := updateFn(root); err != nil {
		return fmt.Errorf("failed to update config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := w.backupConfig(); err != nil {
		slog.Warn("Failed to create config backup", "error", err)
	}

	buf, err := yaml.Marshal(root)
	if err != nil {
		return fmt.Errorf("failed to marshal updated config: %w", err)
	}

	return w.writeAtomic(buf)
}

// SetSection replaces one top-level section of the config file.
func (w *Writer) SetSection(name string, value interface{}) error {
	// Round-trip the value through YAML so the file gets plain mappings
	// instead of Go struct internals
	raw, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal section %s: %w", name, err)
	}

	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("failed to normalize section %s: %w", name, err)
	}

	return w.UpdatePartial(func(root map[string]interface{}) error {
		root[name] = generic
		return nil
	})
}

// GetConfigDir returns the directory containing the config file.
func (w *Writer) GetConfigDir() string {
	return filepath.Dir(w.configPath)
}

func (w *Writer) writeAtomic(data []byte) error {
	tmpFile := w.configPath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}

	if err := os.Rename(tmpFile, w.configPath); err != nil {
		return fmt.Errorf("failed to rename temporary config file: %w", err)
	}

	slog.Info("Configuration file updated", "path", w.configPath)
	return nil
}

func (w *Writer) backupConfig() error {
	if _, err := os.Stat(w.configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	data, err := os.ReadFile(w.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath := w.configPath + ".backup"
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	slog.Debug("Created config backup", "path", backupPath)
	return nil
}
