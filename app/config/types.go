package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/cast-comb/app/database"
	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/fs"
	"github.com/lysyi3m/cast-comb/app/model"
	"github.com/lysyi3m/cast-comb/app/ytdl"
)

// Config is the complete service configuration.
type Config struct {
	// Server is the web server configuration
	Server ServerConfig `yaml:"server" json:"server"`
	// Storage is the artifact store configuration
	Storage fs.Config `yaml:"storage" json:"storage"`
	// Database is the key-value store configuration
	Database database.Config `yaml:"database" json:"database"`
	// Downloader is the external downloader configuration
	Downloader ytdl.Config `yaml:"downloader" json:"downloader"`
	// Tokens are provider API keys; a list enables key rotation
	Tokens map[model.Provider]StringSlice `yaml:"tokens,omitempty" json:"tokens,omitempty"`
	// Cleanup is the global cleanup policy applied to feeds without their own
	Cleanup *feed.Cleanup `yaml:"cleanup,omitempty" json:"cleanup,omitempty"`
	// History configures job history tracking
	History HistoryConfig `yaml:"history" json:"history"`
	// Log is the optional log file configuration
	Log LogConfig `yaml:"log,omitempty" json:"log"`
	// Feeds maps feed IDs to their configuration
	Feeds map[string]*feed.Config `yaml:"feeds" json:"feeds"`
}

// ServerConfig is the web server configuration section.
type ServerConfig struct {
	// Hostname is the public URL prefix used for links in feed documents
	Hostname string `yaml:"hostname,omitempty" json:"hostname"`
	// Port to bind the server to
	Port int `yaml:"port,omitempty" json:"port"`
	// BindAddress is the local interface to bind to, empty means all
	BindAddress string `yaml:"bind_address,omitempty" json:"bind_address,omitempty"`
	// Path is an optional URL prefix, e.g. "feeds"
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// TLS enables HTTPS with the certificate and key below
	TLS             bool   `yaml:"tls,omitempty" json:"tls"`
	CertificatePath string `yaml:"certificate_path,omitempty" json:"certificate_path,omitempty"`
	KeyFilePath     string `yaml:"key_file_path,omitempty" json:"key_file_path,omitempty"`
	// WebUIEnabled serves the bundled web interface
	WebUIEnabled bool `yaml:"web_ui" json:"web_ui"`
	// Auth enables basic authentication on the management API
	Auth AuthConfig `yaml:"auth,omitempty" json:"auth"`
}

// AuthConfig is the basic-auth configuration for the management API.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty" json:"enabled"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
}

// HistoryConfig configures job history tracking.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	RetentionDays int  `yaml:"retention_days,omitempty" json:"retention_days"`
	MaxEntries    int  `yaml:"max_entries,omitempty" json:"max_entries"`
}

// LogConfig is the optional rotating log file configuration.
type LogConfig struct {
	// Filename to write the log to (instead of stdout)
	Filename string `yaml:"filename,omitempty" json:"filename,omitempty"`
	// MaxSize is the maximum size of the log file in MB
	MaxSize int `yaml:"max_size,omitempty" json:"max_size,omitempty"`
	// MaxBackups is the number of rotated files to keep
	MaxBackups int `yaml:"max_backups,omitempty" json:"max_backups,omitempty"`
	// MaxAge is the maximum number of days to keep the logs for
	MaxAge int `yaml:"max_age,omitempty" json:"max_age,omitempty"`
	// Compress rotated files
	Compress bool `yaml:"compress,omitempty" json:"compress,omitempty"`
	// Debug enables debug level logging
	Debug bool `yaml:"debug,omitempty" json:"debug,omitempty"`
}

// StringSlice accepts either a single string or a list of strings in YAML.
type StringSlice []string

func (s *StringSlice) UnmarshalYAML(value *yaml.Node) error {
	var single string
	if err := value.Decode(&single); err == nil {
		*s = []string{single}
		return nil
	}

	var list []string
	if err := value.Decode(&list); err != nil {
		return fmt.Errorf("failed to decode string slice field: %w", err)
	}

	*s = list
	return nil
}
