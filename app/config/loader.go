package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/model"
)

// maxDownloadTimeoutMinutes caps the per-download timeout at one day.
const maxDownloadTimeoutMinutes = 1440

// Environment variables recognized on top of the config file.
const (
	EnvConfigPath           = "CASTCOMB_CONFIG_PATH"
	EnvHistoryEnabled       = "CASTCOMB_HISTORY_ENABLED"
	EnvHistoryRetentionDays = "CASTCOMB_HISTORY_RETENTION_DAYS"
	EnvHistoryMaxEntries    = "CASTCOMB_HISTORY_MAX_ENTRIES"
	EnvWebUI                = "CASTCOMB_WEB_UI"
)

// Load reads the YAML configuration from the given path. A missing file
// yields a default configuration so the service can be set up via the API.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("Config file not found, using default configuration", "path", path)
			config := &Config{
				Feeds: make(map[string]*feed.Config),
			}
			config.applyDefaults(path)
			config.applyEnv()
			if err := config.validate(); err != nil {
				return nil, err
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	for id, f := range config.Feeds {
		f.ID = id
	}

	config.applyDefaults(path)
	config.applyEnv()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	var result *multierror.Error

	if c.Server.Path != "" {
		pathReg := regexp.MustCompile(model.PathRegex)
		if !pathReg.MatchString(c.Server.Path) {
			result = multierror.Append(result, fmt.Errorf("server path must match %s or be empty", model.PathRegex))
		}
	}

	if c.Server.TLS && (c.Server.CertificatePath == "" || c.Server.KeyFilePath == "") {
		result = multierror.Append(result, fmt.Errorf("TLS requires certificate_path and key_file_path"))
	}

	if c.Server.Auth.Enabled && (c.Server.Auth.Username == "" || c.Server.Auth.Password == "") {
		result = multierror.Append(result, fmt.Errorf("basic auth requires username and password"))
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.Local.DataDir == "" {
			result = multierror.Append(result, fmt.Errorf("data directory is required for local storage"))
		}
	case "s3":
		if c.Storage.S3.EndpointURL == "" || c.Storage.S3.Region == "" || c.Storage.S3.Bucket == "" {
			result = multierror.Append(result, fmt.Errorf("s3 storage requires endpoint_url, region and bucket to be set"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown storage type: %s", c.Storage.Type))
	}

	// The download timeout is minutes everywhere, reject out-of-range values
	// instead of guessing a unit
	if c.Downloader.Timeout < 0 || c.Downloader.Timeout > maxDownloadTimeoutMinutes {
		result = multierror.Append(result, fmt.Errorf("downloader timeout must be between 0 and %d minutes", maxDownloadTimeoutMinutes))
	}

	if c.History.RetentionDays < 0 {
		result = multierror.Append(result, fmt.Errorf("history retention_days must be non-negative"))
	}
	if c.History.MaxEntries < 0 {
		result = multierror.Append(result, fmt.Errorf("history max_entries must be non-negative"))
	}

	for id, f := range c.Feeds {
		if f.URL == "" {
			result = multierror.Append(result, fmt.Errorf("URL is required for feed %q", id))
		}
		if err := f.Filters.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("feed %q: %w", id, err))
		}
		if f.Format == model.FormatCustom && (f.CustomFormat.Extension == "" || f.CustomFormat.YouTubeDLFormat == "") {
			result = multierror.Append(result, fmt.Errorf("feed %q: custom format requires extension and youtube_dl_format", id))
		}
	}

	return result.ErrorOrNil()
}

func (c *Config) applyDefaults(configPath string) {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Server.Hostname == "" {
		if c.Server.Port != 80 {
			c.Server.Hostname = fmt.Sprintf("http://localhost:%d", c.Server.Port)
		} else {
			c.Server.Hostname = "http://localhost"
		}
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "local"
	}

	if c.Storage.Type == "local" && c.Storage.Local.DataDir == "" {
		c.Storage.Local.DataDir = filepath.Join(filepath.Dir(configPath), "data")
	}

	if c.Database.Dir == "" {
		c.Database.Dir = filepath.Join(filepath.Dir(configPath), "db")
	}

	if c.Log.Filename != "" {
		if c.Log.MaxSize == 0 {
			c.Log.MaxSize = model.DefaultLogMaxSize
		}
		if c.Log.MaxAge == 0 {
			c.Log.MaxAge = model.DefaultLogMaxAge
		}
		if c.Log.MaxBackups == 0 {
			c.Log.MaxBackups = model.DefaultLogMaxBackups
		}
	}

	if c.History.RetentionDays == 0 {
		c.History.RetentionDays = 30
	}
	if c.History.MaxEntries == 0 {
		c.History.MaxEntries = 1000
	}
	// History is on unless the file explicitly carries a history section;
	// a plain `enabled: false` must be respected
	data, err := os.ReadFile(configPath)
	if err != nil || !strings.Contains(string(data), "history:") {
		c.History.Enabled = true
	}

	if c.Feeds == nil {
		c.Feeds = make(map[string]*feed.Config)
	}

	for _, f := range c.Feeds {
		if f.UpdatePeriod.Duration == 0 {
			f.UpdatePeriod.Duration = model.DefaultUpdatePeriod
		}
		if f.Quality == "" {
			f.Quality = model.DefaultQuality
		}
		if f.Custom.CoverArtQuality == "" {
			f.Custom.CoverArtQuality = model.DefaultQuality
		}
		if f.Format == "" {
			f.Format = model.DefaultFormat
		}
		if f.PageSize == 0 {
			f.PageSize = model.DefaultPageSize
		}
		if f.PlaylistSort == "" {
			f.PlaylistSort = model.SortingAsc
		}

		// Apply the global cleanup policy if the feed doesn't have its own
		if f.Clean == nil && c.Cleanup != nil {
			f.Clean = c.Cleanup
		}
	}
}

func (c *Config) applyEnv() {
	envVars := map[model.Provider]string{
		model.ProviderYoutube:    "CASTCOMB_YOUTUBE_API_KEY",
		model.ProviderVimeo:      "CASTCOMB_VIMEO_API_KEY",
		model.ProviderSoundcloud: "CASTCOMB_SOUNDCLOUD_API_KEY",
		model.ProviderTwitch:     "CASTCOMB_TWITCH_API_KEY",
	}

	// API keys from the environment replace the config values
	for provider, envVar := range envVars {
		val, ok := os.LookupEnv(envVar)
		if !ok {
			continue
		}

		slog.Info("Using API key from environment", "var", envVar)
		if c.Tokens == nil {
			c.Tokens = make(map[model.Provider]StringSlice)
		}
		// Multiple keys separated by spaces enable rotation
		c.Tokens[provider] = strings.Fields(val)
	}

	if val, ok := os.LookupEnv(EnvHistoryEnabled); ok {
		c.History.Enabled = val == "true" || val == "1"
	}
	if val, ok := os.LookupEnv(EnvHistoryRetentionDays); ok {
		if days, err := strconv.Atoi(val); err == nil {
			c.History.RetentionDays = days
		}
	}
	if val, ok := os.LookupEnv(EnvHistoryMaxEntries); ok {
		if entries, err := strconv.Atoi(val); err == nil {
			c.History.MaxEntries = entries
		}
	}
	if val, ok := os.LookupEnv(EnvWebUI); ok {
		c.Server.WebUIEnabled = val == "true" || val == "1"
	}
}
