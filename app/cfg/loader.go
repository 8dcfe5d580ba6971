package cfg

import (
	"cmp"
	"fmt"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	ConfigPath string `long:"config" short:"c" env:"CASTCOMB_CONFIG_PATH" default:"config.yml" description:"Path to the configuration file"`
	Headless   bool   `long:"headless" description:"Run one update round for all feeds and exit"`
	Debug      bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
	NoBanner   bool   `long:"no-banner" description:"Suppress the startup banner"`
}

var globalCfg *Cfg

// Load parses command-line flags and environment variables. A nil result
// without error means help was requested.
func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse command line arguments: %w", err)
	}

	cfg := &Cfg{
		ConfigPath: raw.ConfigPath,
		Headless:   raw.Headless,
		Debug:      raw.Debug,
		NoBanner:   raw.NoBanner,
		Version:    GetVersion(),
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}
