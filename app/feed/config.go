package feed

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/cast-comb/app/model"
)

// Config is the per-feed configuration block.
type Config struct {
	// ID is the feed identifier, filled from the map key in the service config
	ID string `yaml:"-" json:"id"`
	// URL is the channel/playlist address to sync
	URL string `yaml:"url" json:"url"`
	// Provider overrides provider detection from the URL (optional)
	Provider model.Provider `yaml:"provider,omitempty" json:"provider,omitempty"`
	// PageSize is the number of episodes to query and download per update
	PageSize int `yaml:"page_size,omitempty" json:"page_size"`
	// UpdatePeriod is the refresh interval, e.g. 12h. Implies an immediate
	// update at startup.
	UpdatePeriod Duration `yaml:"update_period,omitempty" json:"update_period"`
	// CronSchedule is an explicit cron expression; when set, the first update
	// is deferred to the next tick.
	CronSchedule string `yaml:"cron_schedule,omitempty" json:"cron_schedule,omitempty"`
	// Quality to use for this feed
	Quality model.Quality `yaml:"quality,omitempty" json:"quality"`
	// Maximum height of video, applies to high quality video feeds only
	MaxHeight int `yaml:"max_height,omitempty" json:"max_height,omitempty"`
	// Format to use for this feed
	Format model.Format `yaml:"format,omitempty" json:"format"`
	// Custom format properties, requires Format = custom
	CustomFormat CustomFormat `yaml:"custom_format,omitempty" json:"custom_format,omitempty"`
	// PlaylistSort is the order of the playlist episodes
	PlaylistSort model.Sorting `yaml:"playlist_sort,omitempty" json:"playlist_sort,omitempty"`
	// Filters applied before queueing an episode for download
	Filters Filters `yaml:"filters,omitempty" json:"filters"`
	// Clean is a cleanup policy for this feed
	Clean *Cleanup `yaml:"clean,omitempty" json:"clean,omitempty"`
	// Custom overrides the iTunes metadata in the published document
	Custom Custom `yaml:"custom,omitempty" json:"custom"`
	// OPML includes the feed into the published OPML file
	OPML bool `yaml:"opml,omitempty" json:"opml"`
	// PrivateFeed keeps the feed out of the OPML file even when OPML is set;
	// the management API still lists it
	PrivateFeed bool `yaml:"private_feed,omitempty" json:"private_feed"`
	// YouTubeDLArgs are extra arguments passed to the downloader
	YouTubeDLArgs []string `yaml:"youtube_dl_args,omitempty" json:"youtube_dl_args,omitempty"`
	// PostEpisodeDownload hooks run after each downloaded episode
	PostEpisodeDownload []*Hook `yaml:"post_episode_download,omitempty" json:"post_episode_download,omitempty"`
}

// CustomFormat is a custom download format specification passed down to the
// downloader as-is.
type CustomFormat struct {
	YouTubeDLFormat string `yaml:"youtube_dl_format" json:"youtube_dl_format"`
	Extension       string `yaml:"extension" json:"extension"`
}

// Cleanup is a feed cleanup policy. KeepLast = 0 keeps everything.
type Cleanup struct {
	KeepLast int `yaml:"keep_last" json:"keep_last"`
}

// Custom contains iTunes-level overrides for the published document.
type Custom struct {
	CoverArt        string   `yaml:"cover_art,omitempty" json:"cover_art,omitempty"`
	CoverArtQuality model.Quality `yaml:"cover_art_quality,omitempty" json:"cover_art_quality,omitempty"`
	Category        string   `yaml:"category,omitempty" json:"category,omitempty"`
	Subcategories   []string `yaml:"subcategories,omitempty" json:"subcategories,omitempty"`
	Explicit        bool     `yaml:"explicit,omitempty" json:"explicit,omitempty"`
	Language        string   `yaml:"lang,omitempty" json:"lang,omitempty"`
	Author          string   `yaml:"author,omitempty" json:"author,omitempty"`
	Title           string   `yaml:"title,omitempty" json:"title,omitempty"`
	Description     string   `yaml:"description,omitempty" json:"description,omitempty"`
	OwnerName       string   `yaml:"ownerName,omitempty" json:"owner_name,omitempty"`
	OwnerEmail      string   `yaml:"ownerEmail,omitempty" json:"owner_email,omitempty"`
	Link            string   `yaml:"link,omitempty" json:"link,omitempty"`
}

// Duration wraps time.Duration so intervals can be written as "12h" in YAML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalYAML() (interface{}, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.Duration.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.Duration.String())), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	if raw == "" || raw == "null" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// EpisodeName returns the artifact file name for an episode, derived from the
// episode ID and the feed format.
func EpisodeName(feedConfig *Config, episode *model.Episode) string {
	ext := "mp4"
	if feedConfig.Format == model.FormatAudio {
		ext = "mp3"
	}
	if feedConfig.Format == model.FormatCustom {
		ext = feedConfig.CustomFormat.Extension
	}

	return fmt.Sprintf("%s.%s", episode.ID, ext)
}
