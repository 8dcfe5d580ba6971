package feed

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/lysyi3m/cast-comb/app/model"
)

// Filters are applied to episodes before they are queued for download.
// Empty patterns and zero values accept everything.
type Filters struct {
	Title          string `yaml:"title,omitempty" json:"title,omitempty"`
	NotTitle       string `yaml:"not_title,omitempty" json:"not_title,omitempty"`
	Description    string `yaml:"description,omitempty" json:"description,omitempty"`
	NotDescription string `yaml:"not_description,omitempty" json:"not_description,omitempty"`
	// MinDuration and MaxDuration are in seconds
	MinDuration int64 `yaml:"min_duration,omitempty" json:"min_duration,omitempty"`
	MaxDuration int64 `yaml:"max_duration,omitempty" json:"max_duration,omitempty"`
	// MinAge and MaxAge are in days relative to the publish date
	MinAge int `yaml:"min_age,omitempty" json:"min_age,omitempty"`
	MaxAge int `yaml:"max_age,omitempty" json:"max_age,omitempty"`
}

// Validate compiles the regex patterns so broken expressions are rejected at
// config load instead of silently dropping episodes at run time.
func (f *Filters) Validate() error {
	for name, pattern := range map[string]string{
		"title":           f.Title,
		"not_title":       f.NotTitle,
		"description":     f.Description,
		"not_description": f.NotDescription,
	} {
		if pattern == "" {
			continue
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid %s filter %q: %w", name, pattern, err)
		}
	}

	return nil
}

// Match reports whether an episode passes every filter predicate.
func (f *Filters) Match(episode *model.Episode) bool {
	if !matchRegexp(f.Title, episode.Title) {
		return false
	}
	if f.NotTitle != "" && matchRegexp(f.NotTitle, episode.Title) {
		return false
	}
	if !matchRegexp(f.Description, episode.Description) {
		return false
	}
	if f.NotDescription != "" && matchRegexp(f.NotDescription, episode.Description) {
		return false
	}

	if f.MinDuration > 0 && episode.Duration < f.MinDuration {
		return false
	}
	if f.MaxDuration > 0 && episode.Duration > f.MaxDuration {
		return false
	}

	if f.MinAge > 0 || f.MaxAge > 0 {
		age := int(time.Since(episode.PubDate).Hours() / 24)
		if f.MinAge > 0 && age < f.MinAge {
			return false
		}
		if f.MaxAge > 0 && age > f.MaxAge {
			return false
		}
	}

	return true
}

// matchRegexp returns true for an empty pattern so unset filters accept.
func matchRegexp(pattern, str string) bool {
	if pattern == "" {
		return true
	}

	matched, err := regexp.MatchString(pattern, str)
	if err != nil {
		slog.Warn("Failed to match filter pattern", "pattern", pattern, "error", err)
		return false
	}

	return matched
}
