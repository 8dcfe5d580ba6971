package database

import (
	"context"

	"github.com/lysyi3m/cast-comb/app/model"
)

const (
	// CurrentVersion is the schema version baked into every key prefix.
	CurrentVersion = 1
)

// Storage is the typed gateway over the durable key-value store.
type Storage interface {
	Close() error
	Version() (int, error)

	// AddFeed will:
	// - Insert or update feed info
	// - Append new episodes to the existing list of episodes (existing episodes are not overwritten!)
	AddFeed(ctx context.Context, feedID string, feed *model.Feed) error

	// GetFeed gets a feed by ID along with its complete episode list
	GetFeed(ctx context.Context, feedID string) (*model.Feed, error)

	// WalkFeeds iterates over feeds saved to the database
	WalkFeeds(ctx context.Context, cb func(feed *model.Feed) error) error

	// DeleteFeed deletes the feed and all its episodes. History is retained.
	DeleteFeed(ctx context.Context, feedID string) error

	// GetEpisode gets an episode by identifier
	GetEpisode(ctx context.Context, feedID string, episodeID string) (*model.Episode, error)

	// UpdateEpisode performs a read-modify-write of a single episode in one
	// transaction. The mutator must not change the episode ID.
	UpdateEpisode(feedID string, episodeID string, cb func(episode *model.Episode) error) error

	// DeleteEpisode deletes an episode
	DeleteEpisode(feedID string, episodeID string) error

	// WalkEpisodes iterates over episodes that belong to the given feed ID
	WalkEpisodes(ctx context.Context, feedID string, cb func(episode *model.Episode) error) error

	// AddHistory adds a new history entry
	AddHistory(ctx context.Context, entry *model.HistoryEntry) error

	// GetHistory gets a history entry by ID
	GetHistory(ctx context.Context, id string) (*model.HistoryEntry, error)

	// ListHistory returns a page of history entries, newest first, plus the
	// total number of entries matching the filters
	ListHistory(ctx context.Context, filters model.HistoryFilters, page, pageSize int) ([]*model.HistoryEntry, int, error)

	// UpdateHistory updates a history entry in one transaction
	UpdateHistory(ctx context.Context, id string, cb func(entry *model.HistoryEntry) error) error

	// DeleteHistory deletes a history entry by ID
	DeleteHistory(ctx context.Context, id string) error

	// CleanupHistory removes entries older than retentionDays and beyond the
	// maxEntries newest. (0, 0) removes everything.
	CleanupHistory(ctx context.Context, retentionDays int, maxEntries int) error

	// GetHistoryStats returns the entry count and the oldest entry
	GetHistoryStats(ctx context.Context) (count int, oldestEntry *model.HistoryEntry, err error)
}

// Config is the database configuration section.
type Config struct {
	// Dir is the directory holding the database files
	Dir string `yaml:"dir" json:"dir"`
}
