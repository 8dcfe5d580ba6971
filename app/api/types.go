package api

import (
	"context"
	"time"

	"github.com/lysyi3m/cast-comb/app/config"
	"github.com/lysyi3m/cast-comb/app/database"
	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/history"
	"github.com/lysyi3m/cast-comb/app/model"
	"github.com/lysyi3m/cast-comb/app/progress"
	"github.com/lysyi3m/cast-comb/app/scheduler"
	"github.com/lysyi3m/cast-comb/app/update"
)

// UpdateManager is the updater capability the handlers rely on.
type UpdateManager interface {
	DeleteEpisode(ctx context.Context, feedID, episodeID string) error
	BlockEpisode(ctx context.Context, feedID, episodeID string) error
	RetryEpisode(ctx context.Context, feedID, episodeID string) error
	DeleteFeed(ctx context.Context, feedID string) error
	ProgressTracker() *progress.Tracker
	HistoryRecorder() *history.Recorder
	Feeds() map[string]*feed.Config
}

var _ UpdateManager = (*update.Manager)(nil)

// Refresher is the scheduler capability the handlers rely on.
type Refresher interface {
	Enqueue(feedID string, trigger model.TriggerType) error
	AddFeed(feedConfig *feed.Config) error
	RemoveFeed(feedID string)
}

var _ Refresher = (*scheduler.Scheduler)(nil)

// Handler carries the dependencies of all API endpoints.
type Handler struct {
	serviceConfig *config.Config
	configWriter  *config.Writer
	db            database.Storage
	updater       UpdateManager
	refresher     Refresher
	hostname      string
	restartFn     func()
}

func NewHandler(serviceConfig *config.Config, configWriter *config.Writer, db database.Storage,
	updater UpdateManager, refresher Refresher, restartFn func()) *Handler {
	return &Handler{
		serviceConfig: serviceConfig,
		configWriter:  configWriter,
		db:            db,
		updater:       updater,
		refresher:     refresher,
		hostname:      serviceConfig.Server.Hostname,
		restartFn:     restartFn,
	}
}

// FeedResponse is the API representation of a configured feed.
type FeedResponse struct {
	ID           string        `json:"id"`
	URL          string        `json:"url"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	Format       model.Format  `json:"format"`
	Quality      model.Quality `json:"quality"`
	PageSize     int           `json:"page_size"`
	UpdatePeriod string        `json:"update_period,omitempty"`
	CronSchedule string        `json:"cron_schedule,omitempty"`
	FeedURL      string        `json:"feed_url"`
	EpisodeCount int           `json:"episode_count"`
	LastUpdated  *time.Time    `json:"last_updated,omitempty"`
}

// EpisodeResponse is the API representation of an episode.
type EpisodeResponse struct {
	ID          string              `json:"id"`
	FeedID      string              `json:"feed_id"`
	FeedTitle   string              `json:"feed_title,omitempty"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Thumbnail   string              `json:"thumbnail,omitempty"`
	Duration    int64               `json:"duration"`
	Size        int64               `json:"size"`
	VideoURL    string              `json:"video_url"`
	DownloadURL string              `json:"download_url,omitempty"`
	PubDate     time.Time           `json:"pub_date"`
	Status      model.EpisodeStatus `json:"status"`
	Error       string              `json:"error,omitempty"`
}

// EpisodeListResponse is a page of episodes.
type EpisodeListResponse struct {
	Episodes   []EpisodeResponse `json:"episodes"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// HistoryListResponse is a page of history entries.
type HistoryListResponse struct {
	Entries    []*model.HistoryEntry `json:"entries"`
	Total      int                   `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// HistoryStatsResponse summarizes the history table.
type HistoryStatsResponse struct {
	Count       int                 `json:"count"`
	OldestEntry *model.HistoryEntry `json:"oldest_entry,omitempty"`
}

// ProgressResponse is the live progress snapshot.
type ProgressResponse struct {
	Feeds    map[string]*progress.FeedProgress `json:"feeds"`
	Episodes []*progress.EpisodeProgress       `json:"episodes"`
}
