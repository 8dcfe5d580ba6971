package update

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lysyi3m/cast-comb/app/builder"
	"github.com/lysyi3m/cast-comb/app/database"
	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/fs"
	"github.com/lysyi3m/cast-comb/app/history"
	"github.com/lysyi3m/cast-comb/app/model"
	"github.com/lysyi3m/cast-comb/app/progress"
	"github.com/lysyi3m/cast-comb/app/ytdl"
)

// Downloader is the download driver capability the pipeline needs.
type Downloader interface {
	Download(ctx context.Context, feedConfig *feed.Config, episode *model.Episode, progressFn ytdl.ProgressFunc) (io.ReadCloser, error)
	PlaylistMetadata(ctx context.Context, url string) (ytdl.PlaylistMetadata, error)
	PlaylistItems(ctx context.Context, url string, count int, newestFirst bool) (ytdl.PlaylistMetadata, error)
}

// BuilderFactory resolves a listing builder for a provider. Swappable in tests.
type BuilderFactory func(ctx context.Context, provider model.Provider, key string, fetcher builder.MetadataFetcher) (builder.Builder, error)

// Manager runs the per-feed update pipeline and the episode-scoped
// operations. One Update runs at a time; the scheduler serializes calls.
type Manager struct {
	hostname        string
	downloader      Downloader
	db              database.Storage
	fs              fs.Storage
	feeds           map[string]*feed.Config
	keys            map[model.Provider]feed.KeyProvider
	progressTracker *progress.Tracker
	historyRecorder *history.Recorder
	newBuilder      BuilderFactory
}

func NewManager(
	feeds map[string]*feed.Config,
	keys map[model.Provider]feed.KeyProvider,
	hostname string,
	downloader Downloader,
	db database.Storage,
	fs fs.Storage,
	historyRecorder *history.Recorder,
) *Manager {
	return &Manager{
		hostname:        hostname,
		downloader:      downloader,
		db:              db,
		fs:              fs,
		feeds:           feeds,
		keys:            keys,
		progressTracker: progress.New(),
		historyRecorder: historyRecorder,
		newBuilder:      builder.New,
	}
}

// ProgressTracker exposes the tracker for the progress API.
func (m *Manager) ProgressTracker() *progress.Tracker {
	return m.progressTracker
}

// HistoryRecorder exposes the recorder for the history API.
func (m *Manager) HistoryRecorder() *history.Recorder {
	return m.historyRecorder
}

// Feeds returns the configured feeds keyed by ID.
func (m *Manager) Feeds() map[string]*feed.Config {
	return m.feeds
}

// Update runs the full pipeline for one feed: fetch and reconcile the
// listing, select the download set, download, clean up, publish the
// documents and close out the history entry.
func (m *Manager) Update(ctx context.Context, feedConfig *feed.Config, trigger model.TriggerType) error {
	slog.Info("Updating feed",
		"feed", feedConfig.ID,
		"url", feedConfig.URL,
		"format", feedConfig.Format,
		"quality", feedConfig.Quality)

	started := time.Now()

	historyID, _ := m.historyRecorder.LogFeedUpdateStart(ctx, feedConfig.ID, m.feedTitle(ctx, feedConfig.ID), trigger)

	stats := model.JobStatistics{}

	if err := m.updateFeed(ctx, feedConfig); err != nil {
		updateErr := fmt.Errorf("update failed: %w", err)
		_ = m.historyRecorder.LogFeedUpdateEnd(ctx, historyID, model.JobStatusFailed, stats, updateErr.Error())
		return updateErr
	}

	episodesToDownload, ignored, err := m.fetchEpisodes(ctx, feedConfig)
	if err != nil {
		updateErr := fmt.Errorf("fetch episodes failed: %w", err)
		_ = m.historyRecorder.LogFeedUpdateEnd(ctx, historyID, model.JobStatusFailed, stats, updateErr.Error())
		return updateErr
	}

	stats.EpisodesQueued = len(episodesToDownload)
	stats.EpisodesIgnored = ignored

	episodeIDs := make([]string, len(episodesToDownload))
	for i, ep := range episodesToDownload {
		episodeIDs[i] = ep.ID
	}

	downloaded, failed, bytesDownloaded, rateLimited := m.downloadEpisodesWithStats(ctx, feedConfig, episodesToDownload)
	stats.EpisodesDownloaded = downloaded
	stats.EpisodesFailed = failed
	stats.BytesDownloaded = bytesDownloaded

	if err := m.cleanup(ctx, feedConfig); err != nil {
		slog.Error("Cleanup failed", "feed", feedConfig.ID, "error", err)
	}

	if err := m.buildXML(ctx, feedConfig); err != nil {
		updateErr := fmt.Errorf("xml build failed: %w", err)
		_ = m.historyRecorder.LogFeedUpdateEndWithEpisodes(ctx, historyID, feedConfig.ID, episodeIDs, model.JobStatusFailed, stats, updateErr.Error())
		return updateErr
	}

	if err := m.buildOPML(ctx); err != nil {
		updateErr := fmt.Errorf("opml build failed: %w", err)
		_ = m.historyRecorder.LogFeedUpdateEndWithEpisodes(ctx, historyID, feedConfig.ID, episodeIDs, model.JobStatusFailed, stats, updateErr.Error())
		return updateErr
	}

	slog.Info("Feed updated", "feed", feedConfig.ID, "elapsed", time.Since(started).String())

	status := model.JobStatusSuccess
	if stats.EpisodesFailed > 0 && stats.EpisodesDownloaded == 0 {
		status = model.JobStatusFailed
	} else if stats.EpisodesFailed > 0 || rateLimited {
		status = model.JobStatusPartial
	}

	_ = m.historyRecorder.LogFeedUpdateEndWithEpisodes(ctx, historyID, feedConfig.ID, episodeIDs, status, stats, "")
	return nil
}

// updateFeed pulls the listing source and reconciles it with stored episodes.
func (m *Manager) updateFeed(ctx context.Context, feedConfig *feed.Config) error {
	provider := feedConfig.Provider
	if provider == "" {
		info, err := builder.ParseURL(feedConfig.URL)
		if err != nil {
			return fmt.Errorf("failed to parse URL %s: %w", feedConfig.URL, err)
		}
		provider = info.Provider
	}

	var key string
	if keyProvider, ok := m.keys[provider]; ok {
		key = keyProvider.Get()
	}

	listing, err := m.newBuilder(ctx, provider, key, m.downloader)
	if err != nil {
		return err
	}

	slog.Debug("Building feed snapshot", "feed", feedConfig.ID)
	result, err := listing.Build(ctx, feedConfig)
	if err != nil {
		return err
	}

	slog.Debug("Received episodes", "feed", feedConfig.ID, "count", len(result.Episodes))

	// Episodes in {new, error} that vanished from the listing are candidates
	// for removal; blocked episodes must never be re-added.
	pendingIDs := make(map[string]struct{})
	blockedIDs := make(map[string]struct{})
	if err := m.db.WalkEpisodes(ctx, feedConfig.ID, func(episode *model.Episode) error {
		switch episode.Status {
		case model.EpisodeBlocked:
			blockedIDs[episode.ID] = struct{}{}
		case model.EpisodeDownloaded, model.EpisodeCleaned:
			// Preserved regardless of the listing
		case model.EpisodeNew, model.EpisodeError:
			pendingIDs[episode.ID] = struct{}{}
		}
		return nil
	}); err != nil {
		return err
	}

	filtered := make([]*model.Episode, 0, len(result.Episodes))
	for _, episode := range result.Episodes {
		if _, isBlocked := blockedIDs[episode.ID]; isBlocked {
			slog.Debug("Skipping blocked episode", "feed", feedConfig.ID, "episode", episode.ID)
			continue
		}
		filtered = append(filtered, episode)
	}
	result.Episodes = filtered

	if err := m.db.AddFeed(ctx, feedConfig.ID, result); err != nil {
		return err
	}

	for _, episode := range result.Episodes {
		delete(pendingIDs, episode.ID)
	}

	// Garbage-collect stale entries that the upstream channel removed
	for id := range pendingIDs {
		slog.Info("Removing stale episode", "feed", feedConfig.ID, "episode", id)
		if err := m.db.DeleteEpisode(feedConfig.ID, id); err != nil {
			return err
		}
	}

	slog.Debug("Feed snapshot saved", "feed", feedConfig.ID)
	return nil
}

// fetchEpisodes walks stored episodes and selects the download set, marking
// filtered-out new episodes as ignored. Returns the selection and the number
// of episodes ignored during this pass.
func (m *Manager) fetchEpisodes(ctx context.Context, feedConfig *feed.Config) ([]*model.Episode, int, error) {
	var (
		feedID       = feedConfig.ID
		downloadList []*model.Episode
		toIgnore     []string
		ignored      int
		pageSize     = feedConfig.PageSize
	)

	slog.Debug("Selecting episodes for download", "feed", feedID, "page_size", pageSize)

	err := m.db.WalkEpisodes(ctx, feedID, func(episode *model.Episode) error {
		if episode.Status == model.EpisodeBlocked {
			return nil
		}
		if episode.Status != model.EpisodeNew && episode.Status != model.EpisodeError && episode.Status != model.EpisodeQueued {
			// Already downloaded, cleaned or ignored
			return nil
		}

		if !feedConfig.Filters.Match(episode) {
			// Persist the rejection so the episode is not re-evaluated on
			// every run
			if episode.Status == model.EpisodeNew {
				toIgnore = append(toIgnore, episode.ID)
			}
			return nil
		}

		// Limit the number of episodes downloaded at once
		pageSize--
		if pageSize < 0 {
			return nil
		}

		downloadList = append(downloadList, episode)
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build download list: %w", err)
	}

	// Written after the walk: a write transaction inside its read
	// transaction deadlocks
	for _, id := range toIgnore {
		if err := m.db.UpdateEpisode(feedID, id, func(ep *model.Episode) error {
			ep.Status = model.EpisodeIgnored
			return nil
		}); err != nil {
			slog.Warn("Failed to mark episode as ignored", "feed", feedID, "episode", id, "error", err)
		} else {
			ignored++
		}
	}

	return downloadList, ignored, nil
}

// downloadEpisodesWithStats measures the download outcome by diffing episode
// state before and after the download loop.
func (m *Manager) downloadEpisodesWithStats(ctx context.Context, feedConfig *feed.Config, downloadList []*model.Episode) (downloaded, failed int, bytesDownloaded int64, rateLimited bool) {
	initial := m.collectEpisodeStats(ctx, feedConfig.ID, downloadList)

	rateLimited = m.downloadEpisodes(ctx, feedConfig, downloadList)

	final := m.collectEpisodeStats(ctx, feedConfig.ID, downloadList)

	return final.downloaded - initial.downloaded,
		final.failed - initial.failed,
		final.bytesDownloaded - initial.bytesDownloaded,
		rateLimited
}

type episodeStats struct {
	downloaded      int
	failed          int
	bytesDownloaded int64
}

func (m *Manager) collectEpisodeStats(ctx context.Context, feedID string, episodes []*model.Episode) episodeStats {
	stats := episodeStats{}
	for _, ep := range episodes {
		current, err := m.db.GetEpisode(ctx, feedID, ep.ID)
		if err != nil {
			continue
		}
		switch current.Status {
		case model.EpisodeDownloaded:
			stats.downloaded++
			stats.bytesDownloaded += current.Size
		case model.EpisodeError:
			stats.failed++
		}
	}
	return stats
}

// downloadEpisodes processes the selection in order. A rate limit response
// stops further downloads for this run but leaves queued episodes untouched.
func (m *Manager) downloadEpisodes(ctx context.Context, feedConfig *feed.Config, downloadList []*model.Episode) (rateLimited bool) {
	var (
		downloadCount = len(downloadList)
		downloaded    = 0
		feedID        = feedConfig.ID
	)

	if downloadCount == 0 {
		slog.Info("No episodes to download", "feed", feedID)
		return false
	}

	slog.Info("Downloading episodes", "feed", feedID, "count", downloadCount)

	m.progressTracker.InitFeedProgress(feedID, downloadCount)
	defer m.progressTracker.ClearFeed(feedID)

	for _, episode := range downloadList {
		if err := m.db.UpdateEpisode(feedID, episode.ID, func(ep *model.Episode) error {
			ep.Status = model.EpisodeQueued
			return nil
		}); err != nil {
			slog.Warn("Failed to mark episode as queued", "feed", feedID, "episode", episode.ID, "error", err)
		}
	}
	m.progressTracker.QueueEpisodes(feedID, downloadCount)

	for idx, episode := range downloadList {
		if ctx.Err() != nil {
			// Shutdown observed between episodes; remaining records stay
			// queued for the next run
			slog.Info("Update cancelled", "feed", feedID, "remaining", downloadCount-idx)
			return false
		}

		if done, err := m.commitExistingArtifact(ctx, feedConfig, episode); err != nil {
			slog.Error("Failed to stat artifact", "feed", feedID, "episode", episode.ID, "error", err)
			return false
		} else if done {
			m.progressTracker.CompleteEpisode(feedID, episode.ID)
			continue
		}

		if err := m.db.UpdateEpisode(feedID, episode.ID, func(ep *model.Episode) error {
			ep.Status = model.EpisodeDownloading
			return nil
		}); err != nil {
			slog.Warn("Failed to mark episode as downloading", "feed", feedID, "episode", episode.ID, "error", err)
		}
		m.progressTracker.StartEpisode(feedID, episode.ID, episode.Title)

		size, err := m.downloadEpisode(ctx, feedConfig, episode)
		if err != nil {
			if err == ytdl.ErrTooManyRequests {
				// The host rate-limited us. The document is still rebuilt;
				// this and the remaining episodes retry next run.
				slog.Warn("Server responded with 'Too Many Requests', stopping downloads for this run", "feed", feedID)
				if err := m.db.UpdateEpisode(feedID, episode.ID, func(ep *model.Episode) error {
					ep.Status = model.EpisodeQueued
					return nil
				}); err != nil {
					slog.Warn("Failed to requeue rate-limited episode", "feed", feedID, "episode", episode.ID, "error", err)
				}
				return true
			}

			slog.Error("Failed to download episode", "feed", feedID, "episode", episode.ID, "error", err)
			if err := m.db.UpdateEpisode(feedID, episode.ID, func(ep *model.Episode) error {
				ep.Status = model.EpisodeError
				ep.Error = err.Error()
				return nil
			}); err != nil {
				slog.Error("Failed to record episode error", "feed", feedID, "episode", episode.ID, "error", err)
			}

			continue
		}

		m.runPostDownloadHooks(feedConfig, episode)

		if err := m.db.UpdateEpisode(feedID, episode.ID, func(ep *model.Episode) error {
			ep.Size = size
			ep.Status = model.EpisodeDownloaded
			ep.Error = ""
			return nil
		}); err != nil {
			slog.Error("Failed to record downloaded episode", "feed", feedID, "episode", episode.ID, "error", err)
			continue
		}

		m.progressTracker.CompleteEpisode(feedID, episode.ID)
		downloaded++
	}

	slog.Info("Download loop finished", "feed", feedID, "downloaded", downloaded)
	return false
}

// commitExistingArtifact marks the episode as downloaded when its artifact is
// already in the store, making re-entry idempotent.
func (m *Manager) commitExistingArtifact(ctx context.Context, feedConfig *feed.Config, episode *model.Episode) (bool, error) {
	path := artifactPath(feedConfig, episode)

	size, err := m.fs.Size(ctx, path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	slog.Info("Artifact already exists", "feed", feedConfig.ID, "episode", episode.ID, "size", size)

	if err := m.db.UpdateEpisode(feedConfig.ID, episode.ID, func(ep *model.Episode) error {
		ep.Size = size
		ep.Status = model.EpisodeDownloaded
		return nil
	}); err != nil {
		return false, err
	}

	return true, nil
}

// downloadEpisode invokes the driver with a progress sink bound to this
// episode, streams the result into the artifact store and returns its size.
func (m *Manager) downloadEpisode(ctx context.Context, feedConfig *feed.Config, episode *model.Episode) (int64, error) {
	feedID := feedConfig.ID

	progressFn := func(stage string, percent float64, downloaded, total int64, speed string) {
		m.progressTracker.UpdateEpisode(feedID, episode.ID, stage, percent, downloaded, total, speed)
	}

	slog.Info("Downloading episode", "feed", feedID, "episode", episode.ID, "url", episode.VideoURL)
	tempFile, err := m.downloader.Download(ctx, feedConfig, episode, progressFn)
	if err != nil {
		return 0, err
	}

	size, err := m.fs.Create(ctx, artifactPath(feedConfig, episode), tempFile)
	tempFile.Close()
	if err != nil {
		return 0, fmt.Errorf("failed to store artifact: %w", err)
	}

	return size, nil
}

func (m *Manager) runPostDownloadHooks(feedConfig *feed.Config, episode *model.Episode) {
	if len(feedConfig.PostEpisodeDownload) == 0 {
		return
	}

	env := []string{
		"EPISODE_FILE=" + artifactPath(feedConfig, episode),
		"FEED_NAME=" + feedConfig.ID,
		"EPISODE_TITLE=" + episode.Title,
	}

	for i, hook := range feedConfig.PostEpisodeDownload {
		if err := hook.Invoke(env); err != nil {
			// A failing hook never fails the episode
			slog.Error("Post download hook failed", "feed", feedConfig.ID, "episode", episode.ID, "hook", i+1, "error", err)
		} else {
			slog.Debug("Post download hook executed", "feed", feedConfig.ID, "episode", episode.ID, "hook", i+1)
		}
	}
}

// cleanup enforces the keep-last policy: artifacts past the N most recently
// published downloaded episodes are removed and the records marked cleaned.
func (m *Manager) cleanup(ctx context.Context, feedConfig *feed.Config) error {
	var (
		feedID = feedConfig.ID
		list   []*model.Episode
		result *multierror.Error
	)

	if feedConfig.Clean == nil {
		slog.Debug("No cleanup policy configured", "feed", feedID)
		return nil
	}

	count := feedConfig.Clean.KeepLast
	if count < 1 {
		slog.Debug("Nothing to clean", "feed", feedID)
		return nil
	}

	slog.Info("Running cleaner", "feed", feedID, "keep_last", count)
	if err := m.db.WalkEpisodes(ctx, feedID, func(episode *model.Episode) error {
		if episode.Status == model.EpisodeDownloaded {
			list = append(list, episode)
		}
		return nil
	}); err != nil {
		return err
	}

	if count >= len(list) {
		return nil
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].PubDate.After(list[j].PubDate)
	})

	for _, episode := range list[count:] {
		slog.Info("Cleaning episode", "feed", feedID, "episode", episode.ID, "title", episode.Title)

		if err := m.fs.Delete(ctx, artifactPath(feedConfig, episode)); err != nil {
			if !os.IsNotExist(err) {
				result = multierror.Append(result, fmt.Errorf("failed to delete artifact of %s: %w", episode.ID, err))
				continue
			}

			slog.Debug("Artifact already gone", "feed", feedID, "episode", episode.ID)
		}

		if err := m.db.UpdateEpisode(feedID, episode.ID, func(ep *model.Episode) error {
			ep.Status = model.EpisodeCleaned
			ep.Title = ""
			ep.Description = ""
			return nil
		}); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to mark episode %s as cleaned: %w", episode.ID, err))
			continue
		}
	}

	return result.ErrorOrNil()
}

// buildXML renders and publishes the podcast document for a feed.
func (m *Manager) buildXML(ctx context.Context, feedConfig *feed.Config) error {
	f, err := m.db.GetFeed(ctx, feedConfig.ID)
	if err != nil {
		return err
	}

	slog.Debug("Building podcast document", "feed", feedConfig.ID)
	podcast, err := feed.Build(f, feedConfig, m.hostname)
	if err != nil {
		return err
	}

	xmlName := fmt.Sprintf("%s.xml", feedConfig.ID)
	if _, err := m.fs.Create(ctx, xmlName, bytes.NewReader([]byte(podcast))); err != nil {
		return fmt.Errorf("failed to upload new XML feed: %w", err)
	}

	return nil
}

// buildOPML renders and publishes the subscription list across all feeds.
func (m *Manager) buildOPML(ctx context.Context) error {
	slog.Debug("Building OPML")
	opml, err := feed.BuildOPML(ctx, m.feeds, m.db, m.hostname)
	if err != nil {
		return err
	}

	if _, err := m.fs.Create(ctx, "castcomb.opml", bytes.NewReader([]byte(opml))); err != nil {
		return fmt.Errorf("failed to upload OPML: %w", err)
	}

	return nil
}

// feedTitle returns the stored feed title, falling back to the feed ID.
func (m *Manager) feedTitle(ctx context.Context, feedID string) string {
	f, err := m.db.GetFeed(ctx, feedID)
	if err != nil || f == nil || f.Title == "" {
		return feedID
	}
	return f.Title
}

func artifactPath(feedConfig *feed.Config, episode *model.Episode) string {
	return fmt.Sprintf("%s/%s", feedConfig.ID, feed.EpisodeName(feedConfig, episode))
}
