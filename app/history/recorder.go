package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/cast-comb/app/database"
	"github.com/lysyi3m/cast-comb/app/model"
)

// Recorder is the single entry point for history writes. When disabled every
// method is a no-op returning nil.
type Recorder struct {
	storage database.Storage
	enabled bool
}

func NewRecorder(storage database.Storage, enabled bool) *Recorder {
	return &Recorder{
		storage: storage,
		enabled: enabled,
	}
}

// newEntryID builds an ID whose lexicographic order equals chronological
// order: a unix timestamp prefix followed by a random suffix.
func newEntryID() string {
	return fmt.Sprintf("%d-%s", time.Now().Unix(), uuid.New().String())
}

// LogFeedUpdateStart creates a running history entry for a feed update and
// returns its ID for the later close-out.
func (r *Recorder) LogFeedUpdateStart(ctx context.Context, feedID, feedTitle string, trigger model.TriggerType) (string, error) {
	if !r.enabled {
		return "", nil
	}

	entry := &model.HistoryEntry{
		ID:          newEntryID(),
		JobType:     model.JobTypeFeedUpdate,
		FeedID:      feedID,
		FeedTitle:   feedTitle,
		StartTime:   time.Now(),
		Status:      model.JobStatusRunning,
		TriggerType: trigger,
		Statistics:  model.JobStatistics{},
	}

	if err := r.storage.AddHistory(ctx, entry); err != nil {
		slog.Warn("Failed to create history entry", "feed", feedID, "error", err)
		return "", err
	}

	slog.Debug("Created history entry", "id", entry.ID, "feed", feedID)
	return entry.ID, nil
}

// LogFeedUpdateEnd transitions a running entry to its terminal status.
func (r *Recorder) LogFeedUpdateEnd(ctx context.Context, entryID string, status model.JobStatus, stats model.JobStatistics, errMsg string) error {
	if !r.enabled || entryID == "" {
		return nil
	}

	err := r.storage.UpdateHistory(ctx, entryID, func(entry *model.HistoryEntry) error {
		now := time.Now()
		entry.EndTime = &now
		entry.Duration = now.Sub(entry.StartTime)
		entry.Status = status
		entry.Statistics = stats
		entry.Error = errMsg
		return nil
	})
	if err != nil {
		slog.Warn("Failed to update history entry", "id", entryID, "error", err)
		return err
	}

	slog.Debug("Updated history entry", "id", entryID, "status", status)
	return nil
}

// LogFeedUpdateEndWithEpisodes closes out a running entry and attaches
// per-episode details for the episodes processed during the job. Missing
// episodes are skipped with a warning.
func (r *Recorder) LogFeedUpdateEndWithEpisodes(ctx context.Context, entryID, feedID string, episodeIDs []string, status model.JobStatus, stats model.JobStatistics, errMsg string) error {
	if !r.enabled || entryID == "" {
		return nil
	}

	details := make([]model.EpisodeDetail, 0, len(episodeIDs))
	for _, episodeID := range episodeIDs {
		episode, err := r.storage.GetEpisode(ctx, feedID, episodeID)
		if err != nil {
			slog.Warn("Failed to get episode for history entry", "episode", episodeID, "entry", entryID, "error", err)
			continue
		}

		details = append(details, model.EpisodeDetail{
			ID:       episode.ID,
			Title:    episode.Title,
			Status:   string(episode.Status),
			Error:    episode.Error,
			Size:     episode.Size,
			Duration: episode.Duration,
		})
	}

	stats.EpisodeDetails = details

	return r.LogFeedUpdateEnd(ctx, entryID, status, stats, errMsg)
}

// LogEpisodeRetry writes a single-shot terminal entry for a retry operation.
func (r *Recorder) LogEpisodeRetry(ctx context.Context, feedID, feedTitle, episodeID, episodeTitle string, success bool, errMsg string) error {
	return r.logEpisodeJob(ctx, model.JobTypeEpisodeRetry, feedID, feedTitle, episodeID, episodeTitle, success, errMsg)
}

// LogEpisodeDelete writes a single-shot terminal entry for a delete operation.
func (r *Recorder) LogEpisodeDelete(ctx context.Context, feedID, feedTitle, episodeID, episodeTitle string, success bool, errMsg string) error {
	return r.logEpisodeJob(ctx, model.JobTypeEpisodeDelete, feedID, feedTitle, episodeID, episodeTitle, success, errMsg)
}

// LogEpisodeBlock writes a single-shot terminal entry for a block operation.
func (r *Recorder) LogEpisodeBlock(ctx context.Context, feedID, feedTitle, episodeID, episodeTitle string, success bool, errMsg string) error {
	return r.logEpisodeJob(ctx, model.JobTypeEpisodeBlock, feedID, feedTitle, episodeID, episodeTitle, success, errMsg)
}

func (r *Recorder) logEpisodeJob(ctx context.Context, jobType model.JobType, feedID, feedTitle, episodeID, episodeTitle string, success bool, errMsg string) error {
	if !r.enabled {
		return nil
	}

	status := model.JobStatusSuccess
	if !success {
		status = model.JobStatusFailed
	}

	now := time.Now()
	entry := &model.HistoryEntry{
		ID:           newEntryID(),
		JobType:      jobType,
		FeedID:       feedID,
		FeedTitle:    feedTitle,
		EpisodeID:    episodeID,
		EpisodeTitle: episodeTitle,
		StartTime:    now,
		EndTime:      &now,
		Duration:     0,
		Status:       status,
		TriggerType:  model.TriggerManual,
		Statistics:   model.JobStatistics{},
		Error:        errMsg,
	}

	if err := r.storage.AddHistory(ctx, entry); err != nil {
		slog.Warn("Failed to create history entry", "job_type", jobType, "feed", feedID, "episode", episodeID, "error", err)
		return err
	}

	slog.Debug("Logged episode job", "job_type", jobType, "feed", feedID, "episode", episodeID)
	return nil
}

// CleanupOldEntries removes entries outside the retention policy.
func (r *Recorder) CleanupOldEntries(ctx context.Context, retentionDays, maxEntries int) error {
	if !r.enabled {
		return nil
	}

	slog.Info("Cleaning up history", "retention_days", retentionDays, "max_entries", maxEntries)

	if err := r.storage.CleanupHistory(ctx, retentionDays, maxEntries); err != nil {
		slog.Error("History cleanup failed", "error", err)
		return err
	}

	return nil
}
