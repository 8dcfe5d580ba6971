package update

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lysyi3m/cast-comb/app/model"
)

// DeleteEpisode removes an episode record and its artifact. Exactly one
// terminal history entry is written.
func (m *Manager) DeleteEpisode(ctx context.Context, feedID, episodeID string) error {
	feedConfig, ok := m.feeds[feedID]
	if !ok {
		return fmt.Errorf("feed %q not found", feedID)
	}

	episode, err := m.db.GetEpisode(ctx, feedID, episodeID)
	if err != nil {
		_ = m.historyRecorder.LogEpisodeDelete(ctx, feedID, m.feedTitle(ctx, feedID), episodeID, "", false, err.Error())
		return fmt.Errorf("failed to get episode %s/%s: %w", feedID, episodeID, err)
	}

	episodeTitle := episode.Title

	if err := m.fs.Delete(ctx, artifactPath(feedConfig, episode)); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to delete artifact", "feed", feedID, "episode", episodeID, "error", err)
		}
	} else {
		slog.Info("Deleted artifact", "feed", feedID, "episode", episodeID)
	}

	if err := m.db.DeleteEpisode(feedID, episodeID); err != nil {
		_ = m.historyRecorder.LogEpisodeDelete(ctx, feedID, m.feedTitle(ctx, feedID), episodeID, episodeTitle, false, err.Error())
		return fmt.Errorf("failed to delete episode %s/%s: %w", feedID, episodeID, err)
	}

	slog.Info("Episode deleted", "feed", feedID, "episode", episodeID)
	_ = m.historyRecorder.LogEpisodeDelete(ctx, feedID, m.feedTitle(ctx, feedID), episodeID, episodeTitle, true, "")
	return nil
}

// BlockEpisode marks an episode as blocked so it is never (re-)downloaded.
// Unknown IDs get a stub record so future listings filter them out before
// the first download.
func (m *Manager) BlockEpisode(ctx context.Context, feedID, episodeID string) error {
	feedConfig, ok := m.feeds[feedID]
	if !ok {
		return fmt.Errorf("feed %q not found", feedID)
	}

	episodeTitle := ""

	episode, err := m.db.GetEpisode(ctx, feedID, episodeID)
	if err != nil {
		if err != model.ErrNotFound {
			_ = m.historyRecorder.LogEpisodeBlock(ctx, feedID, m.feedTitle(ctx, feedID), episodeID, episodeTitle, false, err.Error())
			return fmt.Errorf("failed to get episode %s/%s: %w", feedID, episodeID, err)
		}

		// Unknown episode: create a blocked stub
		slog.Info("Episode not in database, creating blocked stub", "feed", feedID, "episode", episodeID)
		episode = &model.Episode{
			ID:     episodeID,
			Status: model.EpisodeBlocked,
		}
		stub := &model.Feed{
			ID:       feedID,
			Episodes: []*model.Episode{episode},
		}
		if err := m.db.AddFeed(ctx, feedID, stub); err != nil {
			_ = m.historyRecorder.LogEpisodeBlock(ctx, feedID, m.feedTitle(ctx, feedID), episodeID, episodeTitle, false, err.Error())
			return fmt.Errorf("failed to create blocked episode %s/%s: %w", feedID, episodeID, err)
		}
	} else {
		episodeTitle = episode.Title
		if err := m.db.UpdateEpisode(feedID, episodeID, func(ep *model.Episode) error {
			ep.Status = model.EpisodeBlocked
			return nil
		}); err != nil {
			_ = m.historyRecorder.LogEpisodeBlock(ctx, feedID, m.feedTitle(ctx, feedID), episodeID, episodeTitle, false, err.Error())
			return fmt.Errorf("failed to block episode %s/%s: %w", feedID, episodeID, err)
		}
	}

	if err := m.fs.Delete(ctx, artifactPath(feedConfig, episode)); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to delete artifact", "feed", feedID, "episode", episodeID, "error", err)
		}
	} else {
		slog.Info("Deleted artifact", "feed", feedID, "episode", episodeID)
	}

	slog.Info("Episode blocked", "feed", feedID, "episode", episodeID)
	_ = m.historyRecorder.LogEpisodeBlock(ctx, feedID, m.feedTitle(ctx, feedID), episodeID, episodeTitle, true, "")
	return nil
}

// RetryEpisode resets an episode and runs the single-episode download path,
// then rebuilds the feed document. An artifact already in the store commits
// without invoking the downloader.
func (m *Manager) RetryEpisode(ctx context.Context, feedID, episodeID string) error {
	feedConfig, ok := m.feeds[feedID]
	if !ok {
		return fmt.Errorf("feed %q not found", feedID)
	}

	episode, err := m.db.GetEpisode(ctx, feedID, episodeID)
	if err != nil {
		_ = m.historyRecorder.LogEpisodeRetry(ctx, feedID, m.feedTitle(ctx, feedID), episodeID, "", false, err.Error())
		return fmt.Errorf("failed to get episode %s/%s: %w", feedID, episodeID, err)
	}

	episodeTitle := episode.Title

	if err := m.db.UpdateEpisode(feedID, episodeID, func(ep *model.Episode) error {
		ep.Status = model.EpisodeNew
		ep.Error = ""
		return nil
	}); err != nil {
		return fmt.Errorf("failed to reset episode status: %w", err)
	}

	if done, err := m.commitExistingArtifact(ctx, feedConfig, episode); err != nil {
		return err
	} else if done {
		_ = m.historyRecorder.LogEpisodeRetry(ctx, feedID, m.feedTitle(ctx, feedID), episodeID, episodeTitle, true, "")
		return nil
	}

	if err := m.db.UpdateEpisode(feedID, episodeID, func(ep *model.Episode) error {
		ep.Status = model.EpisodeDownloading
		return nil
	}); err != nil {
		slog.Warn("Failed to mark episode as downloading", "feed", feedID, "episode", episodeID, "error", err)
	}

	m.progressTracker.InitFeedProgress(feedID, 1)
	m.progressTracker.StartEpisode(feedID, episodeID, episodeTitle)
	defer m.progressTracker.ClearFeed(feedID)

	size, err := m.downloadEpisode(ctx, feedConfig, episode)
	if err != nil {
		if updateErr := m.db.UpdateEpisode(feedID, episodeID, func(ep *model.Episode) error {
			ep.Status = model.EpisodeError
			ep.Error = err.Error()
			return nil
		}); updateErr != nil {
			slog.Error("Failed to record episode error", "feed", feedID, "episode", episodeID, "error", updateErr)
		}
		_ = m.historyRecorder.LogEpisodeRetry(ctx, feedID, m.feedTitle(ctx, feedID), episodeID, episodeTitle, false, err.Error())
		return fmt.Errorf("download failed: %w", err)
	}

	m.runPostDownloadHooks(feedConfig, episode)

	if err := m.db.UpdateEpisode(feedID, episodeID, func(ep *model.Episode) error {
		ep.Size = size
		ep.Status = model.EpisodeDownloaded
		ep.Error = ""
		return nil
	}); err != nil {
		return err
	}

	m.progressTracker.CompleteEpisode(feedID, episodeID)

	// Publish the newly downloaded episode
	if err := m.buildXML(ctx, feedConfig); err != nil {
		slog.Warn("Failed to rebuild feed document after retry", "feed", feedID, "error", err)
	}

	slog.Info("Episode retried", "feed", feedID, "episode", episodeID)
	_ = m.historyRecorder.LogEpisodeRetry(ctx, feedID, m.feedTitle(ctx, feedID), episodeID, episodeTitle, true, "")
	return nil
}

// DeleteFeed removes the feed, its episodes and its published document.
// History entries are intentionally retained.
func (m *Manager) DeleteFeed(ctx context.Context, feedID string) error {
	if err := m.db.DeleteFeed(ctx, feedID); err != nil {
		return fmt.Errorf("failed to delete feed %s: %w", feedID, err)
	}

	if err := m.fs.Delete(ctx, fmt.Sprintf("%s.xml", feedID)); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to delete feed document", "feed", feedID, "error", err)
	}

	delete(m.feeds, feedID)

	slog.Info("Feed deleted", "feed", feedID)
	return nil
}
