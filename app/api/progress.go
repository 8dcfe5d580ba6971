package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/cast-comb/app/progress"
)

// streamInterval is how often the SSE stream emits a snapshot frame.
const streamInterval = 500 * time.Millisecond

// GetProgress returns a single snapshot of the current download progress.
func (h *Handler) GetProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.progressSnapshot(c.Query("feed_id")))
}

// StreamProgress streams progress snapshots via Server-Sent Events. The
// stream terminates when the client disconnects or a write fails.
func (h *Handler) StreamProgress(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	feedID := c.Query("feed_id")
	ctx := c.Request.Context()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	slog.Debug("SSE client connected to progress stream")

	// Initial frame right away, then one per tick
	if !h.sendProgressEvent(c, flusher, feedID) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected from progress stream")
			return
		case <-ticker.C:
			if !h.sendProgressEvent(c, flusher, feedID) {
				return
			}
		}
	}
}

// sendProgressEvent writes one SSE frame. Returns false when the write
// failed, which means the client is gone.
func (h *Handler) sendProgressEvent(c *gin.Context, flusher http.Flusher, feedID string) bool {
	data, err := json.Marshal(h.progressSnapshot(feedID))
	if err != nil {
		slog.Error("Failed to marshal progress data", "error", err)
		return true // Keep the stream alive
	}

	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		slog.Debug("SSE write failed, client likely disconnected", "error", err)
		return false
	}

	flusher.Flush()
	return true
}

func (h *Handler) progressSnapshot(feedID string) ProgressResponse {
	tracker := h.updater.ProgressTracker()

	var (
		feeds    map[string]*progress.FeedProgress
		episodes []*progress.EpisodeProgress
	)

	if feedID != "" {
		feeds = make(map[string]*progress.FeedProgress)
		if fp, ok := tracker.GetFeedProgress(feedID); ok {
			feeds[feedID] = fp
		}
		episodes = tracker.GetEpisodesForFeed(feedID)
	} else {
		feeds = tracker.GetAllFeedProgress()
		episodes = tracker.GetAllEpisodeProgress()
	}

	return ProgressResponse{Feeds: feeds, Episodes: episodes}
}
