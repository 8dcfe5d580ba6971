package api

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/model"
)

func (h *Handler) GetHealth(c *gin.Context) {
	health := gin.H{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"feeds":     len(h.updater.Feeds()),
	}

	if version, err := h.db.Version(); err == nil {
		health["database_version"] = version
	}

	c.JSON(http.StatusOK, health)
}

// Feeds

func (h *Handler) ListFeeds(c *gin.Context) {
	feeds := make([]FeedResponse, 0, len(h.updater.Feeds()))

	for id, feedConfig := range h.updater.Feeds() {
		feeds = append(feeds, h.feedResponse(c, id, feedConfig))
	}

	sort.Slice(feeds, func(i, j int) bool { return feeds[i].ID < feeds[j].ID })

	c.JSON(http.StatusOK, gin.H{
		"feeds": feeds,
		"total": len(feeds),
	})
}

func (h *Handler) GetFeed(c *gin.Context) {
	id := c.Param("id")

	feedConfig, ok := h.updater.Feeds()[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	c.JSON(http.StatusOK, h.feedResponse(c, id, feedConfig))
}

type createFeedRequest struct {
	ID string `json:"id"`
	feed.Config
}

func (h *Handler) CreateFeed(c *gin.Context) {
	var req createFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL is required"})
		return
	}

	if req.ID == "" {
		if !req.PrivateFeed {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Feed ID is required"})
			return
		}
		// Private feeds get an unguessable ID
		req.ID = strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	}

	if _, exists := h.updater.Feeds()[req.ID]; exists {
		c.JSON(http.StatusConflict, gin.H{"error": "Feed already exists"})
		return
	}

	feedConfig := req.Config
	feedConfig.ID = req.ID
	applyFeedDefaults(&feedConfig)

	if err := feedConfig.Filters.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.persistFeeds(func(feeds map[string]*feed.Config) {
		feeds[feedConfig.ID] = &feedConfig
	}); err != nil {
		slog.Error("Failed to persist feed", "feed", feedConfig.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save configuration"})
		return
	}

	h.updater.Feeds()[feedConfig.ID] = &feedConfig

	if err := h.refresher.AddFeed(&feedConfig); err != nil {
		slog.Warn("Failed to schedule new feed", "feed", feedConfig.ID, "error", err)
	}

	c.JSON(http.StatusCreated, h.feedResponse(c, feedConfig.ID, &feedConfig))
}

func (h *Handler) UpdateFeed(c *gin.Context) {
	id := c.Param("id")

	existing, ok := h.updater.Feeds()[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	var req feed.Config
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	req.ID = id
	if req.URL == "" {
		req.URL = existing.URL
	}
	applyFeedDefaults(&req)

	if err := req.Filters.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.persistFeeds(func(feeds map[string]*feed.Config) {
		feeds[id] = &req
	}); err != nil {
		slog.Error("Failed to persist feed", "feed", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save configuration"})
		return
	}

	*existing = req

	c.JSON(http.StatusOK, h.feedResponse(c, id, existing))
}

func (h *Handler) DeleteFeed(c *gin.Context) {
	id := c.Param("id")

	if _, ok := h.updater.Feeds()[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	if err := h.updater.DeleteFeed(c.Request.Context(), id); err != nil {
		slog.Error("Failed to delete feed", "feed", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete feed"})
		return
	}

	h.refresher.RemoveFeed(id)

	if err := h.persistFeeds(func(feeds map[string]*feed.Config) {
		delete(feeds, id)
	}); err != nil {
		slog.Error("Failed to persist feed removal", "feed", id, "error", err)
	}

	c.Status(http.StatusNoContent)
}

// RefreshFeed enqueues a manual update; the actual work happens on the
// scheduler's worker.
func (h *Handler) RefreshFeed(c *gin.Context) {
	id := c.Param("id")

	if _, ok := h.updater.Feeds()[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	if err := h.refresher.Enqueue(id, model.TriggerManual); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to enqueue update", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Feed update enqueued"})
}

func (h *Handler) feedResponse(c *gin.Context, id string, feedConfig *feed.Config) FeedResponse {
	resp := FeedResponse{
		ID:           id,
		URL:          feedConfig.URL,
		Format:       feedConfig.Format,
		Quality:      feedConfig.Quality,
		PageSize:     feedConfig.PageSize,
		CronSchedule: feedConfig.CronSchedule,
		FeedURL:      fmt.Sprintf("%s/%s.xml", h.hostname, id),
	}

	if feedConfig.UpdatePeriod.Duration > 0 {
		resp.UpdatePeriod = feedConfig.UpdatePeriod.Duration.String()
	}

	if f, err := h.db.GetFeed(c.Request.Context(), id); err == nil {
		resp.Title = f.Title
		resp.Description = f.Description
		resp.EpisodeCount = len(f.Episodes)
		if !f.UpdatedAt.IsZero() {
			updated := f.UpdatedAt
			resp.LastUpdated = &updated
		}
	}

	return resp
}

// persistFeeds rewrites the feeds section of the config file.
func (h *Handler) persistFeeds(mutate func(feeds map[string]*feed.Config)) error {
	mutate(h.serviceConfig.Feeds)
	return h.configWriter.SetSection("feeds", h.serviceConfig.Feeds)
}

func applyFeedDefaults(feedConfig *feed.Config) {
	if feedConfig.UpdatePeriod.Duration == 0 {
		feedConfig.UpdatePeriod.Duration = model.DefaultUpdatePeriod
	}
	if feedConfig.Quality == "" {
		feedConfig.Quality = model.DefaultQuality
	}
	if feedConfig.Format == "" {
		feedConfig.Format = model.DefaultFormat
	}
	if feedConfig.PageSize == 0 {
		feedConfig.PageSize = model.DefaultPageSize
	}
	if feedConfig.PlaylistSort == "" {
		feedConfig.PlaylistSort = model.SortingAsc
	}
}

// Episodes

func (h *Handler) ListEpisodes(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var (
		feedID      = c.Query("feed_id")
		status      = c.Query("status")
		search      = strings.ToLower(c.Query("search"))
		showIgnored = c.Query("show_ignored") == "true"
		dateStart   = parseDate(c.Query("date_start"), false)
		dateEnd     = parseDate(c.Query("date_end"), true)
	)

	ctx := c.Request.Context()
	var allEpisodes []EpisodeResponse

	err := h.db.WalkFeeds(ctx, func(f *model.Feed) error {
		if feedID != "" && f.ID != feedID {
			return nil
		}

		feedConfig := h.updater.Feeds()[f.ID]

		return h.db.WalkEpisodes(ctx, f.ID, func(episode *model.Episode) error {
			if !showIgnored && episode.Status == model.EpisodeIgnored {
				return nil
			}
			if status != "" && string(episode.Status) != status {
				return nil
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(episode.Title), search) &&
				!strings.Contains(strings.ToLower(episode.Description), search) {
				return nil
			}
			if !dateStart.IsZero() && episode.PubDate.Before(dateStart) {
				return nil
			}
			if !dateEnd.IsZero() && episode.PubDate.After(dateEnd) {
				return nil
			}

			resp := EpisodeResponse{
				ID:          episode.ID,
				FeedID:      f.ID,
				FeedTitle:   f.Title,
				Title:       episode.Title,
				Description: episode.Description,
				Thumbnail:   episode.Thumbnail,
				Duration:    episode.Duration,
				Size:        episode.Size,
				VideoURL:    episode.VideoURL,
				PubDate:     episode.PubDate,
				Status:      episode.Status,
				Error:       episode.Error,
			}
			if feedConfig != nil && episode.Status == model.EpisodeDownloaded {
				resp.DownloadURL = fmt.Sprintf("%s/%s/%s", h.hostname, f.ID, feed.EpisodeName(feedConfig, episode))
			}

			allEpisodes = append(allEpisodes, resp)
			return nil
		})
	})
	if err != nil {
		slog.Error("Failed to list episodes", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list episodes"})
		return
	}

	// Newest first
	sort.Slice(allEpisodes, func(i, j int) bool {
		return allEpisodes[i].PubDate.After(allEpisodes[j].PubDate)
	})

	total := len(allEpisodes)
	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	pageItems := allEpisodes[start:end]
	if pageItems == nil {
		pageItems = []EpisodeResponse{}
	}

	c.JSON(http.StatusOK, EpisodeListResponse{
		Episodes:   pageItems,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// parseDate accepts RFC3339 or plain YYYY-MM-DD dates; a plain end date is
// extended to the end of the day.
func parseDate(raw string, endOfDay bool) time.Time {
	if raw == "" {
		return time.Time{}
	}

	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed
	}

	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}
	}

	if endOfDay {
		return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 23, 59, 59, 999999999, parsed.Location())
	}
	return parsed
}

func (h *Handler) DeleteEpisode(c *gin.Context) {
	feedID := c.Param("feedID")
	episodeID := c.Param("episodeID")

	if err := h.updater.DeleteEpisode(c.Request.Context(), feedID, episodeID); err != nil {
		slog.Error("Failed to delete episode", "feed", feedID, "episode", episodeID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to delete episode: %v", err)})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) RetryEpisode(c *gin.Context) {
	feedID := c.Param("feedID")
	episodeID := c.Param("episodeID")

	if err := h.updater.RetryEpisode(c.Request.Context(), feedID, episodeID); err != nil {
		slog.Error("Failed to retry episode", "feed", feedID, "episode", episodeID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to retry episode: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Episode retried successfully"})
}

func (h *Handler) BlockEpisode(c *gin.Context) {
	feedID := c.Param("feedID")
	episodeID := c.Param("episodeID")

	if err := h.updater.BlockEpisode(c.Request.Context(), feedID, episodeID); err != nil {
		slog.Error("Failed to block episode", "feed", feedID, "episode", episodeID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to block episode: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Episode blocked successfully"})
}
