package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/cast-comb/app/model"
)

// ListHistory returns paginated history entries, newest first.
func (h *Handler) ListHistory(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	filters := model.HistoryFilters{
		FeedID:    c.Query("feed_id"),
		JobType:   model.JobType(c.Query("job_type")),
		Status:    model.JobStatus(c.Query("status")),
		Search:    c.Query("search"),
		StartDate: parseDate(c.Query("start_date"), false),
		EndDate:   parseDate(c.Query("end_date"), true),
	}

	entries, total, err := h.db.ListHistory(c.Request.Context(), filters, page, pageSize)
	if err != nil {
		slog.Error("Failed to list history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
		return
	}

	if entries == nil {
		entries = []*model.HistoryEntry{}
	}

	c.JSON(http.StatusOK, HistoryListResponse{
		Entries:    entries,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	})
}

func (h *Handler) GetHistory(c *gin.Context) {
	id := c.Param("id")

	entry, err := h.db.GetHistory(c.Request.Context(), id)
	if err != nil {
		if err == model.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "History entry not found"})
			return
		}
		slog.Error("Failed to get history entry", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history entry"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *Handler) DeleteHistory(c *gin.Context) {
	id := c.Param("id")

	if err := h.db.DeleteHistory(c.Request.Context(), id); err != nil {
		slog.Error("Failed to delete history entry", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete history entry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "History entry deleted successfully"})
}

// DeleteAllHistory removes every history entry.
func (h *Handler) DeleteAllHistory(c *gin.Context) {
	if err := h.db.CleanupHistory(c.Request.Context(), 0, 0); err != nil {
		slog.Error("Failed to delete all history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete all history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "All history entries deleted successfully"})
}

func (h *Handler) GetHistoryStats(c *gin.Context) {
	count, oldest, err := h.db.GetHistoryStats(c.Request.Context())
	if err != nil {
		slog.Error("Failed to get history stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history statistics"})
		return
	}

	c.JSON(http.StatusOK, HistoryStatsResponse{
		Count:       count,
		OldestEntry: oldest,
	})
}

// CleanupHistory applies the configured retention policy on demand.
func (h *Handler) CleanupHistory(c *gin.Context) {
	err := h.updater.HistoryRecorder().CleanupOldEntries(c.Request.Context(),
		h.serviceConfig.History.RetentionDays, h.serviceConfig.History.MaxEntries)
	if err != nil {
		slog.Error("Failed to cleanup history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cleanup history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "History cleanup completed successfully"})
}
