package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/model"
	"github.com/lysyi3m/cast-comb/app/ytdl"
)

// MediaBuilder builds feed snapshots from the downloader's flat playlist
// dumps. It covers every provider the downloader itself can enumerate
// (YouTube, Vimeo, Twitch), which keeps the listing path free of provider
// API clients and quota handling.
type MediaBuilder struct {
	key     string
	fetcher MetadataFetcher
}

var _ Builder = (*MediaBuilder)(nil)

func NewMediaBuilder(key string, fetcher MetadataFetcher) *MediaBuilder {
	return &MediaBuilder{key: key, fetcher: fetcher}
}

func (b *MediaBuilder) Build(ctx context.Context, cfg *feed.Config) (*model.Feed, error) {
	info, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	dump, err := b.fetcher.PlaylistItems(ctx, cfg.URL, cfg.PageSize, cfg.PlaylistSort == model.SortingDesc)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", cfg.URL, err)
	}

	now := time.Now().UTC()

	result := &model.Feed{
		ID:          cfg.ID,
		ItemID:      dump.ID,
		LinkType:    info.LinkType,
		Provider:    info.Provider,
		Format:      cfg.Format,
		Quality:     cfg.Quality,
		PageSize:    cfg.PageSize,
		Title:       dump.Title,
		Description: dump.Description,
		Author:      dump.Channel,
		ItemURL:     firstNonEmpty(dump.WebpageURL, cfg.URL),
		CoverArt:    bestThumbnail(dump.Thumbnails),
		UpdatedAt:   now,
	}

	for _, entry := range dump.Entries {
		if entry.ID == "" {
			continue
		}

		episode := &model.Episode{
			ID:          entry.ID,
			Title:       entry.Title,
			Description: entry.Description,
			Thumbnail:   bestThumbnail(entry.Thumbnails),
			Duration:    int64(entry.Duration),
			VideoURL:    firstNonEmpty(entry.WebpageURL, entry.URL),
			PubDate:     entryPubDate(entry, now),
			Status:      model.EpisodeNew,
		}

		result.Episodes = append(result.Episodes, episode)
	}

	return result, nil
}

// entryPubDate prefers the exact timestamp, falls back to the upload date and
// finally to the fetch time so new episodes are never dated zero.
func entryPubDate(entry ytdl.PlaylistEntry, fallback time.Time) time.Time {
	if entry.Timestamp > 0 {
		return time.Unix(entry.Timestamp, 0).UTC()
	}
	if entry.UploadDate != "" {
		if parsed, err := time.Parse("20060102", entry.UploadDate); err == nil {
			return parsed
		}
	}
	return fallback
}

// bestThumbnail picks the highest resolution variant.
func bestThumbnail(thumbnails []ytdl.PlaylistMetadataThumbnail) string {
	var (
		best     string
		bestArea int
	)

	for _, t := range thumbnails {
		area := t.Width * t.Height
		if best == "" || area > bestArea {
			best = t.URL
			bestArea = area
		}
	}

	return best
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
