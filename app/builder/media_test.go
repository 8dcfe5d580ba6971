package builder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/model"
	"github.com/lysyi3m/cast-comb/app/ytdl"
)

type stubFetcher struct {
	dump        ytdl.PlaylistMetadata
	gotURL      string
	gotCount    int
	newestFirst bool
}

func (s *stubFetcher) PlaylistMetadata(_ context.Context, url string) (ytdl.PlaylistMetadata, error) {
	return s.dump, nil
}

func (s *stubFetcher) PlaylistItems(_ context.Context, url string, count int, newestFirst bool) (ytdl.PlaylistMetadata, error) {
	s.gotURL = url
	s.gotCount = count
	s.newestFirst = newestFirst
	return s.dump, nil
}

func TestMediaBuilder_Build(t *testing.T) {
	fetcher := &stubFetcher{
		dump: ytdl.PlaylistMetadata{
			ID:          "UCtest",
			Title:       "Test Channel",
			Description: "About tests",
			Channel:     "Tester",
			WebpageURL:  "https://youtube.com/channel/UCtest",
			Thumbnails: []ytdl.PlaylistMetadataThumbnail{
				{URL: "https://img/small.jpg", Width: 100, Height: 100},
				{URL: "https://img/big.jpg", Width: 800, Height: 800},
			},
			Entries: []ytdl.PlaylistEntry{
				{
					ID:         "v1",
					Title:      "Video One",
					Duration:   120.7,
					WebpageURL: "https://youtube.com/watch?v=v1",
					Timestamp:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Unix(),
				},
				{
					ID:         "v2",
					Title:      "Video Two",
					Duration:   60,
					URL:        "https://youtube.com/watch?v=v2",
					UploadDate: "20240302",
				},
				{
					// Entries without an ID are dropped
					Title: "broken",
				},
			},
		},
	}

	cfg := &feed.Config{
		ID:           "f1",
		URL:          "https://youtube.com/channel/UCtest",
		PageSize:     25,
		Format:       model.FormatVideo,
		Quality:      model.QualityHigh,
		PlaylistSort: model.SortingDesc,
	}

	b := NewMediaBuilder("", fetcher)
	result, err := b.Build(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "https://youtube.com/channel/UCtest", fetcher.gotURL)
	assert.Equal(t, 25, fetcher.gotCount)
	assert.True(t, fetcher.newestFirst)

	assert.Equal(t, "f1", result.ID)
	assert.Equal(t, model.ProviderYoutube, result.Provider)
	assert.Equal(t, model.TypeChannel, result.LinkType)
	assert.Equal(t, "Test Channel", result.Title)
	assert.Equal(t, "Tester", result.Author)
	assert.Equal(t, "https://img/big.jpg", result.CoverArt)

	require.Len(t, result.Episodes, 2)

	v1 := result.Episodes[0]
	assert.Equal(t, "v1", v1.ID)
	assert.Equal(t, model.EpisodeNew, v1.Status)
	assert.Equal(t, int64(120), v1.Duration)
	assert.Equal(t, "https://youtube.com/watch?v=v1", v1.VideoURL)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), v1.PubDate)

	v2 := result.Episodes[1]
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), v2.PubDate)
	assert.Equal(t, "https://youtube.com/watch?v=v2", v2.VideoURL)
}

func TestMediaBuilder_InvalidURL(t *testing.T) {
	b := NewMediaBuilder("", &stubFetcher{})
	_, err := b.Build(context.Background(), &feed.Config{ID: "f1", URL: "https://example.com/nope"})
	assert.Error(t, err)
}

func TestBestThumbnail(t *testing.T) {
	assert.Empty(t, bestThumbnail(nil))

	thumbs := []ytdl.PlaylistMetadataThumbnail{
		{URL: "a", Width: 10, Height: 10},
		{URL: "b", Width: 20, Height: 20},
		{URL: "c"},
	}
	assert.Equal(t, "b", bestThumbnail(thumbs))
}
