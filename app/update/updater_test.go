package update

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/cast-comb/app/builder"
	"github.com/lysyi3m/cast-comb/app/database"
	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/fs"
	"github.com/lysyi3m/cast-comb/app/history"
	"github.com/lysyi3m/cast-comb/app/model"
	"github.com/lysyi3m/cast-comb/app/ytdl"
)

// fakeDownloader serves canned content per episode ID and can be primed with
// per-episode errors.
type fakeDownloader struct {
	content map[string]string
	errors  map[string]error
	calls   []string
}

func (d *fakeDownloader) Download(_ context.Context, _ *feed.Config, episode *model.Episode, progressFn ytdl.ProgressFunc) (io.ReadCloser, error) {
	d.calls = append(d.calls, episode.ID)

	if err, ok := d.errors[episode.ID]; ok {
		return nil, err
	}

	if progressFn != nil {
		progressFn("downloading", 50, 512, 1024, "1.0MiB/s")
		progressFn("downloading", 100, 1024, 1024, "1.0MiB/s")
	}

	content, ok := d.content[episode.ID]
	if !ok {
		content = "media-" + episode.ID
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (d *fakeDownloader) PlaylistMetadata(context.Context, string) (ytdl.PlaylistMetadata, error) {
	return ytdl.PlaylistMetadata{}, nil
}

func (d *fakeDownloader) PlaylistItems(context.Context, string, int, bool) (ytdl.PlaylistMetadata, error) {
	return ytdl.PlaylistMetadata{}, nil
}

// fakeBuilder returns a deep copy of the prepared listing on every call.
type fakeBuilder struct {
	listing *model.Feed
}

func (b *fakeBuilder) Build(context.Context, *feed.Config) (*model.Feed, error) {
	snapshot := *b.listing
	snapshot.Episodes = make([]*model.Episode, len(b.listing.Episodes))
	for i, ep := range b.listing.Episodes {
		cp := *ep
		snapshot.Episodes[i] = &cp
	}
	return &snapshot, nil
}

type testEnv struct {
	manager    *Manager
	db         database.Storage
	store      *fs.Local
	downloader *fakeDownloader
	listing    *fakeBuilder
	feedConfig *feed.Config
}

func newTestEnv(t *testing.T, feedConfig *feed.Config, listing *model.Feed) *testEnv {
	t.Helper()

	db, err := database.NewBolt(&database.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := fs.NewLocal(t.TempDir())
	require.NoError(t, err)

	downloader := &fakeDownloader{
		content: make(map[string]string),
		errors:  make(map[string]error),
	}
	fb := &fakeBuilder{listing: listing}

	recorder := history.NewRecorder(db, true)

	manager := NewManager(
		map[string]*feed.Config{feedConfig.ID: feedConfig},
		nil,
		"http://localhost:8080",
		downloader,
		db,
		store,
		recorder,
	)
	manager.newBuilder = func(context.Context, model.Provider, string, builder.MetadataFetcher) (builder.Builder, error) {
		return fb, nil
	}

	return &testEnv{
		manager:    manager,
		db:         db,
		store:      store,
		downloader: downloader,
		listing:    fb,
		feedConfig: feedConfig,
	}
}

func audioFeedConfig(id string) *feed.Config {
	return &feed.Config{
		ID:       id,
		URL:      "https://youtube.com/channel/UCtest",
		Format:   model.FormatAudio,
		Quality:  model.QualityHigh,
		PageSize: 50,
	}
}

func listingWith(episodes ...*model.Episode) *model.Feed {
	return &model.Feed{
		ID:       "f1",
		Title:    "Test Channel",
		Episodes: episodes,
	}
}

func episode(id string, duration int64, pubDate time.Time) *model.Episode {
	return &model.Episode{
		ID:       id,
		Title:    "Episode " + id,
		Duration: duration,
		VideoURL: "https://youtube.com/watch?v=" + id,
		PubDate:  pubDate,
		Status:   model.EpisodeNew,
	}
}

func episodeStatus(t *testing.T, env *testEnv, id string) model.EpisodeStatus {
	t.Helper()
	ep, err := env.db.GetEpisode(context.Background(), env.feedConfig.ID, id)
	require.NoError(t, err)
	return ep.Status
}

func latestFeedUpdateEntry(t *testing.T, env *testEnv) *model.HistoryEntry {
	t.Helper()
	entries, _, err := env.db.ListHistory(context.Background(),
		model.HistoryFilters{JobType: model.JobTypeFeedUpdate}, 1, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	return entries[0]
}

func TestUpdate_FreshFeedAllSucceed(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	env := newTestEnv(t, cfg, listingWith(
		episode("a", 120, now.Add(-3*time.Hour)),
		episode("b", 300, now.Add(-2*time.Hour)),
		episode("c", 60, now.Add(-1*time.Hour)),
	))

	require.NoError(t, env.manager.Update(context.Background(), cfg, model.TriggerScheduled))

	ctx := context.Background()
	var totalBytes int64
	for _, id := range []string{"a", "b", "c"} {
		ep, err := env.db.GetEpisode(ctx, "f1", id)
		require.NoError(t, err)
		assert.Equal(t, model.EpisodeDownloaded, ep.Status)

		// Stored size must match the artifact in the store
		size, err := env.store.Size(ctx, fmt.Sprintf("f1/%s.mp3", id))
		require.NoError(t, err)
		assert.Equal(t, size, ep.Size)
		totalBytes += size
	}

	// The published document must exist
	_, err := env.store.Size(ctx, "f1.xml")
	require.NoError(t, err)
	_, err = env.store.Size(ctx, "castcomb.opml")
	require.NoError(t, err)

	entry := latestFeedUpdateEntry(t, env)
	assert.Equal(t, model.JobStatusSuccess, entry.Status)
	assert.Equal(t, 3, entry.Statistics.EpisodesQueued)
	assert.Equal(t, 3, entry.Statistics.EpisodesDownloaded)
	assert.Equal(t, 0, entry.Statistics.EpisodesFailed)
	assert.Equal(t, totalBytes, entry.Statistics.BytesDownloaded)
	assert.Len(t, entry.Statistics.EpisodeDetails, 3)
	require.NotNil(t, entry.EndTime)
	assert.False(t, entry.EndTime.Before(entry.StartTime))
	assert.Equal(t, entry.EndTime.Sub(entry.StartTime), entry.Duration)
}

func TestUpdate_FilterRejectsShortEpisodes(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	cfg.Filters = feed.Filters{MinDuration: 120}

	env := newTestEnv(t, cfg, listingWith(
		episode("short", 60, now.Add(-2*time.Hour)),
		episode("long", 200, now.Add(-1*time.Hour)),
	))

	require.NoError(t, env.manager.Update(context.Background(), cfg, model.TriggerScheduled))

	assert.Equal(t, model.EpisodeIgnored, episodeStatus(t, env, "short"))
	assert.Equal(t, model.EpisodeDownloaded, episodeStatus(t, env, "long"))

	entry := latestFeedUpdateEntry(t, env)
	assert.Equal(t, model.JobStatusSuccess, entry.Status)
	assert.Equal(t, 1, entry.Statistics.EpisodesQueued)
	assert.Equal(t, 1, entry.Statistics.EpisodesDownloaded)
	assert.Equal(t, 1, entry.Statistics.EpisodesIgnored)

	// The rejected episode must not be re-evaluated on the next run
	require.NoError(t, env.manager.Update(context.Background(), cfg, model.TriggerScheduled))
	assert.Equal(t, model.EpisodeIgnored, episodeStatus(t, env, "short"))
	assert.NotContains(t, env.downloader.calls, "short")
}

func TestUpdate_RateLimitMidRun(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	env := newTestEnv(t, cfg, listingWith(
		episode("a", 120, now.Add(-3*time.Hour)),
		episode("b", 120, now.Add(-2*time.Hour)),
		episode("c", 120, now.Add(-1*time.Hour)),
	))
	env.downloader.errors["b"] = ytdl.ErrTooManyRequests

	require.NoError(t, env.manager.Update(context.Background(), cfg, model.TriggerScheduled))

	assert.Equal(t, model.EpisodeDownloaded, episodeStatus(t, env, "a"))
	assert.Equal(t, model.EpisodeQueued, episodeStatus(t, env, "b"))
	assert.Equal(t, model.EpisodeQueued, episodeStatus(t, env, "c"))

	// c must never have been attempted
	assert.NotContains(t, env.downloader.calls, "c")

	// The document is still rebuilt
	_, err := env.store.Size(context.Background(), "f1.xml")
	require.NoError(t, err)

	entry := latestFeedUpdateEntry(t, env)
	assert.Equal(t, model.JobStatusPartial, entry.Status)
	assert.Equal(t, 1, entry.Statistics.EpisodesDownloaded)
	assert.Equal(t, 0, entry.Statistics.EpisodesFailed)
	assert.Empty(t, entry.Error)
}

func TestUpdate_DownloadErrorContinues(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	env := newTestEnv(t, cfg, listingWith(
		episode("bad", 120, now.Add(-2*time.Hour)),
		episode("good", 120, now.Add(-1*time.Hour)),
	))
	env.downloader.errors["bad"] = fmt.Errorf("video unavailable")

	require.NoError(t, env.manager.Update(context.Background(), cfg, model.TriggerScheduled))

	badEp, err := env.db.GetEpisode(context.Background(), "f1", "bad")
	require.NoError(t, err)
	assert.Equal(t, model.EpisodeError, badEp.Status)
	assert.Contains(t, badEp.Error, "video unavailable")

	assert.Equal(t, model.EpisodeDownloaded, episodeStatus(t, env, "good"))

	entry := latestFeedUpdateEntry(t, env)
	assert.Equal(t, model.JobStatusPartial, entry.Status)
	assert.Equal(t, 1, entry.Statistics.EpisodesDownloaded)
	assert.Equal(t, 1, entry.Statistics.EpisodesFailed)
}

func TestUpdate_BlockSticksThroughRefresh(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	env := newTestEnv(t, cfg, listingWith(
		episode("a", 120, now.Add(-1*time.Hour)),
	))

	ctx := context.Background()
	require.NoError(t, env.manager.Update(ctx, cfg, model.TriggerScheduled))
	assert.Equal(t, model.EpisodeDownloaded, episodeStatus(t, env, "a"))

	require.NoError(t, env.manager.BlockEpisode(ctx, "f1", "a"))
	assert.Equal(t, model.EpisodeBlocked, episodeStatus(t, env, "a"))

	// Artifact is removed
	_, err := env.store.Size(ctx, "f1/a.mp3")
	assert.Error(t, err)

	// The listing still returns the episode; the block must stick
	require.NoError(t, env.manager.Update(ctx, cfg, model.TriggerScheduled))
	assert.Equal(t, model.EpisodeBlocked, episodeStatus(t, env, "a"))
	assert.NotContains(t, env.downloader.calls[1:], "a")

	// Not present in the published document
	f, err := env.store.Open("f1.xml")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "<guid isPermaLink=\"false\">a</guid>")

	// One block entry plus the update entries
	blocks, total, err := env.db.ListHistory(ctx, model.HistoryFilters{JobType: model.JobTypeEpisodeBlock}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, model.JobStatusSuccess, blocks[0].Status)
}

func TestUpdate_BlockUnknownEpisodeCreatesStub(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	env := newTestEnv(t, cfg, listingWith(
		episode("x", 120, now),
	))

	ctx := context.Background()
	require.NoError(t, env.manager.BlockEpisode(ctx, "f1", "x"))
	assert.Equal(t, model.EpisodeBlocked, episodeStatus(t, env, "x"))

	// The next update must not resurrect or download the blocked episode
	require.NoError(t, env.manager.Update(ctx, cfg, model.TriggerScheduled))
	assert.Equal(t, model.EpisodeBlocked, episodeStatus(t, env, "x"))
	assert.Empty(t, env.downloader.calls)
}

func TestUpdate_CleanupKeepsLastTwo(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	cfg.Clean = &feed.Cleanup{KeepLast: 2}

	env := newTestEnv(t, cfg, listingWith(
		episode("t1", 120, now.Add(-4*time.Hour)),
		episode("t2", 120, now.Add(-3*time.Hour)),
		episode("t3", 120, now.Add(-2*time.Hour)),
		episode("t4", 120, now.Add(-1*time.Hour)),
	))

	ctx := context.Background()
	require.NoError(t, env.manager.Update(ctx, cfg, model.TriggerScheduled))

	assert.Equal(t, model.EpisodeDownloaded, episodeStatus(t, env, "t3"))
	assert.Equal(t, model.EpisodeDownloaded, episodeStatus(t, env, "t4"))

	for _, id := range []string{"t1", "t2"} {
		ep, err := env.db.GetEpisode(ctx, "f1", id)
		require.NoError(t, err)
		assert.Equal(t, model.EpisodeCleaned, ep.Status)
		assert.Empty(t, ep.Title)
		assert.Empty(t, ep.Description)

		_, err = env.store.Size(ctx, fmt.Sprintf("f1/%s.mp3", id))
		assert.Error(t, err)
	}
}

func TestUpdate_SecondRunIsIdempotent(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	env := newTestEnv(t, cfg, listingWith(
		episode("a", 120, now.Add(-2*time.Hour)),
		episode("b", 120, now.Add(-1*time.Hour)),
	))

	ctx := context.Background()
	require.NoError(t, env.manager.Update(ctx, cfg, model.TriggerScheduled))
	firstCalls := len(env.downloader.calls)

	require.NoError(t, env.manager.Update(ctx, cfg, model.TriggerScheduled))

	// Nothing new to download on the second run
	assert.Equal(t, firstCalls, len(env.downloader.calls))
	assert.Equal(t, model.EpisodeDownloaded, episodeStatus(t, env, "a"))
	assert.Equal(t, model.EpisodeDownloaded, episodeStatus(t, env, "b"))
}

func TestUpdate_PageSizeZeroStillPublishes(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	cfg.PageSize = 0

	env := newTestEnv(t, cfg, listingWith(
		episode("a", 120, now),
	))

	ctx := context.Background()
	require.NoError(t, env.manager.Update(ctx, cfg, model.TriggerScheduled))

	assert.Empty(t, env.downloader.calls)
	assert.Equal(t, model.EpisodeNew, episodeStatus(t, env, "a"))

	_, err := env.store.Size(ctx, "f1.xml")
	require.NoError(t, err)
}

func TestUpdate_StaleNewEpisodesAreRemoved(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	cfg.PageSize = 0 // Keep everything in status new

	env := newTestEnv(t, cfg, listingWith(
		episode("keep", 120, now.Add(-2*time.Hour)),
		episode("gone", 120, now.Add(-1*time.Hour)),
	))

	ctx := context.Background()
	require.NoError(t, env.manager.Update(ctx, cfg, model.TriggerScheduled))

	// Upstream dropped "gone"
	env.listing.listing = listingWith(episode("keep", 120, now.Add(-2*time.Hour)))
	require.NoError(t, env.manager.Update(ctx, cfg, model.TriggerScheduled))

	_, err := env.db.GetEpisode(ctx, "f1", "gone")
	assert.Equal(t, model.ErrNotFound, err)
	assert.Equal(t, model.EpisodeNew, episodeStatus(t, env, "keep"))
}

func TestRetryEpisode_ExistingArtifactSkipsDownloader(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	env := newTestEnv(t, cfg, listingWith(
		episode("a", 120, now),
	))

	ctx := context.Background()
	require.NoError(t, env.manager.Update(ctx, cfg, model.TriggerScheduled))
	require.Equal(t, model.EpisodeDownloaded, episodeStatus(t, env, "a"))

	// Force an error state without touching the artifact
	require.NoError(t, env.db.UpdateEpisode("f1", "a", func(ep *model.Episode) error {
		ep.Status = model.EpisodeError
		ep.Error = "transient"
		return nil
	}))

	callsBefore := len(env.downloader.calls)
	require.NoError(t, env.manager.RetryEpisode(ctx, "f1", "a"))

	assert.Equal(t, callsBefore, len(env.downloader.calls))

	ep, err := env.db.GetEpisode(ctx, "f1", "a")
	require.NoError(t, err)
	assert.Equal(t, model.EpisodeDownloaded, ep.Status)
	assert.Empty(t, ep.Error)

	retries, total, err := env.db.ListHistory(ctx, model.HistoryFilters{JobType: model.JobTypeEpisodeRetry}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, model.JobStatusSuccess, retries[0].Status)
}

func TestDeleteEpisode_RemovesRecordAndArtifact(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	env := newTestEnv(t, cfg, listingWith(
		episode("a", 120, now),
	))

	ctx := context.Background()
	require.NoError(t, env.manager.Update(ctx, cfg, model.TriggerScheduled))
	require.NoError(t, env.manager.DeleteEpisode(ctx, "f1", "a"))

	_, err := env.db.GetEpisode(ctx, "f1", "a")
	assert.Equal(t, model.ErrNotFound, err)

	_, err = env.store.Size(ctx, "f1/a.mp3")
	assert.Error(t, err)
}

func TestDeleteFeed_KeepsHistory(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	env := newTestEnv(t, cfg, listingWith(
		episode("a", 120, now),
	))

	ctx := context.Background()
	require.NoError(t, env.manager.Update(ctx, cfg, model.TriggerScheduled))
	require.NoError(t, env.manager.DeleteFeed(ctx, "f1"))

	_, err := env.db.GetFeed(ctx, "f1")
	assert.Equal(t, model.ErrNotFound, err)

	_, total, err := env.db.ListHistory(ctx, model.HistoryFilters{FeedID: "f1"}, 1, 10)
	require.NoError(t, err)
	assert.Greater(t, total, 0)
}

func TestUpdate_ProgressClearedAfterRun(t *testing.T) {
	now := time.Now()
	cfg := audioFeedConfig("f1")
	env := newTestEnv(t, cfg, listingWith(
		episode("a", 120, now),
	))

	require.NoError(t, env.manager.Update(context.Background(), cfg, model.TriggerScheduled))

	assert.False(t, env.manager.ProgressTracker().HasActiveDownloads())
}
