package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/cast-comb/app/config"
	"github.com/lysyi3m/cast-comb/app/database"
	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/history"
	"github.com/lysyi3m/cast-comb/app/model"
	"github.com/lysyi3m/cast-comb/app/progress"
)

type fakeUpdater struct {
	feeds    map[string]*feed.Config
	tracker  *progress.Tracker
	recorder *history.Recorder
	deleted  []string
	retried  []string
	blocked  []string
}

func (f *fakeUpdater) DeleteEpisode(_ context.Context, feedID, episodeID string) error {
	f.deleted = append(f.deleted, feedID+"/"+episodeID)
	return nil
}

func (f *fakeUpdater) BlockEpisode(_ context.Context, feedID, episodeID string) error {
	f.blocked = append(f.blocked, feedID+"/"+episodeID)
	return nil
}

func (f *fakeUpdater) RetryEpisode(_ context.Context, feedID, episodeID string) error {
	f.retried = append(f.retried, feedID+"/"+episodeID)
	return nil
}

func (f *fakeUpdater) DeleteFeed(_ context.Context, feedID string) error {
	delete(f.feeds, feedID)
	return nil
}

func (f *fakeUpdater) ProgressTracker() *progress.Tracker   { return f.tracker }
func (f *fakeUpdater) HistoryRecorder() *history.Recorder   { return f.recorder }
func (f *fakeUpdater) Feeds() map[string]*feed.Config       { return f.feeds }

type fakeRefresher struct {
	enqueued []string
	added    []string
	removed  []string
}

func (f *fakeRefresher) Enqueue(feedID string, _ model.TriggerType) error {
	f.enqueued = append(f.enqueued, feedID)
	return nil
}

func (f *fakeRefresher) AddFeed(feedConfig *feed.Config) error {
	f.added = append(f.added, feedConfig.ID)
	return nil
}

func (f *fakeRefresher) RemoveFeed(feedID string) {
	f.removed = append(f.removed, feedID)
}

type apiTestEnv struct {
	engine    *gin.Engine
	db        database.Storage
	updater   *fakeUpdater
	refresher *fakeRefresher
	cfg       *config.Config
}

func newAPITestEnv(t *testing.T, serverConfig config.ServerConfig) *apiTestEnv {
	t.Helper()

	db, err := database.NewBolt(&database.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	feeds := map[string]*feed.Config{
		"f1": {
			ID:       "f1",
			URL:      "https://youtube.com/channel/UCtest",
			Format:   model.FormatAudio,
			Quality:  model.QualityHigh,
			PageSize: 50,
		},
	}

	serverConfig.Hostname = "http://localhost:8080"
	serviceConfig := &config.Config{
		Server: serverConfig,
		Feeds:  feeds,
		History: config.HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
			MaxEntries:    1000,
		},
	}

	updater := &fakeUpdater{
		feeds:    feeds,
		tracker:  progress.New(),
		recorder: history.NewRecorder(db, true),
	}
	refresher := &fakeRefresher{}

	writer := config.NewWriter(filepath.Join(t.TempDir(), "config.yml"))
	handler := NewHandler(serviceConfig, writer, db, updater, refresher, func() {})
	engine := NewServer(handler, serverConfig, nil)

	return &apiTestEnv{
		engine:    engine,
		db:        db,
		updater:   updater,
		refresher: refresher,
		cfg:       serviceConfig,
	}
}

func (env *apiTestEnv) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	return w
}

func TestAPI_Health(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{})

	w := env.request(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "feeds")
}

func TestAPI_ListFeeds(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{})

	w := env.request(t, http.MethodGet, "/api/v1/feeds", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Feeds []FeedResponse `json:"feeds"`
		Total int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "f1", resp.Feeds[0].ID)
	assert.Equal(t, "http://localhost:8080/f1.xml", resp.Feeds[0].FeedURL)
}

func TestAPI_CreateFeed(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{})

	w := env.request(t, http.MethodPost, "/api/v1/feeds",
		`{"id": "new", "url": "https://youtube.com/channel/UCnew", "format": "audio"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Contains(t, env.updater.feeds, "new")
	assert.Equal(t, []string{"new"}, env.refresher.added)

	// Defaults applied
	assert.Equal(t, model.DefaultPageSize, env.updater.feeds["new"].PageSize)

	// Duplicate rejected
	w = env.request(t, http.MethodPost, "/api/v1/feeds",
		`{"id": "new", "url": "https://youtube.com/channel/UCnew"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	// URL required
	w = env.request(t, http.MethodPost, "/api/v1/feeds", `{"id": "nourl"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_CreatePrivateFeedGetsRandomID(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{})

	w := env.request(t, http.MethodPost, "/api/v1/feeds",
		`{"url": "https://youtube.com/channel/UCp", "private_feed": true}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp FeedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.ID, 16)
}

func TestAPI_DeleteFeed(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{})

	w := env.request(t, http.MethodDelete, "/api/v1/feeds/f1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotContains(t, env.updater.feeds, "f1")
	assert.Equal(t, []string{"f1"}, env.refresher.removed)

	w = env.request(t, http.MethodDelete, "/api/v1/feeds/f1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_RefreshFeed(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{})

	w := env.request(t, http.MethodPost, "/api/v1/feeds/f1/refresh", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"f1"}, env.refresher.enqueued)

	w = env.request(t, http.MethodPost, "/api/v1/feeds/ghost/refresh", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func seedEpisodes(t *testing.T, env *apiTestEnv) {
	t.Helper()

	now := time.Now().UTC()
	require.NoError(t, env.db.AddFeed(context.Background(), "f1", &model.Feed{
		ID:    "f1",
		Title: "Feed One",
		Episodes: []*model.Episode{
			{ID: "a", Title: "Downloaded", Status: model.EpisodeDownloaded, Size: 10, PubDate: now},
			{ID: "b", Title: "Pending", Status: model.EpisodeNew, PubDate: now.Add(-time.Hour)},
			{ID: "c", Title: "Skipped", Status: model.EpisodeIgnored, PubDate: now.Add(-2 * time.Hour)},
		},
	}))
}

func TestAPI_ListEpisodes(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{})
	seedEpisodes(t, env)

	w := env.request(t, http.MethodGet, "/api/v1/episodes", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp EpisodeListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// Ignored episodes are hidden by default
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "a", resp.Episodes[0].ID)
	assert.Equal(t, "http://localhost:8080/f1/a.mp3", resp.Episodes[0].DownloadURL)

	// show_ignored reveals them
	w = env.request(t, http.MethodGet, "/api/v1/episodes?show_ignored=true", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)

	// Status filter
	w = env.request(t, http.MethodGet, "/api/v1/episodes?status=downloaded", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)

	// Search
	w = env.request(t, http.MethodGet, "/api/v1/episodes?search=pending", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "b", resp.Episodes[0].ID)
}

func TestAPI_EpisodeOperations(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{})

	w := env.request(t, http.MethodDelete, "/api/v1/episodes/f1/e1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"f1/e1"}, env.updater.deleted)

	w = env.request(t, http.MethodPost, "/api/v1/episodes/f1/e2/retry", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"f1/e2"}, env.updater.retried)

	w = env.request(t, http.MethodPost, "/api/v1/episodes/f1/e3/block", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"f1/e3"}, env.updater.blocked)
}

func TestAPI_ProgressSnapshot(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{})

	env.updater.tracker.InitFeedProgress("f1", 2)
	env.updater.tracker.StartEpisode("f1", "e1", "Episode 1")

	w := env.request(t, http.MethodGet, "/api/v1/progress", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ProgressResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp.Feeds, "f1")
	assert.Equal(t, 2, resp.Feeds["f1"].TotalEpisodes)
	require.Len(t, resp.Episodes, 1)
	assert.Equal(t, "e1", resp.Episodes[0].EpisodeID)
}

func TestAPI_History(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{})
	ctx := context.Background()

	id, err := env.updater.recorder.LogFeedUpdateStart(ctx, "f1", "Feed One", model.TriggerScheduled)
	require.NoError(t, err)
	require.NoError(t, env.updater.recorder.LogFeedUpdateEnd(ctx, id, model.JobStatusSuccess, model.JobStatistics{}, ""))

	w := env.request(t, http.MethodGet, "/api/v1/history", "")
	require.Equal(t, http.StatusOK, w.Code)

	var list HistoryListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)

	w = env.request(t, http.MethodGet, "/api/v1/history/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/api/v1/history/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats HistoryStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Count)

	w = env.request(t, http.MethodDelete, "/api/v1/history/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/api/v1/history/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_ConfigSectionUpdate(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{})

	w := env.request(t, http.MethodPut, "/api/v1/config/history",
		`{"enabled": true, "retention_days": 7, "max_entries": 50}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, 7, env.cfg.History.RetentionDays)
	assert.Equal(t, 50, env.cfg.History.MaxEntries)

	w = env.request(t, http.MethodPut, "/api/v1/config/bogus", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_GetConfigHidesPassword(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{
		Auth: config.AuthConfig{Enabled: false, Username: "admin", Password: "secret"},
	})

	w := env.request(t, http.MethodGet, "/api/v1/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestAPI_BasicAuth(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{
		Auth: config.AuthConfig{Enabled: true, Username: "admin", Password: "pass"},
	})

	w := env.request(t, http.MethodGet, "/api/v1/feeds", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feeds", nil)
	req.SetBasicAuth("admin", "pass")
	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/feeds", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_CORSPreflight(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{})

	w := env.request(t, http.MethodOptions, "/api/v1/feeds", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPI_Restart(t *testing.T) {
	restarted := make(chan struct{}, 1)

	env := newAPITestEnv(t, config.ServerConfig{})
	// Swap in an observable restart hook
	db := env.db
	writer := config.NewWriter(filepath.Join(t.TempDir(), "config.yml"))
	handler := NewHandler(env.cfg, writer, db, env.updater, env.refresher, func() {
		restarted <- struct{}{}
	})
	engine := NewServer(handler, env.cfg.Server, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/config/restart", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-restarted:
	case <-time.After(time.Second):
		t.Fatal("restart hook was not invoked")
	}
}

func TestAPI_ProgressStreamDisconnects(t *testing.T) {
	env := newAPITestEnv(t, config.ServerConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		env.engine.ServeHTTP(rec, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate after client disconnect")
	}

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: "), "got %q", body)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.Split(body, "\n")[0], "data: ")), &ProgressResponse{}))
}
