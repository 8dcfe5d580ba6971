package builder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/model"
)

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Artist Tracks</title>
    <link>https://soundcloud.com/artist</link>
    <description>&lt;p&gt;All the &lt;b&gt;tracks&lt;/b&gt;&lt;/p&gt;</description>
    <item>
      <guid>tag:soundcloud,2010:tracks/111</guid>
      <title>Track One</title>
      <link>https://soundcloud.com/artist/track-one</link>
      <pubDate>Mon, 04 Mar 2024 10:00:00 +0000</pubDate>
      <description>First track</description>
      <itunes:duration>04:20</itunes:duration>
      <enclosure url="https://feeds.soundcloud.com/stream/111.mp3" length="100" type="audio/mpeg"/>
    </item>
    <item>
      <guid>tag:soundcloud,2010:tracks/222</guid>
      <title>Track Two</title>
      <link>https://soundcloud.com/artist/track-two</link>
      <pubDate>Tue, 05 Mar 2024 10:00:00 +0000</pubDate>
      <description>Second track</description>
      <itunes:duration>3600</itunes:duration>
    </item>
  </channel>
</rss>`

func TestRSSBuilder_Build(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testRSS))
	}))
	defer srv.Close()

	cfg := &feed.Config{
		ID:       "sc1",
		URL:      srv.URL,
		PageSize: 50,
		Format:   model.FormatAudio,
	}

	b := NewRSSBuilder()
	result, err := b.Build(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "Artist Tracks", result.Title)
	assert.Equal(t, model.ProviderSoundcloud, result.Provider)
	assert.Equal(t, "All the tracks", result.Description)
	assert.Equal(t, "https://soundcloud.com/artist", result.ItemURL)

	require.Len(t, result.Episodes, 2)

	first := result.Episodes[0]
	assert.Equal(t, "Track One", first.Title)
	assert.Equal(t, model.EpisodeNew, first.Status)
	assert.Equal(t, int64(260), first.Duration)
	assert.Equal(t, "https://soundcloud.com/artist/track-one", first.VideoURL)
	assert.NotContains(t, first.ID, "/")

	second := result.Episodes[1]
	assert.Equal(t, int64(3600), second.Duration)
}

func TestRSSBuilder_PageSizeBoundsEpisodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(testRSS))
	}))
	defer srv.Close()

	cfg := &feed.Config{ID: "sc1", URL: srv.URL, PageSize: 1}

	result, err := NewRSSBuilder().Build(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, result.Episodes, 1)
}

func TestRSSBuilder_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewRSSBuilder().Build(context.Background(), &feed.Config{ID: "sc1", URL: srv.URL})
	assert.Error(t, err)
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "plain", plainText("plain"))
	assert.Equal(t, "bold and linked", plainText("<p><b>bold</b> and <a href='#'>linked</a></p>"))
	assert.Equal(t, "", plainText(""))
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "tag-soundcloud,2010-tracks-111", sanitizeID("tag:soundcloud,2010:tracks/111"))
	assert.Equal(t, "example.com-feed-42", sanitizeID("https://example.com/feed/42"))
	assert.NotContains(t, sanitizeID("a/b:c?d&e#f g"), "/")
}

func TestParseITunesDuration(t *testing.T) {
	assert.Equal(t, int64(260), parseITunesDuration("04:20"))
	assert.Equal(t, int64(3600), parseITunesDuration("3600"))
	assert.Equal(t, int64(3725), parseITunesDuration("1:02:05"))
	assert.Equal(t, int64(0), parseITunesDuration("bogus"))
}
