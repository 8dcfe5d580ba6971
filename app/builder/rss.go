package builder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/model"
)

// RSSBuilder builds feed snapshots from an RSS/Atom document. SoundCloud
// exposes per-user RSS feeds, so the configured URL is fetched and parsed
// directly instead of going through a provider API.
type RSSBuilder struct {
	parser *gofeed.Parser
	client *http.Client
}

var _ Builder = (*RSSBuilder)(nil)

func NewRSSBuilder() *RSSBuilder {
	return &RSSBuilder{
		parser: gofeed.NewParser(),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *RSSBuilder) Build(ctx context.Context, cfg *feed.Config) (*model.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	parsed, err := b.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	now := time.Now().UTC()

	result := &model.Feed{
		ID:          cfg.ID,
		ItemID:      cfg.URL,
		LinkType:    model.TypeUser,
		Provider:    model.ProviderSoundcloud,
		Format:      cfg.Format,
		Quality:     cfg.Quality,
		PageSize:    cfg.PageSize,
		Title:       parsed.Title,
		Description: plainText(parsed.Description),
		ItemURL:     firstNonEmpty(parsed.Link, cfg.URL),
		UpdatedAt:   now,
	}

	if parsed.Image != nil {
		result.CoverArt = parsed.Image.URL
	}
	if len(parsed.Authors) > 0 {
		result.Author = parsed.Authors[0].Name
	}

	items := parsed.Items
	if cfg.PageSize > 0 && len(items) > cfg.PageSize {
		items = items[:cfg.PageSize]
	}

	for _, item := range items {
		episode := itemToEpisode(item, now)
		if episode != nil {
			result.Episodes = append(result.Episodes, episode)
		}
	}

	return result, nil
}

func itemToEpisode(item *gofeed.Item, fallback time.Time) *model.Episode {
	id := firstNonEmpty(item.GUID, item.Link)
	if id == "" {
		return nil
	}

	episode := &model.Episode{
		ID:          sanitizeID(id),
		Title:       item.Title,
		Description: plainText(item.Description),
		VideoURL:    firstNonEmpty(item.Link, enclosureURL(item)),
		PubDate:     fallback,
		Status:      model.EpisodeNew,
	}

	if item.PublishedParsed != nil {
		episode.PubDate = item.PublishedParsed.UTC()
	}
	if item.Image != nil {
		episode.Thumbnail = item.Image.URL
	}
	if item.ITunesExt != nil && item.ITunesExt.Duration != "" {
		episode.Duration = parseITunesDuration(item.ITunesExt.Duration)
	}

	return episode
}

func enclosureURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

// sanitizeID makes an RSS GUID usable as a path segment of the storage key
// and the artifact file name.
func sanitizeID(id string) string {
	replacer := strings.NewReplacer("/", "-", ":", "-", "?", "", "&", "-", "#", "", " ", "_")
	return replacer.Replace(strings.TrimPrefix(strings.TrimPrefix(id, "https://"), "http://"))
}

// plainText strips HTML markup from feed-provided descriptions.
func plainText(html string) string {
	if html == "" || !strings.ContainsAny(html, "<>") {
		return strings.TrimSpace(html)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}

	return strings.TrimSpace(doc.Text())
}

// parseITunesDuration accepts either plain seconds or HH:MM:SS notation.
func parseITunesDuration(raw string) int64 {
	parts := strings.Split(raw, ":")

	var seconds int64
	for _, part := range parts {
		var n int64
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%d", &n); err != nil {
			return 0
		}
		seconds = seconds*60 + n
	}

	return seconds
}
