package feed

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"sort"
	"time"

	"github.com/lysyi3m/cast-comb/app/model"
)

// FeedProvider is the subset of the storage gateway OPML generation needs.
type FeedProvider interface {
	GetFeed(ctx context.Context, feedID string) (*model.Feed, error)
}

// BuildOPML renders an OPML subscription list of every feed flagged for OPML
// inclusion. Private feeds are skipped regardless of the flag.
func BuildOPML(ctx context.Context, feeds map[string]*Config, storage FeedProvider, hostname string) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n<opml version=\"1.0\">\n")
	buf.WriteString("  <head>\n")
	writeElement(&buf, "title", "cast-comb feeds", 4)
	writeElement(&buf, "dateCreated", time.Now().UTC().Format(time.RFC1123Z), 4)
	buf.WriteString("  </head>\n")
	buf.WriteString("  <body>\n")

	// Stable output order regardless of map iteration
	ids := make([]string, 0, len(feeds))
	for id := range feeds {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		feedConfig := feeds[id]
		if !feedConfig.OPML || feedConfig.PrivateFeed {
			continue
		}

		title := id
		if feed, err := storage.GetFeed(ctx, id); err == nil && feed.Title != "" {
			title = feed.Title
		}

		xmlURL := fmt.Sprintf("%s/%s.xml", hostname, id)
		buf.WriteString(fmt.Sprintf("    <outline type=\"rss\" text=\"%s\" title=\"%s\" xmlUrl=\"%s\" />\n",
			html.EscapeString(title), html.EscapeString(title), html.EscapeString(xmlURL)))
	}

	buf.WriteString("  </body>\n</opml>")

	return buf.String(), nil
}
