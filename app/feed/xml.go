package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"sort"
	"time"

	"github.com/lysyi3m/cast-comb/app/model"
)

// Build renders the iTunes-compatible podcast document for a feed. Only
// episodes with a committed artifact are included.
func Build(feed *model.Feed, feedConfig *Config, hostname string) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	title := cmp.Or(feedConfig.Custom.Title, feed.Title)
	description := cmp.Or(feedConfig.Custom.Description, feed.Description)
	if description == "" {
		description = fmt.Sprintf("Podcast feed generated from %s", feed.ItemURL)
	}
	author := cmp.Or(feedConfig.Custom.Author, feed.Author)
	link := cmp.Or(feedConfig.Custom.Link, feed.ItemURL)
	coverArt := cmp.Or(feedConfig.Custom.CoverArt, feed.CoverArt)

	writeElement(&buf, "title", title, 4)
	writeElement(&buf, "link", link, 4)
	writeElement(&buf, "description", description, 4)

	selfLink := fmt.Sprintf("%s/%s.xml", hostname, feed.ID)
	buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
		html.EscapeString(selfLink)))

	if !feed.PubDate.IsZero() {
		writeElement(&buf, "pubDate", feed.PubDate.Format(time.RFC1123Z), 4)
	}
	writeElement(&buf, "lastBuildDate", feed.UpdatedAt.Format(time.RFC1123Z), 4)
	writeElement(&buf, "generator", "cast-comb", 4)

	language := cmp.Or(feedConfig.Custom.Language, feed.Language)
	if language != "" {
		writeElement(&buf, "language", language, 4)
	}

	writeElement(&buf, "itunes:author", author, 4)
	writeElement(&buf, "itunes:subtitle", title, 4)
	if feedConfig.Custom.Explicit || feed.Explicit {
		writeElement(&buf, "itunes:explicit", "yes", 4)
	} else {
		writeElement(&buf, "itunes:explicit", "no", 4)
	}

	if feedConfig.Custom.Category != "" {
		buf.WriteString(fmt.Sprintf("    <itunes:category text=\"%s\">\n", html.EscapeString(feedConfig.Custom.Category)))
		for _, sub := range feedConfig.Custom.Subcategories {
			buf.WriteString(fmt.Sprintf("      <itunes:category text=\"%s\" />\n", html.EscapeString(sub)))
		}
		buf.WriteString("    </itunes:category>\n")
	}

	if feedConfig.Custom.OwnerName != "" || feedConfig.Custom.OwnerEmail != "" {
		buf.WriteString("    <itunes:owner>\n")
		writeElement(&buf, "itunes:name", feedConfig.Custom.OwnerName, 6)
		writeElement(&buf, "itunes:email", feedConfig.Custom.OwnerEmail, 6)
		buf.WriteString("    </itunes:owner>\n")
	}

	if coverArt != "" {
		buf.WriteString(fmt.Sprintf("    <itunes:image href=\"%s\" />\n", html.EscapeString(coverArt)))
		buf.WriteString("    <image>\n")
		writeElement(&buf, "url", coverArt, 6)
		writeElement(&buf, "title", title, 6)
		writeElement(&buf, "link", link, 6)
		buf.WriteString("    </image>\n")
	}

	for _, episode := range publishableEpisodes(feed) {
		writeEpisode(&buf, feed, feedConfig, episode, hostname)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

// publishableEpisodes returns downloaded episodes, newest first.
func publishableEpisodes(feed *model.Feed) []*model.Episode {
	episodes := make([]*model.Episode, 0, len(feed.Episodes))
	for _, episode := range feed.Episodes {
		if episode.Status == model.EpisodeDownloaded && episode.Size > 0 {
			episodes = append(episodes, episode)
		}
	}

	sort.Slice(episodes, func(i, j int) bool {
		return episodes[i].PubDate.After(episodes[j].PubDate)
	})

	return episodes
}

func writeEpisode(buf *bytes.Buffer, feed *model.Feed, feedConfig *Config, episode *model.Episode, hostname string) {
	buf.WriteString("    <item>\n")

	buf.WriteString("      <guid isPermaLink=\"false\">")
	xml.EscapeText(buf, []byte(episode.ID))
	buf.WriteString("</guid>\n")

	writeElement(buf, "title", episode.Title, 6)
	writeElement(buf, "link", episode.VideoURL, 6)
	writeElement(buf, "description", cmp.Or(episode.Description, episode.Title), 6)
	writeElement(buf, "pubDate", episode.PubDate.Format(time.RFC1123Z), 6)

	writeElement(buf, "itunes:duration", formatDuration(episode.Duration), 6)
	if episode.Thumbnail != "" {
		buf.WriteString(fmt.Sprintf("      <itunes:image href=\"%s\" />\n", html.EscapeString(episode.Thumbnail)))
	}

	enclosureURL := fmt.Sprintf("%s/%s/%s", hostname, feed.ID, EpisodeName(feedConfig, episode))
	buf.WriteString(fmt.Sprintf("      <enclosure url=\"%s\" length=\"%d\" type=\"%s\" />\n",
		html.EscapeString(enclosureURL), episode.Size, enclosureType(feedConfig)))

	buf.WriteString("    </item>\n")
}

func enclosureType(feedConfig *Config) string {
	switch feedConfig.Format {
	case model.FormatAudio:
		return "audio/mpeg"
	case model.FormatCustom:
		return "audio/" + feedConfig.CustomFormat.Extension
	default:
		return "video/mp4"
	}
}

func formatDuration(seconds int64) string {
	if seconds <= 0 {
		return "00:00"
	}

	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}
