package builder

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/lysyi3m/cast-comb/app/model"
)

// Info is the result of parsing a feed URL.
type Info struct {
	LinkType model.Type
	Provider model.Provider
	ItemID   string
}

// ParseURL extracts the provider, link type and item ID from a channel or
// playlist address.
func ParseURL(link string) (Info, error) {
	parsed, err := parseURL(link)
	if err != nil {
		return Info{}, err
	}

	info := Info{}

	host := strings.TrimPrefix(parsed.Host, "www.")
	path := strings.Trim(parsed.Path, "/")
	segments := strings.Split(path, "/")

	switch {
	case strings.HasSuffix(host, "youtube.com"), host == "youtu.be":
		info.Provider = model.ProviderYoutube
		info.LinkType, info.ItemID, err = parseYoutubeURL(parsed, segments)
	case strings.HasSuffix(host, "vimeo.com"):
		info.Provider = model.ProviderVimeo
		info.LinkType, info.ItemID, err = parseVimeoURL(segments)
	case strings.HasSuffix(host, "soundcloud.com"):
		info.Provider = model.ProviderSoundcloud
		info.LinkType = model.TypeUser
		if len(segments) > 0 {
			info.ItemID = segments[0]
		}
	case strings.HasSuffix(host, "twitch.tv"):
		info.Provider = model.ProviderTwitch
		info.LinkType = model.TypeChannel
		if len(segments) > 0 {
			info.ItemID = segments[0]
		}
	default:
		return Info{}, fmt.Errorf("unsupported URL host: %s", parsed.Host)
	}

	if err != nil {
		return Info{}, err
	}

	return info, nil
}

func parseURL(link string) (*url.URL, error) {
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		link = "https://" + link
	}

	parsed, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %q: %w", link, err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", link)
	}

	return parsed, nil
}

func parseYoutubeURL(parsed *url.URL, segments []string) (model.Type, string, error) {
	if len(segments) == 0 || segments[0] == "" {
		return "", "", fmt.Errorf("invalid YouTube URL path")
	}

	switch segments[0] {
	case "playlist", "watch":
		id := parsed.Query().Get("list")
		if id == "" {
			return "", "", fmt.Errorf("invalid playlist URL, no list parameter")
		}
		return model.TypePlaylist, id, nil
	case "channel":
		if len(segments) < 2 {
			return "", "", fmt.Errorf("invalid channel URL")
		}
		return model.TypeChannel, segments[1], nil
	case "user", "c":
		if len(segments) < 2 {
			return "", "", fmt.Errorf("invalid user URL")
		}
		return model.TypeUser, segments[1], nil
	default:
		// Handle-style URLs: youtube.com/@name
		if strings.HasPrefix(segments[0], "@") {
			return model.TypeChannel, segments[0], nil
		}
		return "", "", fmt.Errorf("unsupported YouTube URL format: %s", segments[0])
	}
}

func parseVimeoURL(segments []string) (model.Type, string, error) {
	if len(segments) == 0 || segments[0] == "" {
		return "", "", fmt.Errorf("invalid Vimeo URL path")
	}

	switch segments[0] {
	case "groups":
		if len(segments) < 2 {
			return "", "", fmt.Errorf("invalid group URL")
		}
		return model.TypeGroup, segments[1], nil
	case "channels":
		if len(segments) < 2 {
			return "", "", fmt.Errorf("invalid channel URL")
		}
		return model.TypeChannel, segments[1], nil
	default:
		return model.TypeUser, segments[0], nil
	}
}
