package builder

import (
	"context"
	"fmt"

	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/model"
	"github.com/lysyi3m/cast-comb/app/ytdl"
)

// Builder produces the current remote snapshot of a feed: channel metadata
// plus the episode list bounded by the feed's page size. Episodes come back
// with status "new"; reconciliation against stored records happens upstream.
type Builder interface {
	Build(ctx context.Context, cfg *feed.Config) (*model.Feed, error)
}

// MetadataFetcher is the downloader capability the builders rely on.
type MetadataFetcher interface {
	PlaylistMetadata(ctx context.Context, url string) (ytdl.PlaylistMetadata, error)
	PlaylistItems(ctx context.Context, url string, count int, newestFirst bool) (ytdl.PlaylistMetadata, error)
}

// New returns a builder for the given provider.
func New(_ context.Context, provider model.Provider, key string, fetcher MetadataFetcher) (Builder, error) {
	switch provider {
	case model.ProviderYoutube, model.ProviderVimeo, model.ProviderTwitch:
		return NewMediaBuilder(key, fetcher), nil
	case model.ProviderSoundcloud:
		return NewRSSBuilder(), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
}
