package model

import "time"

type Type string

const (
	TypeChannel  = Type("channel")
	TypePlaylist = Type("playlist")
	TypeUser     = Type("user")
	TypeGroup    = Type("group")
)

type Provider string

const (
	ProviderYoutube    = Provider("youtube")
	ProviderVimeo      = Provider("vimeo")
	ProviderSoundcloud = Provider("soundcloud")
	ProviderTwitch     = Provider("twitch")
)

type Format string

const (
	FormatAudio  = Format("audio")
	FormatVideo  = Format("video")
	FormatCustom = Format("custom")
)

type Quality string

const (
	QualityHigh = Quality("high")
	QualityLow  = Quality("low")
)

type Sorting string

const (
	SortingAsc  = Sorting("asc")
	SortingDesc = Sorting("desc")
)

const (
	DefaultUpdatePeriod = 6 * time.Hour
	DefaultPageSize     = 50
	DefaultFormat       = FormatVideo
	DefaultQuality      = QualityHigh

	DefaultLogMaxSize    = 50 // megabytes
	DefaultLogMaxAge     = 30 // days
	DefaultLogMaxBackups = 7
)

// PathRegex is the allowed shape of the optional URL prefix the server is mounted at.
const PathRegex = `^[A-Za-z0-9]+$`

// Feed is a feed instance persisted in the database.
type Feed struct {
	ID             string    `json:"feed_id"`
	ItemID         string    `json:"item_id"`
	LinkType       Type      `json:"link_type"` // Channel, playlist, user or group
	Provider       Provider  `json:"provider"`  // Youtube, Vimeo, SoundCloud or Twitch
	CreatedAt      time.Time `json:"created_at"`
	LastAccess     time.Time `json:"last_access"`
	ExpirationTime time.Time `json:"expiration_time"`
	Format         Format    `json:"format"`
	Quality        Quality   `json:"quality"`
	PageSize       int       `json:"page_size"`
	CoverArt       string    `json:"cover_art"`
	Explicit       bool      `json:"explicit"`
	Language       string    `json:"language"` // ISO 639
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	PubDate        time.Time `json:"pub_date"`
	Author         string    `json:"author"`
	ItemURL        string    `json:"item_url"` // Platform specific URL
	Episodes       []*Episode `json:"-"`       // Array of episodes
	UpdatedAt      time.Time `json:"updated_at"`
}

// Episode is a single media item that belongs to a feed.
type Episode struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Thumbnail   string        `json:"thumbnail"`
	Duration    int64         `json:"duration"`
	Size        int64         `json:"size"`
	VideoURL    string        `json:"video_url"`
	PubDate     time.Time     `json:"pub_date"`
	Status      EpisodeStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
}
