package domain

// ExternalAccount is a profile on the external music service. Its id comes
// from that service and is never generated locally.
type ExternalAccount struct {
	ID           int64
	Username     string
	AvatarURL    *string
	FullName     string
	PermalinkURL string
}

// Track is a single audio item owned by an ExternalAccount.
type Track struct {
	ID            int64
	AccountID     int64
	LengthMS      int64
	CreatedAt     string
	Title         string
	Description   string
	LikesCount    int64
	PlaybackCount int64
	ArtworkURL    *string
	PermalinkURL  string
	// DownloadURL is never filled by ingestion.
	DownloadURL *string
}

// Playlist is an ordered collection of tracks owned by an ExternalAccount.
type Playlist struct {
	ID           int64
	AccountID    int64
	TrackIDs     []int64
	NumTracks    int64
	LengthMS     int64
	CreatedAt    string
	Title        string
	PermalinkURL string
	Description  string
	LikesCount   int64
	IsAlbum      bool
}

// FetchedTrack is a track as returned by a fetcher, together with its owner.
type FetchedTrack struct {
	Track Track
	Owner ExternalAccount
}

// FetchedPlaylist carries the playlist, its owner and its member tracks.
type FetchedPlaylist struct {
	Playlist Playlist
	Owner    ExternalAccount
	Tracks   []FetchedTrack
}

// TrackSummary is a track joined with the owning account's display name.
type TrackSummary struct {
	TrackID       int64
	LengthMS      int64
	CreatedAt     string
	Title         string
	PlaybackCount int64
	AccountID     int64
	Username      string
}

type TrackDetail struct {
	Summary             TrackSummary
	Description         string
	LikesCount          int64
	ArtworkURL          *string
	TrackPermalinkURL   string
	AvatarURL           *string
	FullName            string
	AccountPermalinkURL string
}

type PlaylistSummary struct {
	PlaylistID int64
	LengthMS   int64
	CreatedAt  string
	Title      string
	IsAlbum    bool
	NumTracks  int64
	AccountID  int64
	Username   string
}

type PlaylistDetail struct {
	Summary              PlaylistSummary
	TrackIDs             []int64
	PlaylistPermalinkURL string
	Description          string
	LikesCount           int64
	AvatarURL            *string
	FullName             string
	AccountPermalinkURL  string
}
