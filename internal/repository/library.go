package repository

import (
	"context"

	"soundshelf/internal/domain"
)

// LibraryWriter performs idempotent inserts. A row whose id already exists is
// left untouched.
type LibraryWriter interface {
	UpsertAccount(ctx context.Context, account domain.ExternalAccount) error
	UpsertTrack(ctx context.Context, track domain.Track) error
	UpsertPlaylist(ctx context.Context, playlist domain.Playlist) error
}

// LibraryRepository stores accounts, tracks and playlists shared by all users.
type LibraryRepository interface {
	LibraryWriter
	Init(ctx context.Context) error
	// Batch runs fn with exclusive use of the store. Writes made through the
	// writer are committed one by one; an error from fn does not undo them.
	Batch(ctx context.Context, fn func(w LibraryWriter) error) error

	ListTrackSummaries(ctx context.Context, ids domain.IDSet) ([]domain.TrackSummary, error)
	ListPlaylistSummaries(ctx context.Context, ids domain.IDSet) ([]domain.PlaylistSummary, error)
	GetTrackDetail(ctx context.Context, id int64) (*domain.TrackDetail, error)
	GetPlaylistDetail(ctx context.Context, id int64) (*domain.PlaylistDetail, error)

	// MostLikedArtist returns the account owning the most tracks in ids.
	MostLikedArtist(ctx context.Context, ids domain.IDSet) (*domain.ExternalAccount, error)
	AveragePlaybackCount(ctx context.Context, ids domain.IDSet) (int64, error)
}
