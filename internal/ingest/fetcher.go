package ingest

import (
	"context"

	"soundshelf/internal/domain"
)

// Fetcher pulls one user's library from the external service. Both calls
// report progress through onProgress before returning.
type Fetcher interface {
	FetchLikes(ctx context.Context, max int, onProgress ProgressFunc) ([]domain.FetchedTrack, error)
	FetchPlaylists(ctx context.Context, max int, onProgress ProgressFunc) ([]domain.FetchedPlaylist, error)
}

// FetcherFactory builds a Fetcher bound to a user's stored credentials.
type FetcherFactory interface {
	ForCredentials(token, clientID string) Fetcher
}

// Publisher delivers progress to a user's stream without blocking.
type Publisher interface {
	Publish(userID int64, payload any) bool
}

// Archiver keeps a copy of what a run fetched.
type Archiver interface {
	PutSnapshot(ctx context.Context, userID int64, runID string, body []byte) (string, error)
}
