package repository

import (
	"context"
	"errors"

	"soundshelf/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert violates a uniqueness constraint.
	ErrConflict = errors.New("already exists")
)

// UserRepository persists users, their external credentials and id sets.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (int64, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	SetCredentials(ctx context.Context, id int64, token, clientID string) error
	ReplaceLikedTrackIDs(ctx context.Context, id int64, ids domain.IDSet) error
	ReplacePlaylistIDs(ctx context.Context, id int64, ids domain.IDSet) error
	// MergeIDSets adds liked and playlists to the stored sets in one
	// read-modify-write and returns the resulting sets.
	MergeIDSets(ctx context.Context, id int64, liked, playlists domain.IDSet) (domain.IDSet, domain.IDSet, error)
}
