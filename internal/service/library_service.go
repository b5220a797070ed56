package service

import (
	"context"
	"errors"

	"soundshelf/internal/domain"
	"soundshelf/internal/repository"
)

// LibraryService serves the read paths over ingested data.
type LibraryService interface {
	ListLikedTracks(ctx context.Context, user *domain.User) ([]domain.TrackSummary, error)
	ListPlaylists(ctx context.Context, user *domain.User) ([]domain.PlaylistSummary, error)
	GetTrackDetail(ctx context.Context, id int64) (*domain.TrackDetail, error)
	GetPlaylistDetail(ctx context.Context, id int64) (*domain.PlaylistDetail, error)
	MostLikedArtist(ctx context.Context, user *domain.User) (*domain.ExternalAccount, error)
	AveragePlaybackCount(ctx context.Context, user *domain.User) (int64, error)
}

type libraryService struct {
	library repository.LibraryRepository
}

func NewLibraryService(library repository.LibraryRepository) LibraryService {
	return &libraryService{library: library}
}

func (s *libraryService) ListLikedTracks(ctx context.Context, user *domain.User) ([]domain.TrackSummary, error) {
	tracks, err := s.library.ListTrackSummaries(ctx, user.LikedTrackIDs)
	if err != nil {
		return nil, storeErr("list liked tracks", err)
	}
	return tracks, nil
}

func (s *libraryService) ListPlaylists(ctx context.Context, user *domain.User) ([]domain.PlaylistSummary, error) {
	playlists, err := s.library.ListPlaylistSummaries(ctx, user.PlaylistIDs)
	if err != nil {
		return nil, storeErr("list playlists", err)
	}
	return playlists, nil
}

func (s *libraryService) GetTrackDetail(ctx context.Context, id int64) (*domain.TrackDetail, error) {
	detail, err := s.library.GetTrackDetail(ctx, id)
	if err != nil {
		return nil, translateLookup("get track", err)
	}
	return detail, nil
}

func (s *libraryService) GetPlaylistDetail(ctx context.Context, id int64) (*domain.PlaylistDetail, error) {
	detail, err := s.library.GetPlaylistDetail(ctx, id)
	if err != nil {
		return nil, translateLookup("get playlist", err)
	}
	return detail, nil
}

func (s *libraryService) MostLikedArtist(ctx context.Context, user *domain.User) (*domain.ExternalAccount, error) {
	account, err := s.library.MostLikedArtist(ctx, user.LikedTrackIDs)
	if err != nil {
		return nil, translateLookup("most liked artist", err)
	}
	return account, nil
}

func (s *libraryService) AveragePlaybackCount(ctx context.Context, user *domain.User) (int64, error) {
	avg, err := s.library.AveragePlaybackCount(ctx, user.LikedTrackIDs)
	if err != nil {
		return 0, storeErr("average playback count", err)
	}
	return avg, nil
}

func translateLookup(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return storeErr(op, err)
}
