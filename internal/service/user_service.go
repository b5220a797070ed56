package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"soundshelf/internal/domain"
	"soundshelf/internal/repository"
)

// UserService describes account lifecycle and credential operations.
type UserService interface {
	Register(ctx context.Context, username, password string) (*domain.User, error)
	Login(ctx context.Context, username, password string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	SetCredentials(ctx context.Context, user *domain.User, token, clientID string) error
	ClearLikedTracks(ctx context.Context, user *domain.User) error
	ClearPlaylists(ctx context.Context, user *domain.User) error
}

type userService struct {
	users repository.UserRepository
	cost  int
}

func NewUserService(users repository.UserRepository) UserService {
	return &userService{
		users: users,
		cost:  bcrypt.DefaultCost,
	}
}

// newUserServiceWithCost lowers the bcrypt cost for tests.
func newUserServiceWithCost(users repository.UserRepository, cost int) UserService {
	return &userService{users: users, cost: cost}
}

func (s *userService) Register(ctx context.Context, username, password string) (*domain.User, error) {
	if strings.TrimSpace(username) == "" {
		return nil, invalidInput("username", "is required")
	}
	if password == "" {
		return nil, invalidInput("password", "is required")
	}
	if len(password) > 72 {
		return nil, invalidInput("password", "must be at most 72 bytes")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Username:      username,
		PasswordHash:  string(hash),
		LikedTrackIDs: domain.NewIDSet(),
		PlaylistIDs:   domain.NewIDSet(),
	}

	if _, err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUsernameTaken
		}
		return nil, storeErr("create user", err)
	}

	return sanitizeUser(user), nil
}

func (s *userService) Login(ctx context.Context, username, password string) (*domain.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, ErrLoginFailed
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLoginFailed
		}
		return nil, storeErr("load user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrLoginFailed
	}

	return sanitizeUser(user), nil
}

// GetByID returns the stored user. The returned value carries credentials
// and id sets but never the password hash.
func (s *userService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr("load user", err)
	}
	return sanitizeUser(user), nil
}

func (s *userService) SetCredentials(ctx context.Context, user *domain.User, token, clientID string) error {
	token = strings.TrimSpace(token)
	clientID = strings.TrimSpace(clientID)
	if token == "" {
		return invalidInput("oauth_token", "is required")
	}
	if clientID == "" {
		return invalidInput("client_id", "is required")
	}
	if err := s.users.SetCredentials(ctx, user.ID, token, clientID); err != nil {
		return storeErr("set credentials", err)
	}
	user.OAuthToken = token
	user.ClientID = clientID
	return nil
}

func (s *userService) ClearLikedTracks(ctx context.Context, user *domain.User) error {
	if err := s.users.ReplaceLikedTrackIDs(ctx, user.ID, domain.NewIDSet()); err != nil {
		return storeErr("clear liked tracks", err)
	}
	user.LikedTrackIDs = domain.NewIDSet()
	return nil
}

func (s *userService) ClearPlaylists(ctx context.Context, user *domain.User) error {
	if err := s.users.ReplacePlaylistIDs(ctx, user.ID, domain.NewIDSet()); err != nil {
		return storeErr("clear playlists", err)
	}
	user.PlaylistIDs = domain.NewIDSet()
	return nil
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		ID:            user.ID,
		Username:      user.Username,
		OAuthToken:    user.OAuthToken,
		ClientID:      user.ClientID,
		LikedTrackIDs: user.LikedTrackIDs.Clone(),
		PlaylistIDs:   user.PlaylistIDs.Clone(),
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	}
}
