package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"soundshelf/internal/domain"
	"soundshelf/internal/repository"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	sc_oauth_token TEXT,
	sc_client_id TEXT,
	liked_track_ids TEXT NOT NULL DEFAULT '[]',
	playlist_ids TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const selectUserColumns = `
SELECT id, username, password_hash, sc_oauth_token, sc_client_id,
	liked_track_ids, playlist_ids, created_at, updated_at
FROM users`

type userRow struct {
	ID            int64          `db:"id"`
	Username      string         `db:"username"`
	PasswordHash  string         `db:"password_hash"`
	OAuthToken    sql.NullString `db:"sc_oauth_token"`
	ClientID      sql.NullString `db:"sc_client_id"`
	LikedTrackIDs idList         `db:"liked_track_ids"`
	PlaylistIDs   idList         `db:"playlist_ids"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{
		ID:            r.ID,
		Username:      r.Username,
		PasswordHash:  r.PasswordHash,
		OAuthToken:    r.OAuthToken.String,
		ClientID:      r.ClientID.String,
		LikedTrackIDs: domain.NewIDSet(r.LikedTrackIDs...),
		PlaylistIDs:   domain.NewIDSet(r.PlaylistIDs...),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Init(ctx context.Context) error {
	return r.db.Do(ctx, func(q sqlx.ExtContext) error {
		if _, err := q.ExecContext(ctx, createUsersTable); err != nil {
			return fmt.Errorf("create users table: %w", err)
		}
		return nil
	})
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) (int64, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.LikedTrackIDs == nil {
		user.LikedTrackIDs = domain.NewIDSet()
	}
	if user.PlaylistIDs == nil {
		user.PlaylistIDs = domain.NewIDSet()
	}

	var id int64
	err := r.db.Do(ctx, func(q sqlx.ExtContext) error {
		res, err := q.ExecContext(ctx, `
INSERT INTO users (username, password_hash, liked_track_ids, playlist_ids, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			user.Username,
			user.PasswordHash,
			idListFromSet(user.LikedTrackIDs),
			idListFromSet(user.PlaylistIDs),
			user.CreatedAt,
			user.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("user %q: %w", user.Username, repository.ErrConflict)
			}
			return fmt.Errorf("insert user: %w", err)
		}

		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("user last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	user.ID = id
	return id, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user *domain.User
	err := r.db.Do(ctx, func(q sqlx.ExtContext) error {
		var err error
		user, err = getUser(ctx, q, selectUserColumns+` WHERE username = ?`, username)
		return err
	})
	return user, err
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var user *domain.User
	err := r.db.Do(ctx, func(q sqlx.ExtContext) error {
		var err error
		user, err = getUser(ctx, q, selectUserColumns+` WHERE id = ?`, id)
		return err
	})
	return user, err
}

func (r *UserRepository) SetCredentials(ctx context.Context, id int64, token, clientID string) error {
	return r.db.Do(ctx, func(q sqlx.ExtContext) error {
		return updateUser(ctx, q, id, `sc_oauth_token = ?, sc_client_id = ?`, token, clientID)
	})
}

func (r *UserRepository) ReplaceLikedTrackIDs(ctx context.Context, id int64, ids domain.IDSet) error {
	return r.db.Do(ctx, func(q sqlx.ExtContext) error {
		return updateUser(ctx, q, id, `liked_track_ids = ?`, idListFromSet(ids))
	})
}

func (r *UserRepository) ReplacePlaylistIDs(ctx context.Context, id int64, ids domain.IDSet) error {
	return r.db.Do(ctx, func(q sqlx.ExtContext) error {
		return updateUser(ctx, q, id, `playlist_ids = ?`, idListFromSet(ids))
	})
}

func (r *UserRepository) MergeIDSets(ctx context.Context, id int64, liked, playlists domain.IDSet) (domain.IDSet, domain.IDSet, error) {
	var mergedLiked, mergedPlaylists domain.IDSet
	err := r.db.Do(ctx, func(q sqlx.ExtContext) error {
		current, err := getUser(ctx, q, selectUserColumns+` WHERE id = ?`, id)
		if err != nil {
			return err
		}
		mergedLiked = current.LikedTrackIDs.Union(liked)
		mergedPlaylists = current.PlaylistIDs.Union(playlists)
		return updateUser(ctx, q, id, `liked_track_ids = ?, playlist_ids = ?`,
			idListFromSet(mergedLiked),
			idListFromSet(mergedPlaylists),
		)
	})
	if err != nil {
		return nil, nil, err
	}
	return mergedLiked, mergedPlaylists, nil
}

func getUser(ctx context.Context, q sqlx.ExtContext, query string, arg any) (*domain.User, error) {
	var row userRow
	if err := sqlx.GetContext(ctx, q, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return row.toDomain(), nil
}

func updateUser(ctx context.Context, q sqlx.ExtContext, id int64, set string, args ...any) error {
	args = append(args, time.Now().UTC(), id)
	res, err := q.ExecContext(ctx, `UPDATE users SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("user rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %d: %w", id, repository.ErrNotFound)
	}
	return nil
}

var _ repository.UserRepository = (*UserRepository)(nil)
