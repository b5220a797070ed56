package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"soundshelf/internal/domain"
	"soundshelf/internal/repository"
)

// created_at on tracks and playlists is TEXT so the service's timestamp string
// round-trips unchanged.
var librarySchema = []string{`
CREATE TABLE IF NOT EXISTS external_accounts (
	id INTEGER PRIMARY KEY,
	username TEXT NOT NULL,
	avatar_url TEXT,
	full_name TEXT NOT NULL,
	permalink_url TEXT NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS tracks (
	id INTEGER PRIMARY KEY,
	account_id INTEGER NOT NULL REFERENCES external_accounts(id),
	length_ms INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	likes_count INTEGER NOT NULL DEFAULT 0,
	playback_count INTEGER NOT NULL DEFAULT 0,
	artwork_url TEXT,
	permalink_url TEXT NOT NULL,
	download_url TEXT
);`, `
CREATE INDEX IF NOT EXISTS idx_tracks_account_id ON tracks(account_id);`, `
CREATE TABLE IF NOT EXISTS playlists (
	id INTEGER PRIMARY KEY,
	account_id INTEGER NOT NULL REFERENCES external_accounts(id),
	track_ids TEXT NOT NULL DEFAULT '[]',
	num_tracks INTEGER NOT NULL DEFAULT 0,
	length_ms INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	title TEXT NOT NULL,
	permalink_url TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	likes_count INTEGER NOT NULL DEFAULT 0,
	is_album BOOLEAN NOT NULL DEFAULT 0
);`,
}

type LibraryRepository struct {
	db *DB
}

func NewLibraryRepository(db *DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

func (r *LibraryRepository) Init(ctx context.Context) error {
	return r.db.Do(ctx, func(q sqlx.ExtContext) error {
		if err := execAll(ctx, q, librarySchema); err != nil {
			return fmt.Errorf("create library tables: %w", err)
		}
		return nil
	})
}

func (r *LibraryRepository) Batch(ctx context.Context, fn func(w repository.LibraryWriter) error) error {
	return r.db.Do(ctx, func(q sqlx.ExtContext) error {
		return fn(&lockedWriter{q: q})
	})
}

func (r *LibraryRepository) UpsertAccount(ctx context.Context, account domain.ExternalAccount) error {
	return r.db.Do(ctx, func(q sqlx.ExtContext) error {
		return upsertAccount(ctx, q, account)
	})
}

func (r *LibraryRepository) UpsertTrack(ctx context.Context, track domain.Track) error {
	return r.db.Do(ctx, func(q sqlx.ExtContext) error {
		return upsertTrack(ctx, q, track)
	})
}

func (r *LibraryRepository) UpsertPlaylist(ctx context.Context, playlist domain.Playlist) error {
	return r.db.Do(ctx, func(q sqlx.ExtContext) error {
		return upsertPlaylist(ctx, q, playlist)
	})
}

// lockedWriter is handed out by Batch while the lock is already held.
type lockedWriter struct {
	q sqlx.ExtContext
}

func (w *lockedWriter) UpsertAccount(ctx context.Context, account domain.ExternalAccount) error {
	return upsertAccount(ctx, w.q, account)
}

func (w *lockedWriter) UpsertTrack(ctx context.Context, track domain.Track) error {
	return upsertTrack(ctx, w.q, track)
}

func (w *lockedWriter) UpsertPlaylist(ctx context.Context, playlist domain.Playlist) error {
	return upsertPlaylist(ctx, w.q, playlist)
}

func upsertAccount(ctx context.Context, q sqlx.ExtContext, a domain.ExternalAccount) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO external_accounts (id, username, avatar_url, full_name, permalink_url)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		a.ID,
		a.Username,
		nullString(a.AvatarURL),
		a.FullName,
		a.PermalinkURL,
	)
	if err != nil {
		return fmt.Errorf("upsert account %d: %w", a.ID, err)
	}
	return nil
}

func upsertTrack(ctx context.Context, q sqlx.ExtContext, t domain.Track) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO tracks (id, account_id, length_ms, created_at, title, description,
	likes_count, playback_count, artwork_url, permalink_url, download_url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		t.ID,
		t.AccountID,
		t.LengthMS,
		t.CreatedAt,
		t.Title,
		t.Description,
		t.LikesCount,
		t.PlaybackCount,
		nullString(t.ArtworkURL),
		t.PermalinkURL,
		nullString(t.DownloadURL),
	)
	if err != nil {
		return fmt.Errorf("upsert track %d: %w", t.ID, err)
	}
	return nil
}

func upsertPlaylist(ctx context.Context, q sqlx.ExtContext, p domain.Playlist) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO playlists (id, account_id, track_ids, num_tracks, length_ms, created_at,
	title, permalink_url, description, likes_count, is_album)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		p.ID,
		p.AccountID,
		idList(p.TrackIDs),
		p.NumTracks,
		p.LengthMS,
		p.CreatedAt,
		p.Title,
		p.PermalinkURL,
		p.Description,
		p.LikesCount,
		p.IsAlbum,
	)
	if err != nil {
		return fmt.Errorf("upsert playlist %d: %w", p.ID, err)
	}
	return nil
}

type trackSummaryRow struct {
	TrackID       int64  `db:"track_id"`
	LengthMS      int64  `db:"length_ms"`
	CreatedAt     string `db:"created_at"`
	Title         string `db:"title"`
	PlaybackCount int64  `db:"playback_count"`
	AccountID     int64  `db:"account_id"`
	Username      string `db:"username"`
}

func (r trackSummaryRow) toDomain() domain.TrackSummary {
	return domain.TrackSummary{
		TrackID:       r.TrackID,
		LengthMS:      r.LengthMS,
		CreatedAt:     r.CreatedAt,
		Title:         r.Title,
		PlaybackCount: r.PlaybackCount,
		AccountID:     r.AccountID,
		Username:      r.Username,
	}
}

type trackDetailRow struct {
	trackSummaryRow
	Description         string         `db:"description"`
	LikesCount          int64          `db:"likes_count"`
	ArtworkURL          sql.NullString `db:"artwork_url"`
	TrackPermalinkURL   string         `db:"track_permalink_url"`
	AvatarURL           sql.NullString `db:"avatar_url"`
	FullName            string         `db:"full_name"`
	AccountPermalinkURL string         `db:"account_permalink_url"`
}

type playlistSummaryRow struct {
	PlaylistID int64  `db:"playlist_id"`
	LengthMS   int64  `db:"length_ms"`
	CreatedAt  string `db:"created_at"`
	Title      string `db:"title"`
	IsAlbum    bool   `db:"is_album"`
	NumTracks  int64  `db:"num_tracks"`
	AccountID  int64  `db:"account_id"`
	Username   string `db:"username"`
}

func (r playlistSummaryRow) toDomain() domain.PlaylistSummary {
	return domain.PlaylistSummary{
		PlaylistID: r.PlaylistID,
		LengthMS:   r.LengthMS,
		CreatedAt:  r.CreatedAt,
		Title:      r.Title,
		IsAlbum:    r.IsAlbum,
		NumTracks:  r.NumTracks,
		AccountID:  r.AccountID,
		Username:   r.Username,
	}
}

type playlistDetailRow struct {
	playlistSummaryRow
	TrackIDs             idList         `db:"track_ids"`
	PlaylistPermalinkURL string         `db:"playlist_permalink_url"`
	Description          string         `db:"description"`
	LikesCount           int64          `db:"likes_count"`
	AvatarURL            sql.NullString `db:"avatar_url"`
	FullName             string         `db:"full_name"`
	AccountPermalinkURL  string         `db:"account_permalink_url"`
}

const selectTrackSummary = `
SELECT t.id AS track_id, t.length_ms, t.created_at, t.title, t.playback_count,
	a.id AS account_id, a.username
FROM tracks t
JOIN external_accounts a ON a.id = t.account_id`

const selectPlaylistSummary = `
SELECT p.id AS playlist_id, p.length_ms, p.created_at, p.title, p.is_album, p.num_tracks,
	a.id AS account_id, a.username
FROM playlists p
JOIN external_accounts a ON a.id = p.account_id`

func (r *LibraryRepository) ListTrackSummaries(ctx context.Context, ids domain.IDSet) ([]domain.TrackSummary, error) {
	out := []domain.TrackSummary{}
	if ids.Len() == 0 {
		return out, nil
	}
	err := r.db.Do(ctx, func(q sqlx.ExtContext) error {
		var rows []trackSummaryRow
		if err := selectIn(ctx, q, &rows, selectTrackSummary+` WHERE t.id IN `+idsParam+` ORDER BY t.id`, ids); err != nil {
			return fmt.Errorf("list tracks: %w", err)
		}
		for _, row := range rows {
			out = append(out, row.toDomain())
		}
		return nil
	})
	return out, err
}

func (r *LibraryRepository) ListPlaylistSummaries(ctx context.Context, ids domain.IDSet) ([]domain.PlaylistSummary, error) {
	out := []domain.PlaylistSummary{}
	if ids.Len() == 0 {
		return out, nil
	}
	err := r.db.Do(ctx, func(q sqlx.ExtContext) error {
		var rows []playlistSummaryRow
		if err := selectIn(ctx, q, &rows, selectPlaylistSummary+` WHERE p.id IN `+idsParam+` ORDER BY p.id`, ids); err != nil {
			return fmt.Errorf("list playlists: %w", err)
		}
		for _, row := range rows {
			out = append(out, row.toDomain())
		}
		return nil
	})
	return out, err
}

func (r *LibraryRepository) GetTrackDetail(ctx context.Context, id int64) (*domain.TrackDetail, error) {
	var row trackDetailRow
	err := r.db.Do(ctx, func(q sqlx.ExtContext) error {
		return sqlx.GetContext(ctx, q, &row, `
SELECT t.id AS track_id, t.length_ms, t.created_at, t.title, t.playback_count,
	a.id AS account_id, a.username,
	t.description, t.likes_count, t.artwork_url, t.permalink_url AS track_permalink_url,
	a.avatar_url, a.full_name, a.permalink_url AS account_permalink_url
FROM tracks t
JOIN external_accounts a ON a.id = t.account_id
WHERE t.id = ?`, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("track %d: %w", id, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("get track %d: %w", id, err)
	}
	return &domain.TrackDetail{
		Summary:             row.trackSummaryRow.toDomain(),
		Description:         row.Description,
		LikesCount:          row.LikesCount,
		ArtworkURL:          stringPtr(row.ArtworkURL),
		TrackPermalinkURL:   row.TrackPermalinkURL,
		AvatarURL:           stringPtr(row.AvatarURL),
		FullName:            row.FullName,
		AccountPermalinkURL: row.AccountPermalinkURL,
	}, nil
}

func (r *LibraryRepository) GetPlaylistDetail(ctx context.Context, id int64) (*domain.PlaylistDetail, error) {
	var row playlistDetailRow
	err := r.db.Do(ctx, func(q sqlx.ExtContext) error {
		return sqlx.GetContext(ctx, q, &row, `
SELECT p.id AS playlist_id, p.length_ms, p.created_at, p.title, p.is_album, p.num_tracks,
	a.id AS account_id, a.username,
	p.track_ids, p.permalink_url AS playlist_permalink_url, p.description, p.likes_count,
	a.avatar_url, a.full_name, a.permalink_url AS account_permalink_url
FROM playlists p
JOIN external_accounts a ON a.id = p.account_id
WHERE p.id = ?`, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("playlist %d: %w", id, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("get playlist %d: %w", id, err)
	}
	trackIDs := []int64(row.TrackIDs)
	if trackIDs == nil {
		trackIDs = []int64{}
	}
	return &domain.PlaylistDetail{
		Summary:              row.playlistSummaryRow.toDomain(),
		TrackIDs:             trackIDs,
		PlaylistPermalinkURL: row.PlaylistPermalinkURL,
		Description:          row.Description,
		LikesCount:           row.LikesCount,
		AvatarURL:            stringPtr(row.AvatarURL),
		FullName:             row.FullName,
		AccountPermalinkURL:  row.AccountPermalinkURL,
	}, nil
}

type accountRow struct {
	ID           int64          `db:"id"`
	Username     string         `db:"username"`
	AvatarURL    sql.NullString `db:"avatar_url"`
	FullName     string         `db:"full_name"`
	PermalinkURL string         `db:"permalink_url"`
}

func (r *LibraryRepository) MostLikedArtist(ctx context.Context, ids domain.IDSet) (*domain.ExternalAccount, error) {
	if ids.Len() == 0 {
		return nil, fmt.Errorf("most liked artist: %w", repository.ErrNotFound)
	}
	var rows []accountRow
	err := r.db.Do(ctx, func(q sqlx.ExtContext) error {
		return selectIn(ctx, q, &rows, `
SELECT a.id, a.username, a.avatar_url, a.full_name, a.permalink_url
FROM tracks t
JOIN external_accounts a ON a.id = t.account_id
WHERE t.id IN `+idsParam+`
GROUP BY a.id
ORDER BY COUNT(t.id) DESC, a.id ASC
LIMIT 1`, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("most liked artist: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("most liked artist: %w", repository.ErrNotFound)
	}
	row := rows[0]
	return &domain.ExternalAccount{
		ID:           row.ID,
		Username:     row.Username,
		AvatarURL:    stringPtr(row.AvatarURL),
		FullName:     row.FullName,
		PermalinkURL: row.PermalinkURL,
	}, nil
}

func (r *LibraryRepository) AveragePlaybackCount(ctx context.Context, ids domain.IDSet) (int64, error) {
	if ids.Len() == 0 {
		return 0, nil
	}
	var avg []int64
	err := r.db.Do(ctx, func(q sqlx.ExtContext) error {
		return selectIn(ctx, q, &avg, `
SELECT COALESCE(CAST(AVG(playback_count) AS INTEGER), 0)
FROM tracks
WHERE id IN `+idsParam, ids)
	})
	if err != nil {
		return 0, fmt.Errorf("average playback count: %w", err)
	}
	if len(avg) == 0 {
		return 0, nil
	}
	return avg[0], nil
}

// idsParam reads an id set bound as a single JSON array, so the statement
// carries one variable however large the set grows.
const idsParam = `(SELECT value FROM json_each(?))`

func selectIn(ctx context.Context, q sqlx.ExtContext, dest any, query string, ids domain.IDSet) error {
	encoded, err := json.Marshal(ids.Sorted())
	if err != nil {
		return fmt.Errorf("encode ids: %w", err)
	}
	return sqlx.SelectContext(ctx, q, dest, query, string(encoded))
}

var _ repository.LibraryRepository = (*LibraryRepository)(nil)
