package soundcloud

import "soundshelf/internal/domain"

type apiUser struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username"`
	AvatarURL    *string `json:"avatar_url"`
	FullName     string  `json:"full_name"`
	PermalinkURL string  `json:"permalink_url"`
}

func (u apiUser) toDomain() domain.ExternalAccount {
	return domain.ExternalAccount{
		ID:           u.ID,
		Username:     u.Username,
		AvatarURL:    u.AvatarURL,
		FullName:     u.FullName,
		PermalinkURL: u.PermalinkURL,
	}
}

type apiTrack struct {
	ID            int64    `json:"id"`
	UserID        int64    `json:"user_id"`
	User          *apiUser `json:"user"`
	Duration      int64    `json:"duration"`
	CreatedAt     string   `json:"created_at"`
	Title         string   `json:"title"`
	Description   *string  `json:"description"`
	LikesCount    *int64   `json:"likes_count"`
	PlaybackCount *int64   `json:"playback_count"`
	ArtworkURL    *string  `json:"artwork_url"`
	PermalinkURL  string   `json:"permalink_url"`
}

// complete reports whether the track carries more than its id. Playlist
// responses inline only the first few members in full.
func (t apiTrack) complete() bool {
	return t.User != nil && t.Title != ""
}

func (t apiTrack) toDomain() domain.FetchedTrack {
	owner := t.User.toDomain()
	return domain.FetchedTrack{
		Track: domain.Track{
			ID:            t.ID,
			AccountID:     owner.ID,
			LengthMS:      t.Duration,
			CreatedAt:     t.CreatedAt,
			Title:         t.Title,
			Description:   deref(t.Description),
			LikesCount:    derefInt(t.LikesCount),
			PlaybackCount: derefInt(t.PlaybackCount),
			ArtworkURL:    t.ArtworkURL,
			PermalinkURL:  t.PermalinkURL,
		},
		Owner: owner,
	}
}

type apiPlaylist struct {
	ID           int64      `json:"id"`
	User         *apiUser   `json:"user"`
	Duration     int64      `json:"duration"`
	CreatedAt    string     `json:"created_at"`
	Title        string     `json:"title"`
	PermalinkURL string     `json:"permalink_url"`
	Description  *string    `json:"description"`
	LikesCount   *int64     `json:"likes_count"`
	IsAlbum      bool       `json:"is_album"`
	TrackCount   int64      `json:"track_count"`
	Tracks       []apiTrack `json:"tracks"`
}

type likesPage struct {
	Collection []struct {
		Track *apiTrack `json:"track"`
	} `json:"collection"`
	NextHref string `json:"next_href"`
}

type playlistLikesPage struct {
	Collection []struct {
		Playlist *apiPlaylist `json:"playlist"`
	} `json:"collection"`
	NextHref string `json:"next_href"`
}

type playlistsPage struct {
	Collection []apiPlaylist `json:"collection"`
	NextHref   string        `json:"next_href"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}
