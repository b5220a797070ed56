package domain

import "time"

// User represents an account that can sign in and ingest a music library.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	// OAuthToken and ClientID are the external service credentials. Both are
	// empty until the user stores them.
	OAuthToken    string
	ClientID      string
	LikedTrackIDs IDSet
	PlaylistIDs   IDSet
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasCredentials reports whether both external credentials are present.
func (u *User) HasCredentials() bool {
	return u != nil && u.OAuthToken != "" && u.ClientID != ""
}
