package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"soundshelf/internal/domain"
	"soundshelf/internal/ingest"
	"soundshelf/internal/service"
	"soundshelf/internal/storage"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authCredsRequest struct {
	OAuthToken string `json:"oauth_token"`
	ClientID   string `json:"client_id"`
}

type UserResponse struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	user, err := h.deps.Users.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.startSession(c, user.ID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, UserResponse{UserID: user.ID, Username: user.Username})
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	user, err := h.deps.Users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.startSession(c, user.ID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, UserResponse{UserID: user.ID, Username: user.Username})
}

func (h *Handler) logout(c *gin.Context) {
	h.endSession(c)
	c.Status(http.StatusOK)
}

func (h *Handler) me(c *gin.Context, user *domain.User) {
	c.JSON(http.StatusOK, UserResponse{UserID: user.ID, Username: user.Username})
}

func (h *Handler) setAuthCreds(c *gin.Context, user *domain.User) {
	var req authCredsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}
	if err := h.deps.Users.SetCredentials(c.Request.Context(), user, req.OAuthToken, req.ClientID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) doScraping(c *gin.Context, user *domain.User) {
	maxLikes, err := ingest.ParseLimit(c.Query("maxLikes"))
	if err != nil {
		h.badRequest(c, "maxLikes: "+err.Error())
		return
	}
	maxPlaylists, err := ingest.ParseLimit(c.Query("maxPlaylists"))
	if err != nil {
		h.badRequest(c, "maxPlaylists: "+err.Error())
		return
	}

	runID, err := h.deps.Ingester.Trigger(user, ingest.Limits{MaxLikes: maxLikes, MaxPlaylists: maxPlaylists})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"user_id":     user.ID,
		"run_id":      runID,
		"stream_open": h.deps.Hub.Connected(user.ID),
	}).Debug("ingestion accepted")
	c.Status(http.StatusAccepted)
}

func (h *Handler) likedTracks(c *gin.Context, user *domain.User) {
	tracks, err := h.deps.Library.ListLikedTracks(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := make([]TrackSummaryResponse, len(tracks))
	for i := range tracks {
		resp[i] = trackSummaryToResponse(tracks[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) trackInfo(c *gin.Context, _ *domain.User) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	detail, err := h.deps.Library.GetTrackDetail(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, trackDetailToResponse(*detail))
}

func (h *Handler) playlists(c *gin.Context, user *domain.User) {
	playlists, err := h.deps.Library.ListPlaylists(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := make([]PlaylistSummaryResponse, len(playlists))
	for i := range playlists {
		resp[i] = playlistSummaryToResponse(playlists[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) playlistInfo(c *gin.Context, _ *domain.User) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	detail, err := h.deps.Library.GetPlaylistDetail(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, playlistDetailToResponse(*detail))
}

func (h *Handler) clearLikedTracks(c *gin.Context, user *domain.User) {
	if err := h.deps.Users.ClearLikedTracks(c.Request.Context(), user); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) clearPlaylists(c *gin.Context, user *domain.User) {
	if err := h.deps.Users.ClearPlaylists(c.Request.Context(), user); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) mostLikedArtist(c *gin.Context, user *domain.User) {
	account, err := h.deps.Library.MostLikedArtist(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, accountToResponse(*account))
}

func (h *Handler) averagePlaybackCount(c *gin.Context, user *domain.User) {
	avg, err := h.deps.Library.AveragePlaybackCount(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, avg)
}

// archiveLinkTTL is how long presigned snapshot links stay valid.
const archiveLinkTTL = 15 * time.Minute

func (h *Handler) listArchives(c *gin.Context, user *domain.User) {
	if h.deps.Archive == nil {
		h.fail(c, service.ErrNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	objects, err := h.deps.Archive.ListSnapshots(ctx, user.ID)
	if err != nil {
		h.fail(c, fmt.Errorf("list snapshots: %w: %w", service.ErrStore, err))
		return
	}

	resp := make([]ArchiveResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
		url, err := h.deps.Archive.GetObjectURL(ctx, objects[i].Key, archiveLinkTTL)
		if err != nil {
			h.fail(c, fmt.Errorf("presign snapshot: %w: %w", service.ErrStore, err))
			return
		}
		resp[i].URL = url
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(c, fmt.Sprintf("invalid id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

type TrackSummaryResponse struct {
	TrackID       int64  `json:"track_id"`
	LengthMS      int64  `json:"length_ms"`
	CreatedAt     string `json:"created_at"`
	Title         string `json:"title"`
	PlaybackCount int64  `json:"playback_count"`
	SCUserID      int64  `json:"sc_user_id"`
	Username      string `json:"username"`
}

type TrackDetailResponse struct {
	BriefInfo         TrackSummaryResponse `json:"brief_info"`
	Description       string               `json:"description"`
	LikesCount        int64                `json:"likes_count"`
	ArtworkURL        *string              `json:"artwork_url,omitempty"`
	TrackPermalinkURL string               `json:"track_permalink_url"`
	AvatarURL         *string              `json:"avatar_url,omitempty"`
	FullName          string               `json:"full_name"`
	UserPermalinkURL  string               `json:"user_permalink_url"`
}

type PlaylistSummaryResponse struct {
	PlaylistID int64  `json:"playlist_id"`
	LengthMS   int64  `json:"length_ms"`
	CreatedAt  string `json:"created_at"`
	Title      string `json:"title"`
	IsAlbum    bool   `json:"is_album"`
	NumTracks  int64  `json:"num_tracks"`
	SCUserID   int64  `json:"sc_user_id"`
	Username   string `json:"username"`
}

type PlaylistDetailResponse struct {
	BriefInfo            PlaylistSummaryResponse `json:"brief_info"`
	TrackIDs             []int64                 `json:"track_ids"`
	PlaylistPermalinkURL string                  `json:"playlist_permalink_url"`
	Description          string                  `json:"description"`
	LikesCount           int64                   `json:"likes_count"`
	AvatarURL            *string                 `json:"avatar_url,omitempty"`
	FullName             string                  `json:"full_name"`
	UserPermalinkURL     string                  `json:"user_permalink_url"`
}

type AccountResponse struct {
	SCUserID     int64   `json:"sc_user_id"`
	Username     string  `json:"username"`
	AvatarURL    *string `json:"avatar_url,omitempty"`
	FullName     string  `json:"full_name"`
	PermalinkURL string  `json:"permalink_url"`
}

type ArchiveResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
	URL          string  `json:"url"`
}

func trackSummaryToResponse(t domain.TrackSummary) TrackSummaryResponse {
	return TrackSummaryResponse{
		TrackID:       t.TrackID,
		LengthMS:      t.LengthMS,
		CreatedAt:     t.CreatedAt,
		Title:         t.Title,
		PlaybackCount: t.PlaybackCount,
		SCUserID:      t.AccountID,
		Username:      t.Username,
	}
}

func trackDetailToResponse(d domain.TrackDetail) TrackDetailResponse {
	return TrackDetailResponse{
		BriefInfo:         trackSummaryToResponse(d.Summary),
		Description:       d.Description,
		LikesCount:        d.LikesCount,
		ArtworkURL:        d.ArtworkURL,
		TrackPermalinkURL: d.TrackPermalinkURL,
		AvatarURL:         d.AvatarURL,
		FullName:          d.FullName,
		UserPermalinkURL:  d.AccountPermalinkURL,
	}
}

func playlistSummaryToResponse(p domain.PlaylistSummary) PlaylistSummaryResponse {
	return PlaylistSummaryResponse{
		PlaylistID: p.PlaylistID,
		LengthMS:   p.LengthMS,
		CreatedAt:  p.CreatedAt,
		Title:      p.Title,
		IsAlbum:    p.IsAlbum,
		NumTracks:  p.NumTracks,
		SCUserID:   p.AccountID,
		Username:   p.Username,
	}
}

func playlistDetailToResponse(d domain.PlaylistDetail) PlaylistDetailResponse {
	trackIDs := d.TrackIDs
	if trackIDs == nil {
		trackIDs = []int64{}
	}
	return PlaylistDetailResponse{
		BriefInfo:            playlistSummaryToResponse(d.Summary),
		TrackIDs:             trackIDs,
		PlaylistPermalinkURL: d.PlaylistPermalinkURL,
		Description:          d.Description,
		LikesCount:           d.LikesCount,
		AvatarURL:            d.AvatarURL,
		FullName:             d.FullName,
		UserPermalinkURL:     d.AccountPermalinkURL,
	}
}

func accountToResponse(a domain.ExternalAccount) AccountResponse {
	return AccountResponse{
		SCUserID:     a.ID,
		Username:     a.Username,
		AvatarURL:    a.AvatarURL,
		FullName:     a.FullName,
		PermalinkURL: a.PermalinkURL,
	}
}

func objectToResponse(obj storage.ObjectInfo) ArchiveResponse {
	resp := ArchiveResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}
