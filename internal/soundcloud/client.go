// Package soundcloud fetches a user's liked tracks and playlists from the
// SoundCloud v2 API.
package soundcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"soundshelf/internal/domain"
	"soundshelf/internal/ingest"
)

// hydrateChunk is the number of ids sent per /tracks lookup.
const hydrateChunk = 50

type Config struct {
	BaseURL           string
	PageSize          int
	RequestsPerSecond float64
	// Transport is the base round tripper; http.DefaultTransport when nil.
	Transport http.RoundTripper
}

// APIError is a non-2xx response from the API. A 401 usually means the
// stored token was revoked.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("soundcloud %s: status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("soundcloud %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Client is shared by all users; the limiter paces requests across them.
type Client struct {
	cfg     Config
	base    *url.URL
	limiter *rate.Limiter
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-v2.soundcloud.com"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse soundcloud base url: %w", err)
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:     cfg,
		base:    base,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// ForCredentials returns a fetcher that authenticates as the token's owner.
func (c *Client) ForCredentials(token, clientID string) ingest.Fetcher {
	source := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "OAuth",
	})
	return &fetcher{
		client:   c,
		clientID: clientID,
		http: &http.Client{
			Transport: &oauth2.Transport{Source: source, Base: c.cfg.Transport},
		},
	}
}

var _ ingest.FetcherFactory = (*Client)(nil)

type fetcher struct {
	client   *Client
	clientID string
	http     *http.Client

	mu     sync.Mutex
	userID int64
}

func (f *fetcher) FetchLikes(ctx context.Context, max int, onProgress ingest.ProgressFunc) ([]domain.FetchedTrack, error) {
	onProgress(ingest.StartedEvent(ingest.PhaseLikes, max))
	userID, err := f.me(ctx)
	if err != nil {
		return nil, err
	}

	out := []domain.FetchedTrack{}
	next := f.endpoint(fmt.Sprintf("/users/%d/track_likes", userID), f.pageSize(max))
	for next != "" && !ingest.Reached(len(out), max) {
		var page likesPage
		if err := f.get(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Collection {
			if item.Track == nil || !item.Track.complete() {
				continue
			}
			out = append(out, item.Track.toDomain())
			if ingest.Reached(len(out), max) {
				break
			}
		}
		onProgress(ingest.PageEvent(ingest.PhaseLikes, len(out), max))
		if len(page.Collection) == 0 {
			break
		}
		next = f.follow(page.NextHref)
	}

	onProgress(ingest.FinishedEvent(ingest.PhaseLikes, len(out), max))
	return out, nil
}

// FetchPlaylists returns liked playlists followed by the user's own, without
// duplicates, with every member track resolved.
func (f *fetcher) FetchPlaylists(ctx context.Context, max int, onProgress ingest.ProgressFunc) ([]domain.FetchedPlaylist, error) {
	onProgress(ingest.StartedEvent(ingest.PhasePlaylists, max))
	userID, err := f.me(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var collected []apiPlaylist
	add := func(p *apiPlaylist) {
		if p == nil || p.User == nil || ingest.Reached(len(collected), max) {
			return
		}
		if _, dup := seen[p.ID]; dup {
			return
		}
		seen[p.ID] = struct{}{}
		collected = append(collected, *p)
	}

	next := f.endpoint(fmt.Sprintf("/users/%d/playlist_likes", userID), f.pageSize(max))
	for next != "" && !ingest.Reached(len(collected), max) {
		var page playlistLikesPage
		if err := f.get(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Collection {
			add(item.Playlist)
		}
		onProgress(ingest.PageEvent(ingest.PhasePlaylists, len(collected), max))
		if len(page.Collection) == 0 {
			break
		}
		next = f.follow(page.NextHref)
	}

	next = f.endpoint(fmt.Sprintf("/users/%d/playlists", userID), f.pageSize(max))
	for next != "" && !ingest.Reached(len(collected), max) {
		var page playlistsPage
		if err := f.get(ctx, next, &page); err != nil {
			return nil, err
		}
		for i := range page.Collection {
			add(&page.Collection[i])
		}
		onProgress(ingest.PageEvent(ingest.PhasePlaylists, len(collected), max))
		if len(page.Collection) == 0 {
			break
		}
		next = f.follow(page.NextHref)
	}

	if err := f.hydrate(ctx, collected); err != nil {
		return nil, err
	}

	out := make([]domain.FetchedPlaylist, 0, len(collected))
	for _, p := range collected {
		out = append(out, playlistToDomain(p))
	}
	onProgress(ingest.FinishedEvent(ingest.PhasePlaylists, len(out), max))
	return out, nil
}

// hydrate replaces stub member tracks with full ones, in place.
func (f *fetcher) hydrate(ctx context.Context, playlists []apiPlaylist) error {
	var missing []int64
	wanted := make(map[int64]struct{})
	for _, p := range playlists {
		for _, t := range p.Tracks {
			if t.complete() {
				continue
			}
			if _, ok := wanted[t.ID]; !ok {
				wanted[t.ID] = struct{}{}
				missing = append(missing, t.ID)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	full := make(map[int64]apiTrack, len(missing))
	for start := 0; start < len(missing); start += hydrateChunk {
		end := min(start+hydrateChunk, len(missing))
		ids := make([]string, 0, end-start)
		for _, id := range missing[start:end] {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		var tracks []apiTrack
		if err := f.get(ctx, f.endpoint("/tracks", 0, "ids", strings.Join(ids, ",")), &tracks); err != nil {
			return err
		}
		for _, t := range tracks {
			if t.complete() {
				full[t.ID] = t
			}
		}
	}

	for i := range playlists {
		for j, t := range playlists[i].Tracks {
			if t.complete() {
				continue
			}
			if resolved, ok := full[t.ID]; ok {
				playlists[i].Tracks[j] = resolved
			}
		}
	}
	return nil
}

func playlistToDomain(p apiPlaylist) domain.FetchedPlaylist {
	owner := p.User.toDomain()
	trackIDs := make([]int64, 0, len(p.Tracks))
	members := make([]domain.FetchedTrack, 0, len(p.Tracks))
	for _, t := range p.Tracks {
		trackIDs = append(trackIDs, t.ID)
		// tracks that could not be resolved (removed or private) keep their
		// place in the order but are not stored
		if t.complete() {
			members = append(members, t.toDomain())
		}
	}
	numTracks := p.TrackCount
	if numTracks == 0 {
		numTracks = int64(len(p.Tracks))
	}
	return domain.FetchedPlaylist{
		Playlist: domain.Playlist{
			ID:           p.ID,
			AccountID:    owner.ID,
			TrackIDs:     trackIDs,
			NumTracks:    numTracks,
			LengthMS:     p.Duration,
			CreatedAt:    p.CreatedAt,
			Title:        p.Title,
			PermalinkURL: p.PermalinkURL,
			Description:  deref(p.Description),
			LikesCount:   derefInt(p.LikesCount),
			IsAlbum:      p.IsAlbum,
		},
		Owner:  owner,
		Tracks: members,
	}
}

func (f *fetcher) me(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userID != 0 {
		return f.userID, nil
	}
	var user apiUser
	if err := f.get(ctx, f.endpoint("/me", 0), &user); err != nil {
		return 0, err
	}
	if user.ID == 0 {
		return 0, fmt.Errorf("soundcloud /me: response without user id")
	}
	f.userID = user.ID
	return user.ID, nil
}

func (f *fetcher) pageSize(max int) int {
	if max == ingest.Unlimited || max > f.client.cfg.PageSize {
		return f.client.cfg.PageSize
	}
	return max
}

// endpoint builds an absolute API url; kv are extra query pairs.
func (f *fetcher) endpoint(path string, limit int, kv ...string) string {
	u := *f.client.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := url.Values{}
	q.Set("client_id", f.clientID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
		q.Set("linked_partitioning", "1")
	}
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// follow turns a next_href into a request url. The API omits client_id from
// next_href, so it is added back.
func (f *fetcher) follow(next string) string {
	if next == "" {
		return ""
	}
	u, err := f.client.base.Parse(next)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("client_id", f.clientID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (f *fetcher) get(ctx context.Context, rawURL string, dest any) error {
	if err := f.client.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("soundcloud request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{
			StatusCode: resp.StatusCode,
			Path:       req.URL.Path,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
