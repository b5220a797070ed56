package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"soundshelf/internal/domain"
	"soundshelf/internal/repository"
	"soundshelf/internal/repository/sqlite"
	"soundshelf/internal/service"
)

type fakeFetcher struct {
	likes     []domain.FetchedTrack
	playlists []domain.FetchedPlaylist
	likesErr  error
	listsErr  error
	// gate, when set, blocks FetchLikes until closed
	gate chan struct{}

	mu          sync.Mutex
	likeCalls   []int
	listCalls   []int
	credentials []string
}

func (f *fakeFetcher) ForCredentials(token, clientID string) Fetcher {
	f.mu.Lock()
	f.credentials = append(f.credentials, token+"/"+clientID)
	f.mu.Unlock()
	return f
}

func (f *fakeFetcher) FetchLikes(ctx context.Context, max int, onProgress ProgressFunc) ([]domain.FetchedTrack, error) {
	f.mu.Lock()
	f.likeCalls = append(f.likeCalls, max)
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	onProgress(StartedEvent(PhaseLikes, max))
	if f.likesErr != nil {
		return nil, f.likesErr
	}
	out := f.likes
	if max != Unlimited && len(out) > max {
		out = out[:max]
	}
	onProgress(FinishedEvent(PhaseLikes, len(out), max))
	return out, nil
}

func (f *fakeFetcher) FetchPlaylists(ctx context.Context, max int, onProgress ProgressFunc) ([]domain.FetchedPlaylist, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, max)
	f.mu.Unlock()
	if f.listsErr != nil {
		return nil, f.listsErr
	}
	onProgress(FinishedEvent(PhasePlaylists, len(f.playlists), max))
	return f.playlists, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[int64][]Progress
}

func (p *recordingPublisher) Publish(userID int64, payload any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[int64][]Progress)
	}
	p.events[userID] = append(p.events[userID], payload.(Progress))
	return true
}

func (p *recordingPublisher) For(userID int64) []Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Progress(nil), p.events[userID]...)
}

type fakeArchiver struct {
	mu    sync.Mutex
	puts  map[string][]byte
	err   error
	calls int
}

func (a *fakeArchiver) PutSnapshot(ctx context.Context, userID int64, runID string, body []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	if a.puts == nil {
		a.puts = make(map[string][]byte)
	}
	a.puts[runID] = body
	return "mem://" + runID, nil
}

type env struct {
	users   *sqlite.UserRepository
	library *sqlite.LibraryRepository
	pub     *recordingPublisher
}

func setupEnv(t *testing.T) *env {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	e := &env{
		users:   sqlite.NewUserRepository(db),
		library: sqlite.NewLibraryRepository(db),
		pub:     &recordingPublisher{},
	}
	if err := e.users.Init(ctx); err != nil {
		t.Fatalf("init users: %v", err)
	}
	if err := e.library.Init(ctx); err != nil {
		t.Fatalf("init library: %v", err)
	}
	return e
}

func (e *env) orchestrator(t *testing.T, fetcher FetcherFactory, archiver Archiver) *Orchestrator {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	o := NewOrchestrator(Config{MaxConcurrent: 2, Logger: logger}, e.users, e.library, fetcher, e.pub, archiver)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return o
}

func (e *env) user(t *testing.T, name string, withCreds bool) *domain.User {
	t.Helper()
	ctx := context.Background()
	u := &domain.User{Username: name, PasswordHash: "x"}
	if _, err := e.users.Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if withCreds {
		if err := e.users.SetCredentials(ctx, u.ID, "tok", "cid"); err != nil {
			t.Fatalf("set credentials: %v", err)
		}
	}
	loaded, err := e.users.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return loaded
}

func fetchedTrack(id, owner int64) domain.FetchedTrack {
	return domain.FetchedTrack{
		Track: domain.Track{
			ID:           id,
			AccountID:    owner,
			LengthMS:     1000 * id,
			CreatedAt:    "2022-02-02T02:02:02Z",
			Title:        "track",
			PermalinkURL: "https://soundcloud.com/x/track",
		},
		Owner: domain.ExternalAccount{
			ID:           owner,
			Username:     "account",
			FullName:     "Account",
			PermalinkURL: "https://soundcloud.com/x",
		},
	}
}

func wait(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.Shutdown(ctx)
}

func TestTriggerIngestsLikes(t *testing.T) {
	e := setupEnv(t)
	fetcher := &fakeFetcher{likes: []domain.FetchedTrack{fetchedTrack(10, 5), fetchedTrack(11, 5)}}
	o := e.orchestrator(t, fetcher, nil)

	alice := e.user(t, "alice", true)
	if _, err := o.Trigger(alice, Limits{MaxLikes: 2, MaxPlaylists: 0}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	wait(t, o)

	ctx := context.Background()
	stored, err := e.users.GetByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := stored.LikedTrackIDs.Sorted(); !slices.Equal(got, []int64{10, 11}) {
		t.Errorf("liked ids = %v, want [10 11]", got)
	}
	summaries, err := e.library.ListTrackSummaries(ctx, stored.LikedTrackIDs)
	if err != nil || len(summaries) != 2 {
		t.Fatalf("expected 2 liked tracks, got %v (%v)", summaries, err)
	}
	if _, err := e.library.GetTrackDetail(ctx, 10); err != nil {
		t.Errorf("track 10 should exist: %v", err)
	}
	if len(fetcher.listCalls) != 0 {
		t.Errorf("maxPlaylists=0 must skip the playlist fetch, got calls %v", fetcher.listCalls)
	}
	if fetcher.credentials[0] != "tok/cid" {
		t.Errorf("fetcher built with %q", fetcher.credentials[0])
	}

	events := e.pub.For(alice.ID)
	if len(events) == 0 {
		t.Fatal("expected progress events")
	}
	last := events[len(events)-1]
	if last.Phase != PhaseStore || last.Kind != KindFinished {
		t.Errorf("last event = %+v, want store finished", last)
	}
}

func TestTriggerWithoutCredentials(t *testing.T) {
	e := setupEnv(t)
	fetcher := &fakeFetcher{likes: []domain.FetchedTrack{fetchedTrack(10, 5)}}
	o := e.orchestrator(t, fetcher, nil)

	bob := e.user(t, "bob", false)
	if _, err := o.Trigger(bob, Limits{MaxLikes: Unlimited, MaxPlaylists: Unlimited}); !errors.Is(err, service.ErrCredentialsMissing) {
		t.Fatalf("expected ErrCredentialsMissing, got %v", err)
	}
	wait(t, o)

	if len(fetcher.credentials) != 0 {
		t.Error("no fetcher should have been built")
	}
	if events := e.pub.For(bob.ID); len(events) != 0 {
		t.Errorf("no events expected, got %v", events)
	}
}

func TestTriggerPlaylists(t *testing.T) {
	e := setupEnv(t)
	playlist := domain.FetchedPlaylist{
		Playlist: domain.Playlist{
			ID:           82334,
			AccountID:    5,
			TrackIDs:     []int64{20, 21},
			NumTracks:    2,
			CreatedAt:    "2020-01-02T03:04:05Z",
			Title:        "My Killer Tunes",
			PermalinkURL: "https://soundcloud.com/x/sets/my-killer-tunes",
		},
		Owner:  fetchedTrack(0, 5).Owner,
		Tracks: []domain.FetchedTrack{fetchedTrack(20, 6), fetchedTrack(21, 7)},
	}
	fetcher := &fakeFetcher{playlists: []domain.FetchedPlaylist{playlist}}
	o := e.orchestrator(t, fetcher, nil)

	alice := e.user(t, "alice", true)
	if _, err := o.Trigger(alice, Limits{MaxLikes: 0, MaxPlaylists: Unlimited}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	wait(t, o)

	ctx := context.Background()
	stored, _ := e.users.GetByID(ctx, alice.ID)
	if got := stored.PlaylistIDs.Sorted(); !slices.Equal(got, []int64{82334}) {
		t.Errorf("playlist ids = %v", got)
	}
	if stored.LikedTrackIDs.Len() != 0 {
		t.Errorf("playlist members must not become likes, got %v", stored.LikedTrackIDs.Sorted())
	}
	for _, id := range []int64{20, 21} {
		if _, err := e.library.GetTrackDetail(ctx, id); err != nil {
			t.Errorf("member track %d should be stored: %v", id, err)
		}
	}
	detail, err := e.library.GetPlaylistDetail(ctx, 82334)
	if err != nil {
		t.Fatalf("playlist detail: %v", err)
	}
	if !slices.Equal(detail.TrackIDs, []int64{20, 21}) {
		t.Errorf("track order = %v", detail.TrackIDs)
	}
}

func TestFetchFailureKeepsIDSets(t *testing.T) {
	e := setupEnv(t)
	fetcher := &fakeFetcher{likesErr: errors.New("401 from upstream")}
	archiver := &fakeArchiver{}
	o := e.orchestrator(t, fetcher, archiver)

	ctx := context.Background()
	alice := e.user(t, "alice", true)
	if err := e.users.ReplaceLikedTrackIDs(ctx, alice.ID, domain.NewIDSet(1, 2)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	alice, _ = e.users.GetByID(ctx, alice.ID)

	if _, err := o.Trigger(alice, Limits{MaxLikes: Unlimited, MaxPlaylists: Unlimited}); err != nil {
		t.Fatalf("trigger should be accepted even if the run later fails: %v", err)
	}
	wait(t, o)

	stored, _ := e.users.GetByID(ctx, alice.ID)
	if got := stored.LikedTrackIDs.Sorted(); !slices.Equal(got, []int64{1, 2}) {
		t.Errorf("liked ids changed on failure: %v", got)
	}
	for _, ev := range e.pub.For(alice.ID) {
		if ev.Phase == PhaseStore {
			t.Errorf("failed run must not report store completion: %+v", ev)
		}
	}
	if archiver.calls != 0 {
		t.Error("failed run must not be archived")
	}
}

func TestStoreFailureKeepsEarlierUpserts(t *testing.T) {
	e := setupEnv(t)
	bad := fetchedTrack(12, 9)
	bad.Track.AccountID = 404 // no such account, foreign key fails
	fetcher := &fakeFetcher{likes: []domain.FetchedTrack{fetchedTrack(10, 5), bad}}
	o := e.orchestrator(t, fetcher, nil)

	alice := e.user(t, "alice", true)
	if _, err := o.Trigger(alice, Limits{MaxLikes: Unlimited, MaxPlaylists: 0}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	wait(t, o)

	ctx := context.Background()
	if _, err := e.library.GetTrackDetail(ctx, 10); err != nil {
		t.Errorf("upsert before the failure should remain: %v", err)
	}
	if _, err := e.library.GetTrackDetail(ctx, 12); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("failing track should not exist, got %v", err)
	}
	stored, _ := e.users.GetByID(ctx, alice.ID)
	if stored.LikedTrackIDs.Len() != 0 {
		t.Errorf("id sets must not be written after a store failure, got %v", stored.LikedTrackIDs.Sorted())
	}
}

func TestConcurrentRunsMergeIDs(t *testing.T) {
	e := setupEnv(t)
	gate := make(chan struct{})
	first := &fakeFetcher{likes: []domain.FetchedTrack{fetchedTrack(10, 5)}, gate: gate}
	second := &fakeFetcher{likes: []domain.FetchedTrack{fetchedTrack(11, 5)}, gate: gate}
	factory := &sequenceFactory{fetchers: []Fetcher{first, second}}
	o := e.orchestrator(t, factory, nil)

	alice := e.user(t, "alice", true)
	// both runs seed from the same empty snapshot
	if _, err := o.Trigger(alice, Limits{MaxLikes: Unlimited}); err != nil {
		t.Fatalf("trigger 1: %v", err)
	}
	if _, err := o.Trigger(alice, Limits{MaxLikes: Unlimited}); err != nil {
		t.Fatalf("trigger 2: %v", err)
	}
	close(gate)
	wait(t, o)

	stored, _ := e.users.GetByID(context.Background(), alice.ID)
	if got := stored.LikedTrackIDs.Sorted(); !slices.Equal(got, []int64{10, 11}) {
		t.Errorf("liked ids = %v, want both runs' ids", got)
	}
}

type sequenceFactory struct {
	mu       sync.Mutex
	fetchers []Fetcher
	next     int
}

func (s *sequenceFactory) ForCredentials(token, clientID string) Fetcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.fetchers[s.next%len(s.fetchers)]
	s.next++
	return f
}

func TestArchiveSnapshot(t *testing.T) {
	e := setupEnv(t)
	fetcher := &fakeFetcher{likes: []domain.FetchedTrack{fetchedTrack(10, 5)}}

	t.Run("Uploaded", func(t *testing.T) {
		archiver := &fakeArchiver{}
		o := e.orchestrator(t, fetcher, archiver)
		alice := e.user(t, "alice", true)
		runID, err := o.Trigger(alice, Limits{MaxLikes: 1})
		if err != nil {
			t.Fatalf("trigger: %v", err)
		}
		wait(t, o)

		body, ok := archiver.puts[runID]
		if !ok {
			t.Fatalf("no snapshot stored for run %s", runID)
		}
		var snap struct {
			RunID  string `json:"run_id"`
			UserID int64  `json:"user_id"`
			Likes  []any  `json:"likes"`
		}
		if err := json.Unmarshal(body, &snap); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if snap.RunID != runID || snap.UserID != alice.ID || len(snap.Likes) != 1 {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	})

	t.Run("FailureIsNotFatal", func(t *testing.T) {
		archiver := &fakeArchiver{err: errors.New("bucket gone")}
		o := e.orchestrator(t, fetcher, archiver)
		bob := e.user(t, "bob", true)
		if _, err := o.Trigger(bob, Limits{MaxLikes: 1}); err != nil {
			t.Fatalf("trigger: %v", err)
		}
		wait(t, o)

		stored, _ := e.users.GetByID(context.Background(), bob.ID)
		if _, ok := stored.LikedTrackIDs[10]; !ok {
			t.Error("ingestion should succeed even when archiving fails")
		}
	})
}

func TestLifecycle(t *testing.T) {
	e := setupEnv(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	o := NewOrchestrator(Config{Logger: logger}, e.users, e.library, &fakeFetcher{}, e.pub, nil)
	alice := e.user(t, "alice", true)

	if _, err := o.Trigger(alice, Limits{}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning before start, got %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := o.Start(context.Background()); err == nil {
		t.Error("second start should fail")
	}
	wait(t, o)
	if _, err := o.Trigger(alice, Limits{}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning after shutdown, got %v", err)
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", Unlimited, false},
		{"all", Unlimited, false},
		{"ALL", Unlimited, false},
		{"-1", Unlimited, false},
		{"-20", Unlimited, false},
		{"0", 0, false},
		{"25", 25, false},
		{"abc", 0, true},
		{"1.5", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseLimit(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLimit(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseLimit(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}

	if Reached(5, Unlimited) {
		t.Error("unlimited is never reached")
	}
	if !Reached(5, 5) || Reached(4, 5) {
		t.Error("Reached boundary is wrong")
	}
}
