package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"soundshelf/internal/domain"
	"soundshelf/internal/metrics"
	"soundshelf/internal/repository"
	"soundshelf/internal/service"
)

// ErrNotRunning is returned by Trigger before Start or after Shutdown.
var ErrNotRunning = errors.New("ingestion orchestrator is not running")

type Config struct {
	MaxConcurrent int
	Logger        *logrus.Logger
	Metrics       *metrics.Metrics
}

// Orchestrator runs ingestion in the background on a bounded worker pool.
// Callers get no handle on a run; progress reaches the user through the
// Publisher and failures are only logged.
type Orchestrator struct {
	cfg       Config
	users     repository.UserRepository
	library   repository.LibraryRepository
	fetchers  FetcherFactory
	publisher Publisher
	archiver  Archiver

	sem     chan struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	active  map[string]int64
	stopped bool
}

type run struct {
	id       string
	userID   int64
	token    string
	clientID string
	limits   Limits
	// accumulators, seeded with the user's ids at trigger time
	liked     domain.IDSet
	playlists domain.IDSet
}

// NewOrchestrator wires the orchestrator. archiver may be nil.
func NewOrchestrator(
	cfg Config,
	users repository.UserRepository,
	library repository.LibraryRepository,
	fetchers FetcherFactory,
	publisher Publisher,
	archiver Archiver,
) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Orchestrator{
		cfg:       cfg,
		users:     users,
		library:   library,
		fetchers:  fetchers,
		publisher: publisher,
		archiver:  archiver,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		active:    make(map[string]int64),
	}
}

func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx != nil {
		return fmt.Errorf("ingestion orchestrator already started")
	}
	// runs outlive the requests that trigger them; only Shutdown cancels
	o.ctx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))
	o.cfg.Logger.Infof("ingestion orchestrator started, max concurrent runs: %d", o.cfg.MaxConcurrent)
	return nil
}

// Shutdown stops accepting runs and waits for in-flight ones until ctx is
// done, after which the remaining runs are cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	o.stopped = true
	cancel := o.cancel
	o.mu.Unlock()
	if cancel == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		o.cfg.Logger.Warn("cancelling unfinished ingestion runs")
		cancel()
		<-done
	}
	cancel()
	o.cfg.Logger.Info("ingestion orchestrator stopped")
}

// Trigger validates the user's credentials and schedules a run. It returns
// as soon as the run is queued.
func (o *Orchestrator) Trigger(user *domain.User, limits Limits) (string, error) {
	if !user.HasCredentials() {
		o.cfg.Metrics.IngestRun(metrics.OutcomeRejected)
		return "", service.ErrCredentialsMissing
	}

	r := &run{
		id:        uuid.NewString(),
		userID:    user.ID,
		token:     user.OAuthToken,
		clientID:  user.ClientID,
		limits:    limits,
		liked:     user.LikedTrackIDs.Clone(),
		playlists: user.PlaylistIDs.Clone(),
	}

	o.mu.Lock()
	if o.ctx == nil || o.stopped {
		o.mu.Unlock()
		return "", ErrNotRunning
	}
	concurrent := o.countActiveLocked(user.ID)
	o.active[r.id] = r.userID
	o.wg.Add(1)
	o.mu.Unlock()

	logger := o.cfg.Logger.WithFields(logrus.Fields{"user_id": r.userID, "run_id": r.id})
	if concurrent > 0 {
		logger.Infof("%d other run(s) in flight for this user, id sets will be merged", concurrent)
	}
	logger.Infof("ingestion queued (max likes %d, max playlists %d)", limits.MaxLikes, limits.MaxPlaylists)

	go func() {
		defer o.wg.Done()
		defer o.unregister(r.id)
		select {
		case <-o.ctx.Done():
			logger.Warn("ingestion dropped before start: shutting down")
			return
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
			o.handleRun(o.ctx, r)
		}
	}()

	return r.id, nil
}

func (o *Orchestrator) countActiveLocked(userID int64) int {
	n := 0
	for _, uid := range o.active {
		if uid == userID {
			n++
		}
	}
	return n
}

func (o *Orchestrator) unregister(runID string) {
	o.mu.Lock()
	delete(o.active, runID)
	o.mu.Unlock()
}

func (o *Orchestrator) handleRun(ctx context.Context, r *run) {
	logger := o.cfg.Logger.WithFields(logrus.Fields{"user_id": r.userID, "run_id": r.id})
	started := time.Now()

	result, err := o.execute(ctx, r, logger)
	if err != nil {
		o.cfg.Metrics.IngestRun(metrics.OutcomeFailed)
		logger.Errorf("ingestion failed after %s: %v", time.Since(started).Round(time.Millisecond), err)
		return
	}
	o.cfg.Metrics.IngestRun(metrics.OutcomeCompleted)
	logger.Infof("ingestion completed in %s: %d liked tracks, %d playlists",
		time.Since(started).Round(time.Millisecond), len(result.Likes), len(result.Playlists))

	o.archive(ctx, r, result, logger)
}

type runResult struct {
	RunID      string                   `json:"run_id"`
	UserID     int64                    `json:"user_id"`
	FinishedAt time.Time                `json:"finished_at"`
	Likes      []domain.FetchedTrack    `json:"likes"`
	Playlists  []domain.FetchedPlaylist `json:"playlists"`
}

func (o *Orchestrator) execute(ctx context.Context, r *run, logger *logrus.Entry) (*runResult, error) {
	fetcher := o.fetchers.ForCredentials(r.token, r.clientID)
	relay := func(p Progress) {
		// best effort; a dropped event never aborts the run
		o.publisher.Publish(r.userID, p)
	}

	result := &runResult{RunID: r.id, UserID: r.userID}

	if r.limits.MaxLikes != 0 {
		likes, err := fetcher.FetchLikes(ctx, r.limits.MaxLikes, relay)
		if err != nil {
			return nil, fmt.Errorf("fetch likes: %w: %w", service.ErrUpstreamFetch, err)
		}
		result.Likes = likes
		logger.Debugf("fetched %d liked tracks", len(likes))
	}

	if r.limits.MaxPlaylists != 0 {
		playlists, err := fetcher.FetchPlaylists(ctx, r.limits.MaxPlaylists, relay)
		if err != nil {
			return nil, fmt.Errorf("fetch playlists: %w: %w", service.ErrUpstreamFetch, err)
		}
		result.Playlists = playlists
		logger.Debugf("fetched %d playlists", len(playlists))
	}

	var tracksWritten, playlistsWritten int
	err := o.library.Batch(ctx, func(w repository.LibraryWriter) error {
		for _, ft := range result.Likes {
			if err := upsertFetchedTrack(ctx, w, ft); err != nil {
				return err
			}
			r.liked.Add(ft.Track.ID)
			tracksWritten++
		}
		for _, fp := range result.Playlists {
			if err := w.UpsertAccount(ctx, fp.Owner); err != nil {
				return err
			}
			for _, member := range fp.Tracks {
				if err := upsertFetchedTrack(ctx, w, member); err != nil {
					return err
				}
				tracksWritten++
			}
			if err := w.UpsertPlaylist(ctx, fp.Playlist); err != nil {
				return err
			}
			r.playlists.Add(fp.Playlist.ID)
			playlistsWritten++
		}
		return nil
	})
	o.cfg.Metrics.IngestEntities("track", tracksWritten)
	o.cfg.Metrics.IngestEntities("playlist", playlistsWritten)
	if err != nil {
		return nil, fmt.Errorf("store fetched library: %w: %w", service.ErrStore, err)
	}

	liked, playlists, err := o.users.MergeIDSets(ctx, r.userID, r.liked, r.playlists)
	if err != nil {
		return nil, fmt.Errorf("write id sets: %w: %w", service.ErrStore, err)
	}

	result.FinishedAt = time.Now().UTC()
	relay(Progress{
		Phase:   PhaseStore,
		Kind:    KindFinished,
		Fetched: len(result.Likes) + len(result.Playlists),
		Limit:   Unlimited,
		Message: fmt.Sprintf("library now has %d liked tracks and %d playlists", liked.Len(), playlists.Len()),
	})
	return result, nil
}

func upsertFetchedTrack(ctx context.Context, w repository.LibraryWriter, ft domain.FetchedTrack) error {
	if err := w.UpsertAccount(ctx, ft.Owner); err != nil {
		return err
	}
	track := ft.Track
	if track.AccountID == 0 {
		track.AccountID = ft.Owner.ID
	}
	return w.UpsertTrack(ctx, track)
}

func (o *Orchestrator) archive(ctx context.Context, r *run, result *runResult, logger *logrus.Entry) {
	if o.archiver == nil {
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		logger.Warnf("encode snapshot: %v", err)
		return
	}
	location, err := o.archiver.PutSnapshot(ctx, r.userID, r.id, body)
	if err != nil {
		logger.Warnf("archive snapshot: %v", err)
		return
	}
	logger.Infof("snapshot archived to %s", location)
}
