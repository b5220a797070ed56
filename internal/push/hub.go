// Package push relays ingestion progress to the one browser stream a user has
// open. Delivery is best effort: events for users without a live stream, or
// whose stream is not keeping up, are dropped.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"soundshelf/internal/metrics"
)

const tokenAudience = "push"

// ErrInvalidToken is returned for a token that is malformed, expired, signed
// with another key or issued for a different user.
var ErrInvalidToken = errors.New("invalid push token")

type Config struct {
	Secret   []byte
	TokenTTL time.Duration
	// Buffer is the number of undelivered events a subscriber may lag behind.
	Buffer  int
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

type Hub struct {
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	subs   map[int64]*Subscription
	closed bool
}

func NewHub(cfg Config) *Hub {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Minute
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 32
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Hub{
		cfg:  cfg,
		now:  time.Now,
		subs: make(map[int64]*Subscription),
	}
}

// IssueToken mints a short-lived token that lets userID open its stream.
func (h *Hub) IssueToken(userID int64) (string, error) {
	now := h.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatInt(userID, 10),
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(h.cfg.TokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign push token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks that raw was issued by this hub for userID and is unexpired.
func (h *Hub) VerifyToken(userID int64, raw string) error {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return h.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject != strconv.FormatInt(userID, 10) {
		return fmt.Errorf("%w: issued for another user", ErrInvalidToken)
	}
	return nil
}

// Subscription is one live stream. Events is closed when the subscription is
// replaced by a newer one for the same user, closed, or the hub shuts down.
type Subscription struct {
	hub    *Hub
	userID int64
	events chan []byte
	done   bool // guarded by hub.mu
}

func (s *Subscription) Events() <-chan []byte {
	return s.events
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[s.userID] == s {
		delete(h.subs, s.userID)
	}
	h.finishLocked(s)
}

// Subscribe registers the stream for userID, replacing any previous one.
func (h *Hub) Subscribe(userID int64) *Subscription {
	sub := &Subscription{
		hub:    h,
		userID: userID,
		events: make(chan []byte, h.cfg.Buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.done = true
		close(sub.events)
		return sub
	}
	if prev, ok := h.subs[userID]; ok {
		h.cfg.Logger.WithField("user_id", userID).Info("replacing existing progress stream")
		h.finishLocked(prev)
	}
	h.subs[userID] = sub
	h.cfg.Metrics.PushSubscribers(1)
	return sub
}

// Publish sends payload, JSON encoded, to the user's stream if one is open.
// It never blocks and reports whether the event was queued.
func (h *Hub) Publish(userID int64, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		h.cfg.Logger.WithField("user_id", userID).Warnf("encode progress event: %v", err)
		h.cfg.Metrics.PushEvent(false)
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[userID]
	if !ok {
		h.cfg.Metrics.PushEvent(false)
		return false
	}
	select {
	case sub.events <- data:
		h.cfg.Metrics.PushEvent(true)
		return true
	default:
		h.cfg.Metrics.PushEvent(false)
		return false
	}
}

// Connected reports whether userID currently has a stream open.
func (h *Hub) Connected(userID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.subs[userID]
	return ok
}

// Close ends every open stream and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		h.finishLocked(sub)
		delete(h.subs, id)
	}
}

func (h *Hub) finishLocked(sub *Subscription) {
	if sub.done {
		return
	}
	sub.done = true
	close(sub.events)
	h.cfg.Metrics.PushSubscribers(-1)
}
