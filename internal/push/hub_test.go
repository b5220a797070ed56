package push

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestHub(buffer int) *Hub {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewHub(Config{
		Secret:   []byte("test-secret-test-secret"),
		TokenTTL: time.Minute,
		Buffer:   buffer,
		Logger:   logger,
	})
}

func TestTokens(t *testing.T) {
	hub := newTestHub(4)

	token, err := hub.IssueToken(7)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	tests := []struct {
		name    string
		userID  int64
		token   string
		wantErr bool
	}{
		{"Valid", 7, token, false},
		{"OtherUser", 8, token, true},
		{"Garbage", 7, "not-a-token", true},
		{"Empty", 7, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hub.VerifyToken(tt.userID, tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("VerifyToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}

	t.Run("Expired", func(t *testing.T) {
		hub := newTestHub(4)
		issued := time.Now()
		hub.now = func() time.Time { return issued }
		token, err := hub.IssueToken(7)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		hub.now = func() time.Time { return issued.Add(2 * time.Minute) }
		if err := hub.VerifyToken(7, token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected expired token to fail, got %v", err)
		}
	})

	t.Run("OtherSecret", func(t *testing.T) {
		other := NewHub(Config{Secret: []byte("another-secret-entirely"), Logger: hub.cfg.Logger})
		foreign, err := other.IssueToken(7)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		if err := hub.VerifyToken(7, foreign); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected token from another key to fail, got %v", err)
		}
	})
}

func TestPublishSubscribe(t *testing.T) {
	t.Run("DroppedWithoutSubscriber", func(t *testing.T) {
		hub := newTestHub(4)
		if hub.Publish(1, map[string]int{"n": 1}) {
			t.Error("publish without subscriber should report dropped")
		}

		sub := hub.Subscribe(1)
		defer sub.Close()
		select {
		case ev := <-sub.Events():
			t.Errorf("events published before subscribing must not be replayed, got %s", ev)
		default:
		}
	})

	t.Run("DeliversToOwnerOnly", func(t *testing.T) {
		hub := newTestHub(4)
		alice := hub.Subscribe(1)
		bob := hub.Subscribe(2)
		defer alice.Close()
		defer bob.Close()

		if !hub.Publish(1, map[string]string{"phase": "likes"}) {
			t.Fatal("expected delivery to alice")
		}
		select {
		case ev := <-alice.Events():
			if string(ev) != `{"phase":"likes"}` {
				t.Errorf("unexpected payload %s", ev)
			}
		default:
			t.Fatal("alice did not receive event")
		}
		select {
		case ev := <-bob.Events():
			t.Errorf("bob must not see alice's events, got %s", ev)
		default:
		}
	})

	t.Run("FullQueueDrops", func(t *testing.T) {
		hub := newTestHub(1)
		sub := hub.Subscribe(1)
		defer sub.Close()

		if !hub.Publish(1, 1) {
			t.Fatal("first event should fit")
		}
		if hub.Publish(1, 2) {
			t.Error("second event should be dropped while the queue is full")
		}
	})

	t.Run("NewSubscriberReplacesOld", func(t *testing.T) {
		hub := newTestHub(4)
		first := hub.Subscribe(1)
		second := hub.Subscribe(1)
		defer second.Close()

		if _, ok := <-first.Events(); ok {
			t.Error("replaced subscription should be closed")
		}
		first.Close()
		if !hub.Connected(1) {
			t.Error("closing the replaced subscription must not remove the new one")
		}
		if !hub.Publish(1, "x") {
			t.Error("expected delivery to the new subscriber")
		}
	})

	t.Run("CloseRemovesEntry", func(t *testing.T) {
		hub := newTestHub(4)
		sub := hub.Subscribe(1)
		sub.Close()
		sub.Close()
		if hub.Connected(1) {
			t.Error("entry should be removed on close")
		}
	})

	t.Run("HubCloseEndsStreams", func(t *testing.T) {
		hub := newTestHub(4)
		sub := hub.Subscribe(1)
		hub.Close()
		if _, ok := <-sub.Events(); ok {
			t.Error("stream should end on hub close")
		}
		late := hub.Subscribe(2)
		if _, ok := <-late.Events(); ok {
			t.Error("subscribing after close should yield a closed stream")
		}
		sub.Close()
	})
}
