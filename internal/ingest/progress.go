package ingest

import (
	"fmt"
	"strconv"
	"strings"
)

// Phase names the part of a run a progress event belongs to.
type Phase string

const (
	PhaseLikes     Phase = "likes"
	PhasePlaylists Phase = "playlists"
	PhaseStore     Phase = "store"
)

type Kind string

const (
	KindStarted  Kind = "started"
	KindPage     Kind = "page"
	KindFinished Kind = "finished"
)

// Progress is the payload relayed to the user's progress stream.
type Progress struct {
	Phase   Phase  `json:"phase"`
	Kind    Kind   `json:"kind"`
	Fetched int    `json:"fetched"`
	Limit   int    `json:"limit"`
	Message string `json:"message,omitempty"`
}

// ProgressFunc receives progress events. Implementations must not block.
type ProgressFunc func(Progress)

func StartedEvent(phase Phase, limit int) Progress {
	return Progress{
		Phase:   phase,
		Kind:    KindStarted,
		Limit:   limit,
		Message: fmt.Sprintf("fetching %s", phase),
	}
}

func PageEvent(phase Phase, fetched, limit int) Progress {
	return Progress{
		Phase:   phase,
		Kind:    KindPage,
		Fetched: fetched,
		Limit:   limit,
		Message: fmt.Sprintf("fetched %d %s", fetched, phase),
	}
}

func FinishedEvent(phase Phase, fetched, limit int) Progress {
	return Progress{
		Phase:   phase,
		Kind:    KindFinished,
		Fetched: fetched,
		Limit:   limit,
		Message: fmt.Sprintf("finished %s: %d", phase, fetched),
	}
}

// Unlimited asks a fetcher for everything available.
const Unlimited = -1

// Limits caps how many items a run fetches. Zero skips the fetch.
type Limits struct {
	MaxLikes     int
	MaxPlaylists int
}

// ParseLimit reads a query value: empty, "all" or negative means Unlimited.
func ParseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return Unlimited, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if n < 0 {
		return Unlimited, nil
	}
	return n, nil
}

// Reached reports whether count items satisfy limit.
func Reached(count, limit int) bool {
	return limit != Unlimited && count >= limit
}
