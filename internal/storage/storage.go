package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// Service archives ingestion snapshots in remote object storage.
type Service interface {
	PutSnapshot(ctx context.Context, userID int64, runID string, body []byte) (string, error)
	ListSnapshots(ctx context.Context, userID int64) ([]ObjectInfo, error)
	GetObjectURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// UserPrefix is the key prefix under which a user's snapshots live.
func UserPrefix(keyPrefix string, userID int64) string {
	return path.Join(strings.Trim(keyPrefix, "/"), fmt.Sprintf("user-%d", userID)) + "/"
}

// SnapshotKey is the object key of one run's snapshot.
func SnapshotKey(keyPrefix string, userID int64, runID string) string {
	return UserPrefix(keyPrefix, userID) + runID + ".json"
}
