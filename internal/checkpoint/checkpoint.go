// Package checkpoint persists one watermark per entity type across restarts.
//
// A watermark means "every source row modified at or before this instant has
// been loaded". Stores never fail on a missing key: Get returns the zero time,
// which sorts before every real modification marker.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/moviesync/internal/models"
)

// ErrCorruptCheckpoint indicates persisted state that cannot be decoded.
var ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

// Store reads and writes watermarks.
type Store interface {
	// Get returns the watermark for key, or the zero time when none exists.
	Get(ctx context.Context, key string) (time.Time, error)
	// Set atomically replaces the watermark for key.
	Set(ctx context.Context, key string, value time.Time) error
	// Reset removes the watermark for key.
	Reset(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile    = "file"
	BackendSurreal = "surreal"
	BackendLevel   = "leveldb"
)

// Open builds the store for backend. records is only used by the surreal backend.
func Open(backend, path string, records Records) (Store, error) {
	switch backend {
	case BackendFile:
		return NewFileStore(path)
	case BackendLevel:
		return NewLevelStore(path)
	case BackendSurreal:
		if records == nil {
			return nil, fmt.Errorf("%w: surreal checkpoint backend needs a database connection", models.ErrConfiguration)
		}
		return NewSurrealStore(records), nil
	default:
		return nil, fmt.Errorf("%w: unknown checkpoint backend %q", models.ErrConfiguration, backend)
	}
}

func formatWatermark(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseWatermark(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w: %v", models.ErrConfiguration, ErrCorruptCheckpoint, err)
	}
	return t.UTC(), nil
}
