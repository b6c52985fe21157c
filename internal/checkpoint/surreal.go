package checkpoint

import (
	"context"
	"time"
)

// Records is the subset of the SurrealDB client used for checkpoint records.
type Records interface {
	GetCheckpoint(ctx context.Context, key string) (*time.Time, error)
	SetCheckpoint(ctx context.Context, key string, value time.Time) error
	DeleteCheckpoint(ctx context.Context, key string) error
}

// SurrealStore keeps one etl_state record per key in SurrealDB.
type SurrealStore struct {
	records Records
}

// NewSurrealStore wraps a SurrealDB client.
func NewSurrealStore(records Records) *SurrealStore {
	return &SurrealStore{records: records}
}

// Get implements Store.
func (s *SurrealStore) Get(ctx context.Context, key string) (time.Time, error) {
	v, err := s.records.GetCheckpoint(ctx, key)
	if err != nil || v == nil {
		return time.Time{}, err
	}
	return v.UTC(), nil
}

// Set implements Store.
func (s *SurrealStore) Set(ctx context.Context, key string, value time.Time) error {
	return s.records.SetCheckpoint(ctx, key, value.UTC())
}

// Reset implements Store.
func (s *SurrealStore) Reset(ctx context.Context, key string) error {
	return s.records.DeleteCheckpoint(ctx, key)
}

// Close implements Store. The connection is owned by the caller.
func (s *SurrealStore) Close() error { return nil }
