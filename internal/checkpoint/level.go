package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelStore keeps watermarks in a LevelDB database: key is the entity name,
// value the RFC 3339 timestamp.
type LevelStore struct {
	db *leveldb.DB
}

// NewLevelStore opens (creating if needed) the LevelDB database at path.
func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open leveldb checkpoint %s: %v", models.ErrConfiguration, path, err)
	}
	return &LevelStore{db: db}, nil
}

// Get implements Store.
func (s *LevelStore) Get(_ context.Context, key string) (time.Time, error) {
	v, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get checkpoint %q: %w", key, err)
	}
	return parseWatermark(string(v))
}

// Set implements Store.
func (s *LevelStore) Set(_ context.Context, key string, value time.Time) error {
	if err := s.db.Put([]byte(key), []byte(formatWatermark(value)), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("set checkpoint %q: %w", key, err)
	}
	return nil
}

// Reset implements Store.
func (s *LevelStore) Reset(_ context.Context, key string) error {
	if err := s.db.Delete([]byte(key), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("reset checkpoint %q: %w", key, err)
	}
	return nil
}

// Close implements Store.
func (s *LevelStore) Close() error {
	return s.db.Close()
}
