package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRecords is an in-memory stand-in for the SurrealDB etl_state table.
type memRecords struct {
	mu   sync.Mutex
	data map[string]time.Time
}

func newMemRecords() *memRecords { return &memRecords{data: make(map[string]time.Time)} }

func (m *memRecords) GetCheckpoint(_ context.Context, key string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *memRecords) SetCheckpoint(_ context.Context, key string, value time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memRecords) DeleteCheckpoint(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// backends returns a constructor per backend; calling it twice with the same
// directory reopens the same persisted state.
func backends(t *testing.T) map[string]func(dir string) Store {
	records := newMemRecords()
	return map[string]func(dir string) Store{
		BackendFile: func(dir string) Store {
			s, err := Open(BackendFile, filepath.Join(dir, "etl_state.json"), nil)
			require.NoError(t, err)
			return s
		},
		BackendLevel: func(dir string) Store {
			s, err := Open(BackendLevel, filepath.Join(dir, "state.ldb"), nil)
			require.NoError(t, err)
			return s
		},
		BackendSurreal: func(string) Store {
			s, err := Open(BackendSurreal, "", records)
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			s := open(dir)

			got, err := s.Get(ctx, "genre")
			require.NoError(t, err)
			assert.True(t, got.IsZero(), "missing key yields the zero time")

			ts := time.Date(2024, 3, 5, 10, 11, 12, 123456789, time.FixedZone("MSK", 3*3600))
			require.NoError(t, s.Set(ctx, "genre", ts))
			require.NoError(t, s.Set(ctx, "person", ts.Add(time.Hour)))

			got, err = s.Get(ctx, "genre")
			require.NoError(t, err)
			assert.True(t, got.Equal(ts), "got %v want %v", got, ts)
			assert.Equal(t, time.UTC, got.Location())

			// survives a restart
			require.NoError(t, s.Close())
			s = open(dir)
			got, err = s.Get(ctx, "person")
			require.NoError(t, err)
			assert.True(t, got.Equal(ts.Add(time.Hour)))

			require.NoError(t, s.Reset(ctx, "genre"))
			got, err = s.Get(ctx, "genre")
			require.NoError(t, err)
			assert.True(t, got.IsZero())

			// other keys untouched
			got, err = s.Get(ctx, "person")
			require.NoError(t, err)
			assert.False(t, got.IsZero())

			require.NoError(t, s.Reset(ctx, "never-set"))
			require.NoError(t, s.Close())
		})
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	tests := map[string]string{
		"not json":      "{genre:",
		"bad timestamp": `{"genre": "yesterday"}`,
		"non-string":    `{"genre": 17}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "etl_state.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			_, err := NewFileStore(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorruptCheckpoint)
			assert.ErrorIs(t, err, models.ErrConfiguration)
		})
	}
}

func TestFileStoreEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etl_state.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := s.Get(context.Background(), "genre")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestFileStoreAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "etl_state.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	ts := time.Date(2021, 6, 16, 20, 14, 9, 0, time.UTC)
	require.NoError(t, s.Set(context.Background(), "genre", ts))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"genre": "2021-06-16T20:14:09Z"}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestOpenErrors(t *testing.T) {
	_, err := Open("redis", "", nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = Open(BackendSurreal, "", nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
