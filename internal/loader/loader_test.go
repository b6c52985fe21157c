package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/raphaelgruber/moviesync/internal/memindex"
	"github.com/raphaelgruber/moviesync/internal/metrics"
	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var genres = models.Spec[models.EntityGenre].Index

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeDocs(n int) []models.Document {
	docs := make([]models.Document, n)
	for i := range docs {
		id := fmt.Sprintf("g%02d", i)
		docs[i] = models.Document{ID: id, Index: genres.Name, Action: models.ActionUpsert,
			Fields: map[string]any{"id": id, "name": "Genre " + id, "name_raw": "Genre " + id}}
	}
	return docs
}

// newTestLoader returns a loader over a fresh memindex whose backoff sleeps
// are recorded instead of waited.
func newTestLoader(t *testing.T, opts Options) (*Loader, *memindex.Index, *[]time.Duration) {
	t.Helper()
	ix := memindex.New()
	l := New(ix, opts, quietLogger(), metrics.NewCollector())
	var delays []time.Duration
	l.Retrier().Sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	require.NoError(t, l.EnsureIndex(context.Background(), genres))
	return l, ix, &delays
}

func TestLoadChunks(t *testing.T) {
	l, ix, _ := newTestLoader(t, DefaultOptions())

	res, err := l.Load(context.Background(), genres.Name, slices.Values(makeDocs(23)), 5)
	require.NoError(t, err)

	assert.Equal(t, []int{5, 5, 5, 5, 3}, ix.Calls())
	assert.Equal(t, Result{Indexed: 23, Chunks: 5, Failures: []models.DocumentFailure{}}, res)
	assert.Equal(t, 1, ix.Refreshes(genres.Name), "refresh once after all chunks")

	n, _ := ix.Count(context.Background(), genres.Name)
	assert.Equal(t, 23, n)
}

func TestLoadEmpty(t *testing.T) {
	l, ix, _ := newTestLoader(t, DefaultOptions())

	res, err := l.Load(context.Background(), genres.Name, slices.Values([]models.Document(nil)), 5)
	require.NoError(t, err)
	assert.Zero(t, res.Chunks)
	assert.Empty(t, ix.Calls())
	assert.Zero(t, ix.Refreshes(genres.Name))
}

func TestLoadIdempotent(t *testing.T) {
	l, ix, _ := newTestLoader(t, DefaultOptions())
	docs := makeDocs(7)

	for range 2 {
		_, err := l.Load(context.Background(), genres.Name, slices.Values(docs), 0)
		require.NoError(t, err)
	}
	n, _ := ix.Count(context.Background(), genres.Name)
	assert.Equal(t, 7, n)
}

func TestEnsureIndexOnce(t *testing.T) {
	l, ix, _ := newTestLoader(t, DefaultOptions())

	require.NoError(t, l.EnsureIndex(context.Background(), genres))
	require.NoError(t, l.EnsureIndex(context.Background(), genres))
	assert.Equal(t, 1, ix.Creates())

	// a second loader over an existing index does not recreate it
	other := New(ix, DefaultOptions(), quietLogger(), nil)
	require.NoError(t, other.EnsureIndex(context.Background(), genres))
	assert.Equal(t, 1, ix.Creates())
}

func TestLoadRetriesTransient(t *testing.T) {
	l, ix, delays := newTestLoader(t, DefaultOptions())
	ix.FailNext(
		fmt.Errorf("%w: connection reset", models.ErrTransient),
		errors.New("websocket closed"), // unclassified counts as transient
	)

	res, err := l.Load(context.Background(), genres.Name, slices.Values(makeDocs(5)), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Indexed)
	assert.Equal(t, []int{5, 5, 5}, ix.Calls(), "the whole chunk is resent")
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *delays)
}

func TestLoadPermanentNotRetried(t *testing.T) {
	l, ix, delays := newTestLoader(t, DefaultOptions())
	ix.FailNext(fmt.Errorf("%w: parse error", models.ErrPermanent))

	_, err := l.Load(context.Background(), genres.Name, slices.Values(makeDocs(10)), 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPermanent)
	assert.Equal(t, []int{5}, ix.Calls(), "no retry and no further chunks")
	assert.Empty(t, *delays)
	assert.Zero(t, ix.Refreshes(genres.Name))
}

func TestLoadRetriesExhausted(t *testing.T) {
	opts := DefaultOptions()
	opts.Policy.MaxAttempts = 4
	l, ix, delays := newTestLoader(t, opts)
	for i := range 10 {
		ix.FailNext(fmt.Errorf("%w: timeout #%d", models.ErrTransient, i+1))
	}

	_, err := l.Load(context.Background(), genres.Name, slices.Values(makeDocs(3)), 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransient)
	assert.Contains(t, err.Error(), "timeout #4")
	assert.Len(t, ix.Calls(), 4)
	assert.Len(t, *delays, 3)
}

func TestLoadDocumentFailures(t *testing.T) {
	opts := DefaultOptions()
	opts.ReportSize = 2
	l, ix, _ := newTestLoader(t, opts)
	docs := makeDocs(10)
	for _, id := range []string{"g01", "g03", "g06", "g08"} {
		ix.Reject(id, "bad field "+id)
	}

	res, err := l.Load(context.Background(), genres.Name, slices.Values(docs), 5)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Indexed)
	assert.Equal(t, 4, res.Failed)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, []models.DocumentFailure{
		{ID: "g06", Reason: "bad field g06"},
		{ID: "g08", Reason: "bad field g08"},
	}, res.Failures, "report keeps only the most recent failures")
}

func TestLoadCancelledBeforeStart(t *testing.T) {
	l, ix, _ := newTestLoader(t, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := l.Load(ctx, genres.Name, slices.Values(makeDocs(5)), 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Chunks)
	assert.Empty(t, ix.Calls())
}

// cancellingIndex cancels the caller's context in the middle of a bulk call.
type cancellingIndex struct {
	*memindex.Index
	cancel   context.CancelFunc
	sawAlive bool
}

func (c *cancellingIndex) BulkUpsert(ctx context.Context, index string, docs []models.Document) ([]models.DocumentFailure, error) {
	c.cancel()
	c.sawAlive = ctx.Err() == nil
	return c.Index.BulkUpsert(ctx, index, docs)
}

func TestLoadFinishesInFlightChunk(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ix := &cancellingIndex{Index: memindex.New(), cancel: cancel}
	l := New(ix, DefaultOptions(), quietLogger(), nil)
	require.NoError(t, l.EnsureIndex(context.Background(), genres))

	res, err := l.Load(ctx, genres.Name, slices.Values(makeDocs(10)), 5)

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, ix.sawAlive, "the write ran on a context detached from cancellation")
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 5, res.Indexed)
	assert.Equal(t, []int{5}, ix.Calls(), "no chunk starts after cancellation")
}

func TestFailureReport(t *testing.T) {
	r := newFailureReport(3)
	assert.Empty(t, r.items())
	r.add(models.DocumentFailure{ID: "a"}, models.DocumentFailure{ID: "b"})
	assert.Equal(t, []models.DocumentFailure{{ID: "a"}, {ID: "b"}}, r.items())
	r.add(models.DocumentFailure{ID: "c"}, models.DocumentFailure{ID: "d"})
	assert.Equal(t, []models.DocumentFailure{{ID: "b"}, {ID: "c"}, {ID: "d"}}, r.items())

	zero := newFailureReport(0)
	zero.add(models.DocumentFailure{ID: "a"})
	assert.Empty(t, zero.items())
}
