// Package loader writes documents into the search index in retried chunks.
package loader

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/moviesync/internal/metrics"
	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/raphaelgruber/moviesync/internal/retry"
)

// Index is the bulk index API the loader writes through.
type Index interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, desc models.IndexDescriptor) error
	// BulkUpsert returns per-document rejections; a non-nil error means the
	// whole call failed and nothing can be assumed written.
	BulkUpsert(ctx context.Context, index string, docs []models.Document) ([]models.DocumentFailure, error)
	Refresh(ctx context.Context, index string) error
}

// Options configures a Loader.
type Options struct {
	ChunkSize    int
	ReportSize   int           // failures kept in the rolling report
	DrainTimeout time.Duration // bound for finishing an in-flight chunk after cancellation
	Policy       retry.Policy
}

// DefaultOptions returns chunk 5, report 10, drain 30s and the default backoff.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    5,
		ReportSize:   10,
		DrainTimeout: 30 * time.Second,
		Policy:       retry.DefaultPolicy(),
	}
}

// Result summarizes one Load call.
type Result struct {
	Indexed  int
	Failed   int
	Chunks   int
	Failures []models.DocumentFailure // most recent failures, at most ReportSize
}

// Loader ensures indexes exist and bulk-loads documents into them.
type Loader struct {
	index   Index
	opts    Options
	retrier *retry.Retrier
	logger  *slog.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	ensured map[string]bool
}

// New creates a Loader. metrics may be nil.
func New(index Index, opts Options, logger *slog.Logger, m *metrics.Collector) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.ReportSize < 0 {
		opts.ReportSize = 0
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = def.DrainTimeout
	}
	if opts.Policy == (retry.Policy{}) {
		opts.Policy = def.Policy
	}
	r := retry.New(opts.Policy, logger)
	return &Loader{
		index:   index,
		opts:    opts,
		retrier: r,
		logger:  logger,
		metrics: m,
		ensured: make(map[string]bool),
	}
}

// Retrier exposes the retry runner, e.g. to replace its sleep in tests.
func (l *Loader) Retrier() *retry.Retrier {
	return l.retrier
}

// EnsureIndex creates the index if it is absent. The check runs at most once
// per index for the lifetime of the Loader.
func (l *Loader) EnsureIndex(ctx context.Context, desc models.IndexDescriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ensured[desc.Name] {
		return nil
	}

	err := l.retrier.Do(ctx, "ensure_index", func(ctx context.Context) error {
		exists, err := l.index.IndexExists(ctx, desc.Name)
		if err != nil {
			return err
		}
		if exists {
			l.logger.Debug("index exists", "index", desc.Name)
			return nil
		}
		return l.index.CreateIndex(ctx, desc)
	})
	if err != nil {
		return fmt.Errorf("ensure index %s: %w", desc.Name, err)
	}
	l.ensured[desc.Name] = true
	return nil
}

// Load splits docs into chunks of chunkSize (0 selects the configured size),
// upserts each chunk and refreshes the index afterwards. A chunk whose bulk
// call fails is retried as a whole under the backoff policy. Cancelling ctx
// stops before the next chunk or retry; a chunk already being written is
// finished on a context bounded by the drain timeout.
func (l *Loader) Load(ctx context.Context, index string, docs iter.Seq[models.Document], chunkSize int) (Result, error) {
	if chunkSize <= 0 {
		chunkSize = l.opts.ChunkSize
	}

	var (
		res    Result
		report = newFailureReport(l.opts.ReportSize)
		chunk  = make([]models.Document, 0, chunkSize)
		err    error
	)

	flush := func() bool {
		if len(chunk) == 0 {
			return true
		}
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
			return false
		}
		failures, ferr := l.writeChunk(ctx, index, chunk)
		if ferr != nil {
			err = ferr
			return false
		}
		res.Chunks++
		res.Failed += len(failures)
		res.Indexed += len(chunk) - len(failures)
		if len(failures) > 0 {
			report.add(failures...)
			l.logger.Warn("documents rejected by index",
				"index", index,
				"chunk", res.Chunks,
				"failed", len(failures),
				"recent_failures", report.items(),
			)
		}
		chunk = chunk[:0]
		return true
	}

	for doc := range docs {
		chunk = append(chunk, doc)
		if len(chunk) == chunkSize && !flush() {
			break
		}
	}
	if err == nil {
		flush()
	}

	l.metrics.Add(metrics.CountIndexed, int64(res.Indexed))
	l.metrics.Add(metrics.CountFailed, int64(res.Failed))
	res.Failures = report.items()

	if err != nil {
		return res, err
	}
	if res.Chunks > 0 {
		if err := l.refresh(ctx, index); err != nil {
			return res, err
		}
	}
	return res, nil
}

// writeChunk upserts one chunk under the retry policy. Each attempt runs on a
// context detached from ctx's cancellation, so a started write completes.
func (l *Loader) writeChunk(ctx context.Context, index string, chunk []models.Document) ([]models.DocumentFailure, error) {
	var failures []models.DocumentFailure
	attempts := 0
	err := l.retrier.Do(ctx, "bulk_upsert", func(context.Context) error {
		attempts++
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.DrainTimeout)
		defer cancel()

		start := time.Now()
		f, err := l.index.BulkUpsert(wctx, index, chunk)
		l.metrics.RecordTiming(metrics.OpBulkUpsert, time.Since(start))
		if err != nil {
			return classify(err)
		}
		failures = f
		return nil
	})
	if attempts > 1 {
		l.metrics.Add(metrics.CountRetries, int64(attempts-1))
	}
	if err != nil {
		return nil, fmt.Errorf("load %d documents into %s: %w", len(chunk), index, err)
	}
	return failures, nil
}

func (l *Loader) refresh(ctx context.Context, index string) error {
	defer l.metrics.Time(metrics.OpRefresh, time.Now())
	err := l.retrier.Do(ctx, "refresh", func(context.Context) error {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.DrainTimeout)
		defer cancel()
		return classify(l.index.Refresh(wctx, index))
	})
	if err != nil {
		return fmt.Errorf("refresh %s: %w", index, err)
	}
	return nil
}

// classify treats unclassified index errors as transient. A drain timeout is
// transient too, it is not the caller cancelling.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrPermanent) || errors.Is(err, models.ErrTransient) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrTransient, err)
}
