// Package pipeline drives incremental passes: extract modified rows since the
// stored watermark, transform them, load them, then advance the watermark.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/moviesync/internal/checkpoint"
	"github.com/raphaelgruber/moviesync/internal/loader"
	"github.com/raphaelgruber/moviesync/internal/metrics"
	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/raphaelgruber/moviesync/internal/transform"
	"golang.org/x/sync/errgroup"
)

// State is the driver's current stage.
type State string

const (
	StateIdle          State = "idle"
	StateExtracting    State = "extracting"
	StateTransforming  State = "transforming"
	StateLoading       State = "loading"
	StateCheckpointing State = "checkpointing"
	StateFailed        State = "failed"
)

// Cursor streams pages of one extraction. An empty page ends the stream.
type Cursor interface {
	Next(ctx context.Context) ([]models.RawRecord, error)
	Close() error
}

// Extractor opens watermark-filtered cursors.
type Extractor interface {
	Open(ctx context.Context, entity models.EntityType, since time.Time, pageSize int) (Cursor, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, entity models.EntityType, since time.Time, pageSize int) (Cursor, error)

// Open implements Extractor.
func (f ExtractorFunc) Open(ctx context.Context, entity models.EntityType, since time.Time, pageSize int) (Cursor, error) {
	return f(ctx, entity, since, pageSize)
}

// Options configures a Driver.
type Options struct {
	Entities  []models.EntityType
	PageSize  int
	ChunkSize int
	Interval  time.Duration

	// OnStateChange, if set, observes every state transition.
	OnStateChange func(State)
	// OnEntityDone, if set, receives each entity's report as it finishes.
	OnEntityDone func(EntityReport)
}

// Driver runs passes over the configured entity types in order.
type Driver struct {
	extractor   Extractor
	transformer *transform.Transformer
	loader      *loader.Loader
	checkpoints checkpoint.Store
	opts        Options
	logger      *slog.Logger
	metrics     *metrics.Collector

	mu    sync.Mutex
	state State
}

// New creates a Driver. metrics may be nil.
func New(
	extractor Extractor,
	transformer *transform.Transformer,
	ld *loader.Loader,
	checkpoints checkpoint.Store,
	opts Options,
	logger *slog.Logger,
	m *metrics.Collector,
) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.Entities) == 0 {
		opts.Entities = models.DefaultEntities
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 5
	}
	return &Driver{
		extractor:   extractor,
		transformer: transformer,
		loader:      ld,
		checkpoints: checkpoints,
		opts:        opts,
		logger:      logger,
		metrics:     m,
		state:       StateIdle,
	}
}

// State returns the current stage.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	changed := d.state != s
	d.state = s
	d.mu.Unlock()
	if changed && d.opts.OnStateChange != nil {
		d.opts.OnStateChange(s)
	}
}

// Run executes passes every Interval until ctx is cancelled. A failed pass is
// logged and retried on the next tick; configuration failures end the loop.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info("pipeline started", "entities", d.opts.Entities, "interval", d.opts.Interval)
	for {
		_, err := d.RunOnce(ctx)
		if err != nil && errors.Is(err, models.ErrConfiguration) {
			return err
		}
		if ctx.Err() != nil {
			d.logger.Info("pipeline stopped")
			return nil
		}

		timer := time.NewTimer(d.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Info("pipeline stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce performs one pass over every configured entity type. The first
// failure aborts the pass; watermarks already advanced stay advanced.
func (d *Driver) RunOnce(ctx context.Context) (PassReport, error) {
	report := PassReport{ID: uuid.New().String()[:8], Started: time.Now()}
	logger := d.logger.With("pass_id", report.ID)
	logger.Info("pass started", "entities", d.opts.Entities)

	var err error
	for _, entity := range d.opts.Entities {
		if err = ctx.Err(); err != nil {
			break
		}
		er := EntityReport{Entity: entity}
		err = d.runEntity(ctx, logger.With("entity", entity), entity, &er)
		if err != nil {
			er.Err = err.Error()
		}
		report.Entities = append(report.Entities, er)
		if d.opts.OnEntityDone != nil {
			d.opts.OnEntityDone(er)
		}
		if err != nil {
			break
		}
	}
	report.Finished = time.Now()
	d.metrics.RecordTiming(metrics.OpPass, report.Finished.Sub(report.Started))

	if err != nil {
		d.setState(StateFailed)
		d.metrics.Add(metrics.CountPassFail, 1)
		logger.Error("pass failed", "error", err, "report", report)
	} else {
		logger.Info("pass finished", "report", report, "metrics", d.metrics.Snapshot())
	}
	d.setState(StateIdle)
	return report, err
}

// runEntity streams one entity type. A producer goroutine pulls pages from
// the cursor into a channel of capacity 1 while this goroutine's consumer
// transforms and loads the previous page, so extraction overlaps loading and
// pages are still loaded in order.
func (d *Driver) runEntity(ctx context.Context, logger *slog.Logger, entity models.EntityType, er *EntityReport) error {
	spec, err := models.LookupSpec(entity)
	if err != nil {
		return err
	}
	key := string(entity)

	if err := d.loader.EnsureIndex(ctx, spec.Index); err != nil {
		return err
	}

	d.setState(StateExtracting)
	watermark, err := d.checkpoints.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read checkpoint %s: %w", key, err)
	}
	er.Since = watermark
	er.Watermark = watermark

	cur, err := d.extractor.Open(ctx, entity, watermark, d.opts.PageSize)
	if err != nil {
		return fmt.Errorf("open %s: %w", entity, err)
	}
	clean := false
	defer func() {
		if !clean {
			_ = cur.Close()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	pages := make(chan []models.RawRecord, 1)

	g.Go(func() error {
		defer close(pages)
		for {
			start := time.Now()
			page, err := cur.Next(gctx)
			d.metrics.RecordTiming(metrics.OpExtractPage, time.Since(start))
			if err != nil {
				return fmt.Errorf("extract %s: %w", entity, err)
			}
			if len(page) == 0 {
				return nil
			}
			select {
			case pages <- page:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// seen is the highest marker loaded so far. Rows sharing it may still
	// follow on the next page, so only the end of the stream commits it.
	seen := watermark
	g.Go(func() error {
		for {
			d.setState(StateExtracting)
			var (
				page []models.RawRecord
				ok   bool
			)
			select {
			case page, ok = <-pages:
			case <-gctx.Done():
				return gctx.Err()
			}
			if !ok {
				return nil
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			committed, pageMax, err := d.processPage(gctx, logger, spec, watermark, seen, page, er)
			if err != nil {
				return err
			}
			watermark, seen = committed, pageMax
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// the stream is exhausted: no unseen row can share the last marker
	if seen.After(watermark) {
		d.setState(StateCheckpointing)
		if err := d.commit(ctx, spec.Type, seen, er); err != nil {
			return err
		}
	}

	clean = true
	if err := cur.Close(); err != nil {
		return fmt.Errorf("close %s cursor: %w", entity, err)
	}
	logger.Info("entity synchronized",
		"pages", er.Pages,
		"extracted", er.Extracted,
		"indexed", er.Indexed,
		"failed", er.Failed,
		"skipped", er.Skipped,
		"watermark", er.Watermark,
	)
	return nil
}

// processPage transforms and loads one page, then records how far the
// entity is now known to be complete. It returns the committed watermark and
// the page's highest marker.
func (d *Driver) processPage(
	ctx context.Context,
	logger *slog.Logger,
	spec models.EntitySpec,
	watermark, seen time.Time,
	page []models.RawRecord,
	er *EntityReport,
) (time.Time, time.Time, error) {
	er.Pages++
	er.Extracted += len(page)
	d.metrics.Add(metrics.CountExtracted, int64(len(page)))

	d.setState(StateTransforming)
	skippedBefore := d.transformer.Skipped()
	docs := d.transformer.Transform(spec.Type, page)

	d.setState(StateLoading)
	start := time.Now()
	res, err := d.loader.Load(ctx, spec.Index.Name, docs, d.opts.ChunkSize)
	d.metrics.RecordTiming(metrics.OpLoadPage, time.Since(start))

	skipped := int(d.transformer.Skipped() - skippedBefore)
	d.metrics.Add(metrics.CountSkipped, int64(skipped))
	er.Skipped += skipped
	er.Indexed += res.Indexed
	er.Failed += res.Failed
	er.Chunks += res.Chunks
	if err != nil {
		return watermark, seen, fmt.Errorf("load %s page %d: %w", spec.Type, er.Pages, err)
	}

	d.setState(StateCheckpointing)
	next, pageMax := safeWatermark(watermark, seen, page)
	if next.After(watermark) {
		if err := d.commit(ctx, spec.Type, next, er); err != nil {
			return watermark, seen, err
		}
	}

	logger.Debug("page loaded",
		"page", er.Pages,
		"rows", len(page),
		"indexed", res.Indexed,
		"failed", res.Failed,
		"watermark", next,
	)
	return next, pageMax, nil
}

// safeWatermark returns the highest marker that every row at or below has
// been loaded, given the committed watermark, the highest marker of earlier
// pages and a freshly loaded page. Rows ordered by (modified, id) can share
// the page's highest marker with rows on the next page, so that marker is
// held back. The second result is the page's highest marker.
func safeWatermark(watermark, seen time.Time, page []models.RawRecord) (time.Time, time.Time) {
	pageMax := models.MaxModified(page)
	if seen.After(pageMax) {
		pageMax = seen
	}
	next := watermark
	if seen.Before(pageMax) && seen.After(next) {
		next = seen
	}
	for _, r := range page {
		if r.Modified.Before(pageMax) && r.Modified.After(next) {
			next = r.Modified
		}
	}
	return next, pageMax
}

// commit persists a watermark. The rows it covers are durably loaded, so the
// write goes through even if shutdown began meanwhile.
func (d *Driver) commit(ctx context.Context, entity models.EntityType, value time.Time, er *EntityReport) error {
	start := time.Now()
	if err := d.checkpoints.Set(context.WithoutCancel(ctx), string(entity), value); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", entity, err)
	}
	d.metrics.RecordTiming(metrics.OpCheckpoint, time.Since(start))
	er.Watermark = value
	return nil
}
