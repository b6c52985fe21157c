package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/moviesync/internal/checkpoint"
	"github.com/raphaelgruber/moviesync/internal/db"
	"github.com/raphaelgruber/moviesync/internal/loader"
	"github.com/raphaelgruber/moviesync/internal/memindex"
	"github.com/raphaelgruber/moviesync/internal/metrics"
	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/raphaelgruber/moviesync/internal/pipeline"
	"github.com/raphaelgruber/moviesync/internal/retry"
	"github.com/raphaelgruber/moviesync/internal/source"
	"github.com/raphaelgruber/moviesync/internal/transform"
)

// searchIndex is the index API the commands use: loading plus read access.
type searchIndex interface {
	loader.Index
	Search(ctx context.Context, desc models.IndexDescriptor, q models.SearchQuery) ([]models.SearchHit, error)
	Count(ctx context.Context, index string) (int, error)
}

// session holds the connections one command needs.
type session struct {
	index       searchIndex
	client      *db.Client // nil in dry-run mode
	source      *source.Postgres
	checkpoints checkpoint.Store
	metrics     *metrics.Collector
	scratch     string
}

type sessionNeeds struct {
	index       bool
	source      bool
	checkpoints bool
}

func dbConfig() db.Config {
	return db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}
}

// openSession connects what needs asks for. The SurrealDB connection is also
// opened when checkpoints live in SurrealDB. A store that cannot be reached at
// startup is a configuration failure.
func openSession(ctx context.Context, needs sessionNeeds) (_ *session, err error) {
	s := &session{metrics: metrics.NewCollector()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	wantDB := needs.index || (needs.checkpoints && cfg.CheckpointBackend == checkpoint.BackendSurreal)
	if wantDB && !dryRun {
		s.client, err = db.NewClient(ctx, dbConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("%w: connect to SurrealDB: %w", models.ErrConfiguration, err)
		}
		if err := s.client.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
	}

	if needs.index {
		if dryRun {
			logger.Warn("dry run: documents are kept in memory")
			s.index = memindex.New()
		} else {
			s.index = s.client
		}
	}

	if needs.source {
		s.source, err = source.NewPostgres(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: connect to PostgreSQL: %w", models.ErrConfiguration, err)
		}
	}

	if needs.checkpoints {
		if err := s.openCheckpoints(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// openCheckpoints opens the configured store. In dry-run mode the stored
// watermarks are copied into a scratch file store so a pass never moves them.
func (s *session) openCheckpoints(ctx context.Context) error {
	var records checkpoint.Records
	if s.client != nil {
		records = s.client
	}
	if dryRun && cfg.CheckpointBackend == checkpoint.BackendSurreal {
		// no connection in dry-run mode; start from empty watermarks
		return s.openScratch(ctx, nil)
	}

	store, err := checkpoint.Open(cfg.CheckpointBackend, cfg.CheckpointPath, records)
	if err != nil {
		return fmt.Errorf("open checkpoints: %w", err)
	}
	if !dryRun {
		s.checkpoints = store
		return nil
	}
	defer store.Close()
	return s.openScratch(ctx, store)
}

func (s *session) openScratch(ctx context.Context, from checkpoint.Store) error {
	dir, err := os.MkdirTemp("", "moviesync-dry-run-")
	if err != nil {
		return fmt.Errorf("create scratch checkpoint dir: %w", err)
	}
	s.scratch = dir

	scratch, err := checkpoint.NewFileStore(filepath.Join(dir, "etl_state.json"))
	if err != nil {
		return err
	}
	s.checkpoints = scratch
	if from == nil {
		return nil
	}
	for _, entity := range cfg.EntityTypes() {
		wm, err := from.Get(ctx, string(entity))
		if err != nil {
			return fmt.Errorf("read checkpoint %s: %w", entity, err)
		}
		if wm.IsZero() {
			continue
		}
		if err := scratch.Set(ctx, string(entity), wm); err != nil {
			return err
		}
	}
	return nil
}

// Close releases everything the session opened.
func (s *session) Close() {
	if s.checkpoints != nil {
		if err := s.checkpoints.Close(); err != nil {
			logger.Warn("failed to close checkpoint store", "error", err)
		}
	}
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			logger.Warn("failed to close PostgreSQL", "error", err)
		}
	}
	if s.client != nil {
		if err := s.client.Close(context.Background()); err != nil {
			logger.Warn("failed to close SurrealDB", "error", err)
		}
	}
	if s.scratch != "" {
		_ = os.RemoveAll(s.scratch)
	}
}

// loaderOptions maps the configured backoff onto the loader.
func loaderOptions() loader.Options {
	return loader.Options{
		ChunkSize:    cfg.ChunkSize,
		ReportSize:   cfg.ReportSize,
		DrainTimeout: cfg.DrainTimeout,
		Policy: retry.Policy{
			Start:       cfg.Backoff.Start,
			Factor:      cfg.Backoff.Factor,
			Border:      cfg.Backoff.Border,
			MaxAttempts: cfg.Backoff.MaxAttempts,
		},
	}
}

// driver wires source, transformer, loader and checkpoints into a Driver.
func (s *session) driver(hooks pipeline.Options) *pipeline.Driver {
	extract := pipeline.ExtractorFunc(func(ctx context.Context, entity models.EntityType, since time.Time, pageSize int) (pipeline.Cursor, error) {
		cur, err := s.source.Open(ctx, entity, since, pageSize)
		if err != nil {
			return nil, err
		}
		return cur, nil
	})

	opts := pipeline.Options{
		Entities:      cfg.EntityTypes(),
		PageSize:      cfg.PageSize,
		ChunkSize:     cfg.ChunkSize,
		Interval:      cfg.Interval,
		OnStateChange: hooks.OnStateChange,
		OnEntityDone:  hooks.OnEntityDone,
	}
	ld := loader.New(s.index, loaderOptions(), logger, s.metrics)
	return pipeline.New(extract, transform.New(logger), ld, s.checkpoints, opts, logger, s.metrics)
}
