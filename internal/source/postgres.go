// Package source streams modified rows out of the PostgreSQL content schema.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/moviesync/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Postgres opens watermark-filtered cursors over the content tables.
type Postgres struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewPostgres connects to the source database.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect to postgres: %w", models.ErrExtraction, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: postgres handle: %w", models.ErrExtraction, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", models.ErrExtraction, err)
	}

	logger.Info("postgres connection established")
	return &Postgres{db: db, logger: logger}, nil
}

// NewPostgresFromDB wraps an existing gorm handle.
func NewPostgresFromDB(db *gorm.DB, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, logger: logger}
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Open starts a read-only transaction and issues the watermark query for
// entity. Rows come back ordered by (modified, id) and are read pageSize at a
// time through the returned cursor. Callers must defer Close.
func (p *Postgres) Open(ctx context.Context, entity models.EntityType, since time.Time, pageSize int) (*Cursor, error) {
	spec, err := models.LookupSpec(entity)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("%w: page size must be positive, got %d", models.ErrConfiguration, pageSize)
	}

	tx := p.db.WithContext(ctx).Begin(&sql.TxOptions{ReadOnly: true})
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: begin read transaction: %w", models.ErrExtraction, tx.Error)
	}

	rows, err := tx.Raw(buildQuery(spec), since.UTC()).Rows()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: query %s: %w", models.ErrExtraction, spec.Table, err)
	}

	p.logger.Debug("extraction cursor opened", "entity", entity, "since", since, "page_size", pageSize)
	return &Cursor{
		spec:     spec,
		tx:       tx,
		rows:     rows,
		pageSize: pageSize,
		logger:   p.logger,
	}, nil
}

// buildQuery renders the extraction statement. Identifiers come from the
// static entity table, never from user input.
func buildQuery(spec models.EntitySpec) string {
	cols := make([]string, 0, len(spec.Columns)+2)
	cols = append(cols, spec.IDColumn+"::text AS id")
	cols = append(cols, spec.Columns...)
	cols = append(cols, spec.ModifiedColumn)

	return fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s > ? ORDER BY %s ASC, %s ASC",
		strings.Join(cols, ", "),
		spec.Table,
		spec.ModifiedColumn,
		spec.ModifiedColumn,
		spec.IDColumn,
	)
}

// Cursor is a one-shot stream of pages over a single read transaction.
type Cursor struct {
	spec     models.EntitySpec
	tx       *gorm.DB
	rows     *sql.Rows
	pageSize int
	logger   *slog.Logger

	exhausted bool // reached the end without error
	failed    bool
	closed    bool
	read      int
}

// Next returns the next page. An empty page means the stream is finished.
func (c *Cursor) Next(ctx context.Context) ([]models.RawRecord, error) {
	if c.closed {
		return nil, errors.New("cursor is closed")
	}
	if c.exhausted {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		c.failed = true
		return nil, err
	}

	page := make([]models.RawRecord, 0, c.pageSize)
	for len(page) < c.pageSize {
		if !c.rows.Next() {
			if err := c.rows.Err(); err != nil {
				c.failed = true
				return nil, fmt.Errorf("%w: read %s: %w", models.ErrExtraction, c.spec.Table, err)
			}
			c.exhausted = true
			break
		}
		rec, err := c.scan()
		if err != nil {
			c.failed = true
			return nil, err
		}
		page = append(page, rec)
	}
	c.read += len(page)
	return page, nil
}

func (c *Cursor) scan() (models.RawRecord, error) {
	var (
		id       sql.NullString
		modified sql.NullTime
	)
	values := make([]sql.NullString, len(c.spec.Columns))

	dest := make([]any, 0, len(values)+2)
	dest = append(dest, &id)
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &modified)

	if err := c.rows.Scan(dest...); err != nil {
		return models.RawRecord{}, fmt.Errorf("%w: scan %s: %w", models.ErrExtraction, c.spec.Table, err)
	}
	if !id.Valid {
		return models.RawRecord{}, fmt.Errorf("%w: %s row with NULL %s", models.ErrDataIntegrity, c.spec.Table, c.spec.IDColumn)
	}
	if !modified.Valid {
		return models.RawRecord{}, fmt.Errorf("%w: %s row %s with NULL %s", models.ErrDataIntegrity, c.spec.Table, id.String, c.spec.ModifiedColumn)
	}

	fields := make(map[string]*string, len(values))
	for i, col := range c.spec.Columns {
		if values[i].Valid {
			v := values[i].String
			fields[col] = &v
		} else {
			fields[col] = nil
		}
	}
	return models.RawRecord{ID: id.String, Fields: fields, Modified: modified.Time.UTC()}, nil
}

// Close releases the transaction: commit after a clean end of stream,
// rollback otherwise. Safe to call more than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	rowsErr := c.rows.Close()
	if c.exhausted && !c.failed && rowsErr == nil {
		if err := c.tx.Commit().Error; err != nil {
			return fmt.Errorf("commit read transaction: %w", err)
		}
		c.logger.Debug("extraction cursor committed", "table", c.spec.Table, "rows", c.read)
		return nil
	}
	if err := c.tx.Rollback().Error; err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback read transaction: %w", err)
	}
	c.logger.Debug("extraction cursor rolled back", "table", c.spec.Table, "rows", c.read)
	return rowsErr
}
