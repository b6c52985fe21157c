// Package transform maps raw source rows to index-ready documents.
package transform

import (
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/raphaelgruber/moviesync/internal/models"
)

// Transformer converts extraction pages into documents. It holds no state
// besides a counter of skipped rows.
type Transformer struct {
	logger  *slog.Logger
	skipped atomic.Int64
}

// New creates a Transformer.
func New(logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{logger: logger}
}

// TransformRecord maps one row. A missing or NULL display field yields
// ErrSchemaMismatch.
func TransformRecord(entity models.EntityType, rec models.RawRecord) (models.Document, error) {
	spec, err := models.LookupSpec(entity)
	if err != nil {
		return models.Document{}, err
	}
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return models.Document{}, fmt.Errorf("%w: %s row without id", models.ErrSchemaMismatch, entity)
	}

	fields := make(map[string]any, len(spec.Columns)*2+1)
	fields["id"] = id
	for _, col := range spec.Columns {
		v, ok := rec.Fields[col]
		if !ok || v == nil {
			return models.Document{}, fmt.Errorf("%w: %s %s has no %s", models.ErrSchemaMismatch, entity, id, col)
		}
		s := strings.TrimSpace(*v)
		fields[col] = s
		fields[col+models.RawSuffix] = s
	}

	return models.Document{
		ID:       id,
		Fields:   fields,
		Index:    spec.Index.Name,
		Action:   models.ActionUpsert,
		Modified: rec.Modified,
	}, nil
}

// Transform lazily maps a batch. Rows that fail TransformRecord are logged,
// counted and skipped; the rest of the batch continues.
func (t *Transformer) Transform(entity models.EntityType, batch []models.RawRecord) iter.Seq[models.Document] {
	return func(yield func(models.Document) bool) {
		for _, rec := range batch {
			doc, err := TransformRecord(entity, rec)
			if err != nil {
				t.skipped.Add(1)
				t.logger.Warn("skipping record", "entity", entity, "id", rec.ID, "error", err)
				continue
			}
			if !yield(doc) {
				return
			}
		}
	}
}

// Skipped returns the number of rows skipped since creation.
func (t *Transformer) Skipped() int64 {
	return t.skipped.Load()
}
