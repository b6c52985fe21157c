package pipeline

import (
	"log/slog"
	"time"

	"github.com/raphaelgruber/moviesync/internal/models"
)

// PassReport summarizes one pass.
type PassReport struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Entities []EntityReport
}

// EntityReport summarizes one entity type within a pass.
type EntityReport struct {
	Entity    models.EntityType
	Since     time.Time // watermark at pass start
	Watermark time.Time // watermark at the end of the entity's stream
	Pages     int
	Extracted int
	Indexed   int
	Failed    int
	Skipped   int
	Chunks    int
	Err       string
}

// Totals sums the per-entity counters.
func (r PassReport) Totals() EntityReport {
	var t EntityReport
	for _, e := range r.Entities {
		t.Pages += e.Pages
		t.Extracted += e.Extracted
		t.Indexed += e.Indexed
		t.Failed += e.Failed
		t.Skipped += e.Skipped
		t.Chunks += e.Chunks
	}
	return t
}

// Duration returns the wall time of the pass.
func (r PassReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// LogValue implements slog.LogValuer.
func (r PassReport) LogValue() slog.Value {
	t := r.Totals()
	attrs := []slog.Attr{
		slog.Duration("duration", r.Duration()),
		slog.Int("extracted", t.Extracted),
		slog.Int("indexed", t.Indexed),
		slog.Int("failed", t.Failed),
		slog.Int("skipped", t.Skipped),
	}
	for _, e := range r.Entities {
		group := []any{
			slog.Int("pages", e.Pages),
			slog.Int("indexed", e.Indexed),
			slog.Time("watermark", e.Watermark),
		}
		if e.Err != "" {
			group = append(group, slog.String("error", e.Err))
		}
		attrs = append(attrs, slog.Group(string(e.Entity), group...))
	}
	return slog.GroupValue(attrs...)
}
