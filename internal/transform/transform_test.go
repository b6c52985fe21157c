package transform

import (
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string { return &s }

func TestTransformRecord(t *testing.T) {
	mod := time.Date(2021, 6, 16, 20, 14, 9, 0, time.UTC)

	tests := []struct {
		name    string
		entity  models.EntityType
		rec     models.RawRecord
		want    map[string]any
		index   string
		wantErr error
	}{
		{
			name:   "genre trimmed",
			entity: models.EntityGenre,
			rec:    models.RawRecord{ID: "g1", Fields: map[string]*string{"name": str("  Action \n")}, Modified: mod},
			want:   map[string]any{"id": "g1", "name": "Action", "name_raw": "Action"},
			index:  "genres",
		},
		{
			name:   "person",
			entity: models.EntityPerson,
			rec:    models.RawRecord{ID: "p1", Fields: map[string]*string{"full_name": str("Анна Каренина")}, Modified: mod},
			want:   map[string]any{"id": "p1", "full_name": "Анна Каренина", "full_name_raw": "Анна Каренина"},
			index:  "persons",
		},
		{
			name:   "empty string is a value",
			entity: models.EntityGenre,
			rec:    models.RawRecord{ID: "g2", Fields: map[string]*string{"name": str("   ")}, Modified: mod},
			want:   map[string]any{"id": "g2", "name": "", "name_raw": ""},
			index:  "genres",
		},
		{
			name:    "null field",
			entity:  models.EntityGenre,
			rec:     models.RawRecord{ID: "g3", Fields: map[string]*string{"name": nil}},
			wantErr: models.ErrSchemaMismatch,
		},
		{
			name:    "missing field",
			entity:  models.EntityPerson,
			rec:     models.RawRecord{ID: "p2", Fields: map[string]*string{"name": str("wrong column")}},
			wantErr: models.ErrSchemaMismatch,
		},
		{
			name:    "blank id",
			entity:  models.EntityGenre,
			rec:     models.RawRecord{ID: " ", Fields: map[string]*string{"name": str("x")}},
			wantErr: models.ErrSchemaMismatch,
		},
		{
			name:    "unknown entity",
			entity:  "film_work",
			rec:     models.RawRecord{ID: "f1"},
			wantErr: models.ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := TransformRecord(tt.entity, tt.rec)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rec.ID, doc.ID)
			assert.Equal(t, tt.want, doc.Fields)
			assert.Equal(t, tt.index, doc.Index)
			assert.Equal(t, models.ActionUpsert, doc.Action)
			assert.True(t, doc.Modified.Equal(tt.rec.Modified))
		})
	}
}

func TestTransformSkipsBadRows(t *testing.T) {
	tr := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	batch := []models.RawRecord{
		{ID: "a", Fields: map[string]*string{"name": str("Drama")}},
		{ID: "b", Fields: map[string]*string{"name": nil}},
		{ID: "c", Fields: map[string]*string{"name": str("Comedy")}},
	}

	docs := slices.Collect(tr.Transform(models.EntityGenre, batch))

	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "c", docs[1].ID)
	assert.Equal(t, int64(1), tr.Skipped())
}

func TestTransformIsLazyAndPure(t *testing.T) {
	tr := New(nil)
	batch := []models.RawRecord{
		{ID: "a", Fields: map[string]*string{"name": str("Drama")}},
		{ID: "b", Fields: map[string]*string{"name": str("Horror")}},
	}

	seq := tr.Transform(models.EntityGenre, batch)
	for doc := range seq {
		assert.Equal(t, "a", doc.ID)
		break
	}

	// re-iterating yields the same documents
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)
	assert.Equal(t, "Drama", *batch[0].Fields["name"], "input is not modified")
}
