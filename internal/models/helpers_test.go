package models

import (
	"errors"
	"testing"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestParseEntityTypes(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []EntityType
		wantErr bool
	}{
		{"default order", []string{"genre", "person"}, []EntityType{EntityGenre, EntityPerson}, false},
		{"order preserved", []string{"person", "genre"}, []EntityType{EntityPerson, EntityGenre}, false},
		{"case and spaces", []string{" Genre "}, []EntityType{EntityGenre}, false},
		{"empty entries skipped", []string{"", "person"}, []EntityType{EntityPerson}, false},
		{"unknown", []string{"film_work"}, nil, true},
		{"duplicate", []string{"genre", "genre"}, nil, true},
		{"nothing", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEntityTypes(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrConfiguration) {
					t.Fatalf("ParseEntityTypes(%v) error = %v, want ErrConfiguration", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEntityTypes(%v) unexpected error: %v", tt.in, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseEntityTypes(%v) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseEntityTypes(%v)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSpecTable(t *testing.T) {
	for _, et := range DefaultEntities {
		s, err := LookupSpec(et)
		if err != nil {
			t.Fatalf("LookupSpec(%q): %v", et, err)
		}
		if s.Type != et {
			t.Errorf("spec %q has type %q", et, s.Type)
		}
		if s.ModifiedColumn != "modified" {
			t.Errorf("spec %q marker column = %q", et, s.ModifiedColumn)
		}
		for _, col := range s.Columns {
			if !s.Index.HasField(col) {
				t.Errorf("index %q does not map column %q", s.Index.Name, col)
			}
			if !s.Index.HasField(col + RawSuffix) {
				t.Errorf("index %q has no raw twin for %q", s.Index.Name, col)
			}
		}
	}
	if _, err := LookupSpec("movie"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("LookupSpec(movie) error = %v, want ErrConfiguration", err)
	}
}

func TestMaxModified(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := []RawRecord{
		{ID: "a", Modified: base.Add(time.Hour)},
		{ID: "b", Modified: base.Add(3 * time.Hour)},
		{ID: "c", Modified: base},
	}
	if got := MaxModified(batch); !got.Equal(base.Add(3 * time.Hour)) {
		t.Errorf("MaxModified = %v", got)
	}
	if got := MaxModified(nil); !got.IsZero() {
		t.Errorf("MaxModified(nil) = %v, want zero", got)
	}
}

func TestRecordIDString(t *testing.T) {
	s, err := RecordIDString(NewRecordID("genres", "abc"))
	if err != nil || s != "abc" {
		t.Errorf("RecordIDString = %q, %v", s, err)
	}
	if _, err := RecordIDString(surrealmodels.NewRecordID("genres", 42)); err == nil {
		t.Error("expected error for non-string id")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(ErrExtraction) {
		t.Error("extraction failures should be transient")
	}
	if IsTransient(ErrPermanent) || IsTransient(ErrDataIntegrity) {
		t.Error("permanent and integrity failures should not be transient")
	}
}
