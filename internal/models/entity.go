package models

import (
	"fmt"
	"strings"
)

// EntityType names a kind of source record that is synchronized into the index.
type EntityType string

const (
	EntityGenre  EntityType = "genre"
	EntityPerson EntityType = "person"
)

// DefaultEntities is the fixed order in which a pass visits entity types.
var DefaultEntities = []EntityType{EntityGenre, EntityPerson}

// FieldKind is the index mapping type of a document field.
type FieldKind string

const (
	FieldKeyword FieldKind = "keyword"
	FieldText    FieldKind = "text"
)

// RawSuffix is appended to a text field name to form its exact-match keyword twin.
const RawSuffix = "_raw"

// FieldMapping describes one indexed document field.
type FieldMapping struct {
	Name string
	Kind FieldKind
}

// IndexDescriptor is the destination index definition for one entity type.
type IndexDescriptor struct {
	Name     string
	Analyzer string
	Fields   []FieldMapping
}

// TextFields returns the names of all full-text fields.
func (d IndexDescriptor) TextFields() []string {
	var out []string
	for _, f := range d.Fields {
		if f.Kind == FieldText {
			out = append(out, f.Name)
		}
	}
	return out
}

// HasField reports whether name is a mapped field or the raw twin of a text field.
func (d IndexDescriptor) HasField(name string) bool {
	if name == "id" {
		return true
	}
	for _, f := range d.Fields {
		if f.Name == name {
			return true
		}
		if f.Kind == FieldText && f.Name+RawSuffix == name {
			return true
		}
	}
	return false
}

// EntitySpec binds an entity type to its source table and destination index.
type EntitySpec struct {
	Type           EntityType
	Table          string
	IDColumn       string
	Columns        []string // display columns copied into the document
	ModifiedColumn string
	Index          IndexDescriptor
}

// AnalyzerName is the analyzer shared by every text field.
const AnalyzerName = "ru_en"

// Spec is the static entity table.
var Spec = map[EntityType]EntitySpec{
	EntityGenre: {
		Type:           EntityGenre,
		Table:          "content.genre",
		IDColumn:       "id",
		Columns:        []string{"name"},
		ModifiedColumn: "modified",
		Index: IndexDescriptor{
			Name:     "genres",
			Analyzer: AnalyzerName,
			Fields: []FieldMapping{
				{Name: "id", Kind: FieldKeyword},
				{Name: "name", Kind: FieldText},
			},
		},
	},
	EntityPerson: {
		Type:           EntityPerson,
		Table:          "content.person",
		IDColumn:       "id",
		Columns:        []string{"full_name"},
		ModifiedColumn: "modified",
		Index: IndexDescriptor{
			Name:     "persons",
			Analyzer: AnalyzerName,
			Fields: []FieldMapping{
				{Name: "id", Kind: FieldKeyword},
				{Name: "full_name", Kind: FieldText},
			},
		},
	},
}

// LookupSpec returns the table and index binding of an entity type.
func LookupSpec(t EntityType) (EntitySpec, error) {
	s, ok := Spec[t]
	if !ok {
		return EntitySpec{}, fmt.Errorf("%w: unknown entity type %q", ErrConfiguration, t)
	}
	return s, nil
}

// ParseEntityTypes converts names such as "genre,person" into entity types,
// preserving order and rejecting unknown or repeated names.
func ParseEntityTypes(names []string) ([]EntityType, error) {
	var out []EntityType
	seen := make(map[EntityType]bool)
	for _, n := range names {
		t := EntityType(strings.ToLower(strings.TrimSpace(n)))
		if t == "" {
			continue
		}
		if _, err := LookupSpec(t); err != nil {
			return nil, err
		}
		if seen[t] {
			return nil, fmt.Errorf("%w: entity type %q listed twice", ErrConfiguration, t)
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no entity types configured", ErrConfiguration)
	}
	return out, nil
}
