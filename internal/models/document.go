package models

import "time"

// RawRecord is one source row as returned by the extractor.
// Nil field values represent SQL NULL.
type RawRecord struct {
	ID       string
	Fields   map[string]*string
	Modified time.Time
}

// Action is the index operation requested for a document.
type Action string

// ActionUpsert creates or replaces the document with the same id.
const ActionUpsert Action = "upsert"

// Document is an index-ready record.
type Document struct {
	ID       string
	Fields   map[string]any
	Index    string
	Action   Action
	Modified time.Time // source marker; used for watermark bookkeeping only
}

// DocumentFailure describes a single document rejected by the index.
type DocumentFailure struct {
	ID     string
	Reason string
}

// SearchHit is a document returned by an index search.
type SearchHit struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
	Score  float64        `json:"score"`
}

// SearchQuery holds the parameters of an index search.
type SearchQuery struct {
	Text     string
	Sort     string // field name, "-" prefix for descending
	Page     int    // 1-based
	PageSize int
}

// MaxModified returns the latest Modified value in the batch.
func MaxModified(batch []RawRecord) time.Time {
	var latest time.Time
	for _, r := range batch {
		if r.Modified.After(latest) {
			latest = r.Modified
		}
	}
	return latest
}
