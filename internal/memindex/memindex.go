// Package memindex is an in-process implementation of the bulk index API.
// It backs dry-run passes and tests, and can inject failures.
package memindex

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/raphaelgruber/moviesync/internal/models"
)

// Index stores documents in memory, keyed by index name and document id.
type Index struct {
	mu       sync.Mutex
	indexes  map[string]models.IndexDescriptor
	docs     map[string]map[string]models.Document
	creates  int
	refresh  map[string]int
	calls    []int // documents per BulkUpsert call, in order
	failures []error
	rejects  map[string]string
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		indexes: make(map[string]models.IndexDescriptor),
		docs:    make(map[string]map[string]models.Document),
		refresh: make(map[string]int),
		rejects: make(map[string]string),
	}
}

// IndexExists implements the bulk index API.
func (ix *Index) IndexExists(_ context.Context, name string) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.indexes[name]
	return ok, nil
}

// CreateIndex implements the bulk index API.
func (ix *Index) CreateIndex(_ context.Context, desc models.IndexDescriptor) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.creates++
	if _, ok := ix.indexes[desc.Name]; ok {
		return nil
	}
	ix.indexes[desc.Name] = desc
	ix.docs[desc.Name] = make(map[string]models.Document)
	return nil
}

// BulkUpsert implements the bulk index API. Queued failures (see FailNext)
// fail the whole call before anything is written; a queued nil lets the call
// through.
func (ix *Index) BulkUpsert(ctx context.Context, index string, docs []models.Document) ([]models.DocumentFailure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.calls = append(ix.calls, len(docs))
	if len(ix.failures) > 0 {
		err := ix.failures[0]
		ix.failures = ix.failures[1:]
		if err != nil {
			return nil, err
		}
	}

	store, ok := ix.docs[index]
	if !ok {
		return nil, fmt.Errorf("%w: index %q does not exist", models.ErrPermanent, index)
	}

	var failed []models.DocumentFailure
	for _, doc := range docs {
		if reason, bad := ix.rejects[doc.ID]; bad {
			failed = append(failed, models.DocumentFailure{ID: doc.ID, Reason: reason})
			continue
		}
		doc.Fields = maps.Clone(doc.Fields)
		store[doc.ID] = doc
	}
	return failed, nil
}

// Refresh implements the bulk index API.
func (ix *Index) Refresh(_ context.Context, index string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.indexes[index]; !ok {
		return fmt.Errorf("%w: index %q does not exist", models.ErrPermanent, index)
	}
	ix.refresh[index]++
	return nil
}

// FailNext queues errors returned by the next BulkUpsert calls, one per call.
func (ix *Index) FailNext(errs ...error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.failures = append(ix.failures, errs...)
}

// Reject makes every future upsert of document id fail with reason.
func (ix *Index) Reject(id, reason string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.rejects[id] = reason
}

// Calls returns the number of documents sent by each BulkUpsert call.
func (ix *Index) Calls() []int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return slices.Clone(ix.calls)
}

// Creates returns how many times CreateIndex was called.
func (ix *Index) Creates() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.creates
}

// Refreshes returns how many times index was refreshed.
func (ix *Index) Refreshes(index string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.refresh[index]
}

// Get returns a stored document.
func (ix *Index) Get(index, id string) (models.Document, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	doc, ok := ix.docs[index][id]
	return doc, ok
}

// Count returns the number of documents in index.
func (ix *Index) Count(_ context.Context, index string) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.docs[index]), nil
}

// Search matches q.Text case-insensitively against the index's text fields
// and returns one page, ordered by q.Sort (prefix "-" for descending) or id.
func (ix *Index) Search(_ context.Context, desc models.IndexDescriptor, q models.SearchQuery) ([]models.SearchHit, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	var hits []models.SearchHit
	for _, doc := range ix.docs[desc.Name] {
		score := 0.0
		if needle != "" {
			for _, f := range desc.TextFields() {
				if s, ok := doc.Fields[f].(string); ok && strings.Contains(strings.ToLower(s), needle) {
					score = 1
				}
			}
			if score == 0 {
				continue
			}
		}
		fields := maps.Clone(doc.Fields)
		delete(fields, "id")
		hits = append(hits, models.SearchHit{ID: doc.ID, Fields: fields, Score: score})
	}

	field, descending := strings.CutPrefix(q.Sort, "-")
	if field != "" && field != "id" && !desc.HasField(field) {
		return nil, fmt.Errorf("%w: cannot sort %s by %q", models.ErrConfiguration, desc.Name, field)
	}
	slices.SortFunc(hits, func(a, b models.SearchHit) int {
		c := strings.Compare(sortKey(a, field), sortKey(b, field))
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if descending {
			return -c
		}
		return c
	})

	page, size := max(q.Page, 1), q.PageSize
	if size < 1 {
		size = 50
	}
	start := (page - 1) * size
	if start >= len(hits) {
		return []models.SearchHit{}, nil
	}
	return hits[start:min(start+size, len(hits))], nil
}

func sortKey(h models.SearchHit, field string) string {
	if field == "" || field == "id" {
		return h.ID
	}
	return fmt.Sprint(h.Fields[field])
}
