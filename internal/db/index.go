package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// IndexExists reports whether the index table has been defined.
func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	results, err := surrealdb.Query[map[string]any](ctx, c.db, "INFO FOR DB", nil)
	if err != nil {
		return false, fmt.Errorf("info for db: %w", classifyError(err))
	}
	if results == nil || len(*results) == 0 {
		return false, nil
	}
	tables, _ := (*results)[0].Result["tables"].(map[string]any)
	_, ok := tables[name]
	return ok, nil
}

// CreateIndex defines the index table, analyzer, fields and search indexes.
func (c *Client) CreateIndex(ctx context.Context, desc models.IndexDescriptor) error {
	ddl, err := IndexSQL(desc)
	if err != nil {
		return err
	}
	c.log.Info("creating index", "index", desc.Name, "analyzer", desc.Analyzer)
	if _, err := surrealdb.Query[any](ctx, c.db, ddl, nil); err != nil {
		return fmt.Errorf("create index %s: %w", desc.Name, classifyError(err))
	}
	return nil
}

// BulkUpsert writes docs in one round trip, one UPSERT statement per
// document and no enclosing transaction, so a rejected document does not
// take its neighbours down with it. Per-document rejections are returned as
// failures; a non-nil error means the call as a whole failed.
func (c *Client) BulkUpsert(ctx context.Context, index string, docs []models.Document) ([]models.DocumentFailure, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if !validIdent(index) {
		return nil, fmt.Errorf("%w: invalid index name %q", models.ErrPermanent, index)
	}

	statements := make([]string, len(docs))
	vars := make(map[string]any, 2*len(docs))
	for i, doc := range docs {
		content := make(map[string]any, len(doc.Fields))
		for k, v := range doc.Fields {
			if k == "id" {
				continue
			}
			content[k] = v
		}
		vars[fmt.Sprintf("id%d", i)] = models.NewRecordID(index, doc.ID)
		vars[fmt.Sprintf("d%d", i)] = content
		statements[i] = fmt.Sprintf("UPSERT $id%d CONTENT $d%d RETURN NONE", i, i)
	}

	results, err := surrealdb.Query[any](ctx, c.db, strings.Join(statements, ";\n"), vars)
	if results == nil || len(*results) != len(docs) {
		if err == nil {
			return nil, fmt.Errorf("%w: bulk upsert returned %d results for %d documents",
				models.ErrTransient, resultCount(results), len(docs))
		}
		return nil, fmt.Errorf("bulk upsert %s: %w", index, classifyError(err))
	}

	// err, if set, joins the per-statement errors already present in results
	var failures []models.DocumentFailure
	for i, r := range *results {
		if msg := statementError(r); msg != "" {
			failures = append(failures, models.DocumentFailure{ID: docs[i].ID, Reason: msg})
		}
	}
	return failures, nil
}

// Refresh waits until previously written documents are visible to readers.
// SurrealDB updates full-text indexes within the writing statement, so a
// count over the table is enough to act as a read barrier.
func (c *Client) Refresh(ctx context.Context, index string) error {
	if _, err := c.Count(ctx, index); err != nil {
		return fmt.Errorf("refresh %s: %w", index, err)
	}
	return nil
}

// Count returns the number of documents in an index.
func (c *Client) Count(ctx context.Context, index string) (int, error) {
	if !validIdent(index) {
		return 0, fmt.Errorf("%w: invalid index name %q", models.ErrPermanent, index)
	}
	type countRow struct {
		Count int `json:"count"`
	}
	results, err := surrealdb.Query[[]countRow](ctx, c.db,
		fmt.Sprintf("SELECT count() AS count FROM %s GROUP ALL", index), nil)
	if err != nil {
		return 0, classifyError(err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}

func resultCount(results *[]surrealdb.QueryResult[any]) int {
	if results == nil {
		return 0
	}
	return len(*results)
}
