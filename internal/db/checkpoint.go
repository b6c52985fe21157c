package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
)

type stateRow struct {
	Watermark time.Time `json:"watermark"`
}

// GetCheckpoint returns the stored watermark for key, or nil when none exists.
func (c *Client) GetCheckpoint(ctx context.Context, key string) (*time.Time, error) {
	results, err := surrealdb.Query[[]stateRow](ctx, c.db, `
		SELECT watermark FROM type::record("etl_state", $key)
	`, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %q: %w", key, classifyError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	t := (*results)[0].Result[0].Watermark.UTC()
	return &t, nil
}

// SetCheckpoint upserts the watermark for key.
func (c *Client) SetCheckpoint(ctx context.Context, key string, value time.Time) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("etl_state", $key) SET
			watermark = $watermark,
			updated = time::now()
		RETURN NONE
	`, map[string]any{"key": key, "watermark": value.UTC()})
	if err != nil {
		return fmt.Errorf("set checkpoint %q: %w", key, classifyError(err))
	}
	return nil
}

// DeleteCheckpoint removes the watermark for key.
func (c *Client) DeleteCheckpoint(ctx context.Context, key string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("etl_state", $key)
	`, map[string]any{"key": key})
	if err != nil {
		return fmt.Errorf("delete checkpoint %q: %w", key, classifyError(err))
	}
	return nil
}
