package memindex

import (
	"context"
	"errors"
	"testing"

	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(id, name string) models.Document {
	return models.Document{ID: id, Index: "genres", Action: models.ActionUpsert,
		Fields: map[string]any{"id": id, "name": name, "name_raw": name}}
}

func TestIndexLifecycle(t *testing.T) {
	ctx := context.Background()
	ix := New()
	desc := models.Spec[models.EntityGenre].Index

	ok, err := ix.IndexExists(ctx, desc.Name)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ix.BulkUpsert(ctx, desc.Name, []models.Document{doc("a", "Action")})
	assert.ErrorIs(t, err, models.ErrPermanent, "writing to a missing index fails")

	require.NoError(t, ix.CreateIndex(ctx, desc))
	require.NoError(t, ix.CreateIndex(ctx, desc))
	ok, _ = ix.IndexExists(ctx, desc.Name)
	assert.True(t, ok)

	failed, err := ix.BulkUpsert(ctx, desc.Name, []models.Document{doc("a", "Action"), doc("b", "Drama")})
	require.NoError(t, err)
	assert.Empty(t, failed)
	_, err = ix.BulkUpsert(ctx, desc.Name, []models.Document{doc("a", "Adventure")})
	require.NoError(t, err)

	n, _ := ix.Count(ctx, desc.Name)
	assert.Equal(t, 2, n)
	got, _ := ix.Get(desc.Name, "a")
	assert.Equal(t, "Adventure", got.Fields["name"])
	assert.Equal(t, []int{1, 2, 1}, ix.Calls())

	require.NoError(t, ix.Refresh(ctx, desc.Name))
	assert.Equal(t, 1, ix.Refreshes(desc.Name))
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	ix := New()
	desc := models.Spec[models.EntityGenre].Index
	require.NoError(t, ix.CreateIndex(ctx, desc))

	boom := errors.New("boom")
	ix.FailNext(boom)
	_, err := ix.BulkUpsert(ctx, desc.Name, []models.Document{doc("a", "Action")})
	assert.ErrorIs(t, err, boom)
	n, _ := ix.Count(ctx, desc.Name)
	assert.Zero(t, n, "a failed call writes nothing")

	ix.Reject("b", "mapper_parsing_exception")
	failed, err := ix.BulkUpsert(ctx, desc.Name, []models.Document{doc("a", "Action"), doc("b", "Drama")})
	require.NoError(t, err)
	assert.Equal(t, []models.DocumentFailure{{ID: "b", Reason: "mapper_parsing_exception"}}, failed)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	ix := New()
	desc := models.Spec[models.EntityGenre].Index
	require.NoError(t, ix.CreateIndex(ctx, desc))
	_, err := ix.BulkUpsert(ctx, desc.Name, []models.Document{
		doc("1", "Action"), doc("2", "Drama"), doc("3", "Melodrama"), doc("4", "Comedy"),
	})
	require.NoError(t, err)

	hits, err := ix.Search(ctx, desc, models.SearchQuery{Text: "DRAMA", Sort: "-name"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "3", hits[0].ID)
	assert.Equal(t, "2", hits[1].ID)

	hits, err = ix.Search(ctx, desc, models.SearchQuery{Sort: "name", Page: 2, PageSize: 3})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "3", hits[0].ID)

	hits, err = ix.Search(ctx, desc, models.SearchQuery{Page: 9, PageSize: 3})
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = ix.Search(ctx, desc, models.SearchQuery{Sort: "rating"})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
