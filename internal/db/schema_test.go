package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestIndexSQL(t *testing.T) {
	ddl, err := IndexSQL(models.Spec[models.EntityGenre].Index)
	require.NoError(t, err)

	for _, want := range []string{
		"DEFINE TABLE IF NOT EXISTS genres SCHEMAFULL;",
		"DEFINE ANALYZER IF NOT EXISTS ru_en TOKENIZERS class FILTERS lowercase, snowball(english), snowball(russian);",
		"DEFINE FIELD IF NOT EXISTS name ON genres TYPE string;",
		"DEFINE FIELD IF NOT EXISTS name_raw ON genres TYPE string;",
		"DEFINE INDEX IF NOT EXISTS genres_name_ft ON genres FIELDS name FULLTEXT ANALYZER ru_en BM25;",
		"DEFINE INDEX IF NOT EXISTS genres_name_raw ON genres FIELDS name_raw;",
	} {
		assert.Contains(t, ddl, want)
	}
	assert.NotContains(t, ddl, "FIELD IF NOT EXISTS id ")

	for _, line := range strings.Split(strings.TrimSpace(ddl), "\n") {
		assert.Contains(t, line, "IF NOT EXISTS", "every statement is idempotent: %s", line)
	}
}

func TestIndexSQLRejectsBadNames(t *testing.T) {
	tests := []models.IndexDescriptor{
		{Name: "genres; REMOVE TABLE x", Analyzer: "ru_en"},
		{Name: "genres", Analyzer: "ru en"},
		{Name: "genres", Analyzer: "ru_en", Fields: []models.FieldMapping{{Name: "na-me", Kind: models.FieldText}}},
		{Name: "genres", Analyzer: "ru_en", Fields: []models.FieldMapping{{Name: "name", Kind: "nested"}}},
	}
	for _, desc := range tests {
		_, err := IndexSQL(desc)
		assert.ErrorIs(t, err, models.ErrPermanent, "%+v", desc)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"transport", errors.New("websocket: close 1006"), models.ErrTransient},
		{"query", &surrealdb.QueryError{Message: "Found 42 for field `name`"}, models.ErrPermanent},
		{"conflict", &surrealdb.QueryError{Message: "Transaction conflict: retry"}, ErrTransactionConflict},
		{"rpc", fmt.Errorf("send: %w", &surrealdb.RPCError{Message: "Parse error"}), models.ErrPermanent},
		{"cancelled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			assert.ErrorIs(t, got, tt.want)
		})
	}
	assert.NoError(t, classifyError(nil))
	assert.ErrorIs(t, classifyError(&surrealdb.QueryError{Message: "Transaction conflict"}), models.ErrTransient)
}

func TestOrderClause(t *testing.T) {
	desc := models.Spec[models.EntityPerson].Index

	tests := []struct {
		sort   string
		ranked bool
		want   string
	}{
		{"", false, ""},
		{"", true, "ORDER BY score DESC"},
		{"full_name", false, "ORDER BY full_name_raw ASC"},
		{"-full_name", false, "ORDER BY full_name_raw DESC"},
		{"-score", true, "ORDER BY score DESC"},
		{"id", false, "ORDER BY id ASC"},
	}
	for _, tt := range tests {
		got, err := orderClause(desc, tt.sort, tt.ranked)
		require.NoError(t, err, tt.sort)
		assert.Equal(t, tt.want, got, tt.sort)
	}

	_, err := orderClause(desc, "imdb_rating", false)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "g1", documentID(surrealmodels.NewRecordID("genres", "g1")))
	rid := surrealmodels.NewRecordID("genres", "g2")
	assert.Equal(t, "g2", documentID(&rid))
	assert.Equal(t, "g3", documentID("genres:⟨g3⟩"))
	assert.Equal(t, "plain", documentID("plain"))
}
