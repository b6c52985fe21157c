package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Search runs a BM25 query (or a plain listing when q.Text is empty) over an
// index and returns one page of hits.
func (c *Client) Search(ctx context.Context, desc models.IndexDescriptor, q models.SearchQuery) ([]models.SearchHit, error) {
	if !validIdent(desc.Name) {
		return nil, fmt.Errorf("%w: invalid index name %q", models.ErrPermanent, desc.Name)
	}
	page, size := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}

	vars := map[string]any{
		"limit": size,
		"start": (page - 1) * size,
	}

	where := ""
	score := "0 AS score"
	textFields := desc.TextFields()
	if q.Text != "" && len(textFields) > 0 {
		where = fmt.Sprintf("WHERE %s @0@ $q", textFields[0])
		score = "search::score(0) AS score"
		vars["q"] = q.Text
	}

	order, err := orderClause(desc, q.Sort, where != "")
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf("SELECT *, %s FROM %s %s %s LIMIT $limit START $start", score, desc.Name, where, order)
	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", desc.Name, classifyError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.SearchHit{}, nil
	}

	rows := (*results)[0].Result
	hits := make([]models.SearchHit, 0, len(rows))
	for _, row := range rows {
		hit := models.SearchHit{Fields: make(map[string]any, len(row))}
		for k, v := range row {
			switch k {
			case "id":
				hit.ID = documentID(v)
			case "score":
				hit.Score = toFloat(v)
			default:
				hit.Fields[k] = v
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// orderClause validates a sort spec such as "name" or "-name". Text fields
// sort on their raw twin. Without a sort, relevance orders full-text queries.
func orderClause(desc models.IndexDescriptor, sort string, ranked bool) (string, error) {
	if sort == "" {
		if ranked {
			return "ORDER BY score DESC", nil
		}
		return "", nil
	}
	dir := "ASC"
	field := sort
	if strings.HasPrefix(sort, "-") {
		dir = "DESC"
		field = sort[1:]
	}
	if field == "score" && ranked {
		return "ORDER BY score " + dir, nil
	}
	if !desc.HasField(field) {
		return "", fmt.Errorf("%w: cannot sort %s by %q", models.ErrConfiguration, desc.Name, field)
	}
	for _, f := range desc.Fields {
		if f.Name == field && f.Kind == models.FieldText {
			field += models.RawSuffix
		}
	}
	return fmt.Sprintf("ORDER BY %s %s", field, dir), nil
}

func documentID(v any) string {
	switch id := v.(type) {
	case surrealmodels.RecordID:
		if s, err := models.RecordIDString(id); err == nil {
			return s
		}
		return fmt.Sprint(id.ID)
	case *surrealmodels.RecordID:
		if id == nil {
			return ""
		}
		return documentID(*id)
	case string:
		if _, rest, ok := strings.Cut(id, ":"); ok {
			return strings.Trim(rest, "⟨⟩`")
		}
		return id
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}
