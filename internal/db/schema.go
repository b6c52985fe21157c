package db

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/raphaelgruber/moviesync/internal/models"
)

// StateSchemaSQL defines the pipeline's own bookkeeping tables.
const StateSchemaSQL = `
    DEFINE TABLE IF NOT EXISTS etl_state SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS watermark ON etl_state TYPE datetime;
    DEFINE FIELD IF NOT EXISTS updated ON etl_state TYPE datetime DEFAULT time::now();
`

// analyzerFilters lower-cases tokens and stems both English and Russian.
// Unicode letters are kept as-is so the Russian stemmer sees Cyrillic input.
const analyzerFilters = "lowercase, snowball(english), snowball(russian)"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(s string) bool {
	return identRe.MatchString(s)
}

// IndexSQL renders the DDL for a search index: a schemafull table with one
// string field per mapping, a BM25 full-text index per text field and a
// plain index on each text field's raw twin. Every statement is IF NOT
// EXISTS, so re-running it is a no-op.
func IndexSQL(desc models.IndexDescriptor) (string, error) {
	if !validIdent(desc.Name) {
		return "", fmt.Errorf("%w: invalid index name %q", models.ErrPermanent, desc.Name)
	}
	if !validIdent(desc.Analyzer) {
		return "", fmt.Errorf("%w: invalid analyzer name %q", models.ErrPermanent, desc.Analyzer)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "DEFINE TABLE IF NOT EXISTS %s SCHEMAFULL;\n", desc.Name)
	fmt.Fprintf(&b, "DEFINE ANALYZER IF NOT EXISTS %s TOKENIZERS class FILTERS %s;\n", desc.Analyzer, analyzerFilters)

	for _, f := range desc.Fields {
		if f.Name == "id" {
			// the record id is the document id
			continue
		}
		if !validIdent(f.Name) {
			return "", fmt.Errorf("%w: invalid field name %q", models.ErrPermanent, f.Name)
		}
		fmt.Fprintf(&b, "DEFINE FIELD IF NOT EXISTS %s ON %s TYPE string;\n", f.Name, desc.Name)

		switch f.Kind {
		case models.FieldText:
			raw := f.Name + models.RawSuffix
			fmt.Fprintf(&b, "DEFINE FIELD IF NOT EXISTS %s ON %s TYPE string;\n", raw, desc.Name)
			fmt.Fprintf(&b, "DEFINE INDEX IF NOT EXISTS %s_%s_ft ON %s FIELDS %s FULLTEXT ANALYZER %s BM25;\n",
				desc.Name, f.Name, desc.Name, f.Name, desc.Analyzer)
			fmt.Fprintf(&b, "DEFINE INDEX IF NOT EXISTS %s_%s ON %s FIELDS %s;\n", desc.Name, raw, desc.Name, raw)
		case models.FieldKeyword:
			fmt.Fprintf(&b, "DEFINE INDEX IF NOT EXISTS %s_%s ON %s FIELDS %s;\n", desc.Name, f.Name, desc.Name, f.Name)
		default:
			return "", fmt.Errorf("%w: field %q has unknown kind %q", models.ErrPermanent, f.Name, f.Kind)
		}
	}
	return b.String(), nil
}
