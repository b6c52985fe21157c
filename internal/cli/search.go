package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/spf13/cobra"
)

var (
	searchPage     int
	searchPageSize int
	searchSort     string
)

var searchCmd = &cobra.Command{
	Use:   "search <entity> [query]",
	Short: "Query the search index directly",
	Long: `Run a full-text query against the index of one entity type. Without a
query every document is listed. Sort by any indexed field; prefix it with
"-" for descending order.

Examples:
  moviesync search genre "drama"
  moviesync search person "Лукас"
  moviesync search genre --sort -name --page 2 --page-size 10`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchPage, "page", "p", 1, "page number, starting at 1")
	searchCmd.Flags().IntVarP(&searchPageSize, "page-size", "n", 50, "hits per page")
	searchCmd.Flags().StringVarP(&searchSort, "sort", "s", "", "sort field, e.g. name or -name")
}

func runSearch(cmd *cobra.Command, args []string) error {
	entities, err := models.ParseEntityTypes(args[:1])
	if err != nil {
		return err
	}
	spec, err := models.LookupSpec(entities[0])
	if err != nil {
		return err
	}
	query := models.SearchQuery{Sort: searchSort, Page: searchPage, PageSize: searchPageSize}
	if len(args) == 2 {
		query.Text = args[1]
	}
	ctx := context.Background()

	s, err := openSession(ctx, sessionNeeds{index: true})
	if err != nil {
		return err
	}
	defer s.Close()

	hits, err := s.index.Search(ctx, spec.Index, query)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	printHits(stdout, defaultTheme, spec.Index, hits, query)
	return nil
}

// printHits renders one page of hits, display fields in mapping order.
func printHits(w io.Writer, t Theme, desc models.IndexDescriptor, hits []models.SearchHit, q models.SearchQuery) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	fmt.Fprintf(w, "Found %d results:\n\n", len(hits))
	offset := 0
	if q.Page > 1 && q.PageSize > 0 {
		offset = (q.Page - 1) * q.PageSize
	}
	for i, hit := range hits {
		line := fmt.Sprintf("%d. %s", offset+i+1, hit.ID)
		if q.Text != "" {
			line += " " + t.hintStyle().Render(fmt.Sprintf("(score %.3f)", hit.Score))
		}
		fmt.Fprintln(w, line)
		for _, f := range desc.TextFields() {
			if v, ok := hit.Fields[f]; ok {
				fmt.Fprintf(w, "   %s: %v\n", f, v)
			}
		}
		if verbose {
			for _, k := range slices.Sorted(maps.Keys(hit.Fields)) {
				if !slices.Contains(desc.TextFields(), k) {
					fmt.Fprintf(w, "   %s\n", t.hintStyle().Render(fmt.Sprintf("%s: %v", k, hit.Fields[k])))
				}
			}
		}
	}
}
