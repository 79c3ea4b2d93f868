package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aschepis/memvault/search"
)

func (a *app) newSearchCmd() *cobra.Command {
	var (
		limit   int
		filters []string
		plain   bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Ranked full-text search",
		Long: `Search indexed memories. Query syntax is SQLite FTS5: terms, "phrases", AND/OR/NOT, prefix*.
Filters are exact matches on metadata, e.g. --filter importance=5 --filter source.kind=email.
With --plain the query is taken as literal words and punctuation needs no escaping.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseFilters(filters)
			if err != nil {
				return err
			}
			results, err := a.svc.Search(cmd.Context(), search.SearchParams{
				Query:   strings.Join(args, " "),
				Limit:   limit,
				Filters: parsed,
				Plain:   plain,
			})
			if err != nil {
				return err
			}
			if results == nil {
				results = []search.Result{}
			}
			return a.render(results, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSCORE\tCONTENT")
				for _, r := range results {
					fmt.Fprintf(tw, "%d\t%.4f\t%s\n", r.MemoryID, r.Score, preview(r.Content))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "Max results")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "Metadata filter key=value (repeatable)")
	cmd.Flags().BoolVar(&plain, "plain", false, "Treat the query as literal words instead of FTS5 syntax")
	return cmd
}

func (a *app) newIndexStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index-stats",
		Short: "Show search index statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.svc.IndexStats(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(st, func(w io.Writer) error {
				last := "never"
				if st.LastUpdate != nil {
					last = st.LastUpdate.UTC().Format(time.RFC3339)
				}
				_, err := fmt.Fprintf(w, "documents:   %d\navg length:  %.1f\nlast update: %s\n",
					st.TotalDocuments, st.AvgLength, last)
				return err
			})
		},
	}
}

func (a *app) newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Drop orphan index entries and index unindexed memories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.svc.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "removed %d orphan entries, indexed %d memories\n",
					res.OrphansRemoved, len(res.Reindexed))
				return err
			})
		},
	}
}
