package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aschepis/memvault/stats"
)

func (a *app) newStatsCmd() *cobra.Command {
	var window string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := a.svc.Stats(cmd.Context(), window)
			if err != nil {
				return err
			}
			return a.render(snap, func(w io.Writer) error {
				return writeSnapshot(w, snap)
			})
		},
	}
	cmd.Flags().StringVarP(&window, "window", "w", string(stats.WindowWeek), "Activity window: 1h, 24h, 7d, 30d")
	return cmd
}

func writeSnapshot(w io.Writer, snap stats.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "memories\t%d\n", snap.Summary.TotalMemories)
	fmt.Fprintf(tw, "expired, not purged\t%d\n", snap.Summary.ExpiredPending)
	fmt.Fprintf(tw, "active connections\t%d\n", snap.Summary.ActiveConnections)
	fmt.Fprintf(tw, "storage bytes\t%d\n", snap.Summary.StorageBytes)

	fmt.Fprintf(tw, "\nTYPE\tCOUNT\n")
	for _, tc := range snap.Types {
		fmt.Fprintf(tw, "%s\t%d\n", tc.Type, tc.Count)
	}

	fmt.Fprintf(tw, "\nACTIVITY (%s)\tCOUNT\n", snap.Window)
	layout := time.RFC3339
	if snap.Window.BucketSize() >= 24*time.Hour {
		layout = time.DateOnly
	}
	for _, b := range snap.Activity {
		fmt.Fprintf(tw, "%s\t%d\n", b.Start.UTC().Format(layout), b.Count)
	}
	return tw.Flush()
}
