package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Print a one-shot snapshot of all runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			if err := eng.Start(cmd.Context()); err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = eng.Stop(ctx)
			}()

			// Give the backfill (and a sliver of live tail) time to land.
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(wait):
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tTYPE\tSTATUS\tSTEPS\tSTARTED\tDURATION")
			for _, run := range eng.Runs() {
				duration := "-"
				if run.DurationMs > 0 {
					duration = (time.Duration(run.DurationMs) * time.Millisecond).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					run.ID, run.Type, run.Status, len(run.Steps),
					run.StartedAt.Format(time.RFC3339), duration)
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to collect events before printing")
	return cmd
}
