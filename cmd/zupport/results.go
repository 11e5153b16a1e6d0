package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zupport/zupport/internal/store"
)

func (c *cli) resultsCmd() *cobra.Command {
	var opts store.ListOptions
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show the history of job runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if a.results == nil {
					return fmt.Errorf("result history is disabled (store driver %q)", a.cfg.Store.Driver)
				}
				list, err := a.results.List(ctx, opts)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "STARTED\tJOB\tSERVICE\tPLUGIN\tSTATUS\tDURATION\tERROR")
				for _, r := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						r.StartedAt.Format(time.DateTime), r.JobID, r.Service, r.Plugin, r.Status, r.Duration(), r.Error)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&opts.Service, "service", "", "only runs of this service")
	cmd.Flags().StringVar(&opts.JobID, "job", "", "only runs of this job ID")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of runs, 0 for all")
	return cmd
}
