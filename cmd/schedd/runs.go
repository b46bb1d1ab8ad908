package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pewsched/internal/app"
	"pewsched/internal/config"
	"pewsched/internal/storage"
	logx "pewsched/pkg/logx"
)

func newRunsCmd(cfgPath *string) *cobra.Command {
	var (
		q      storage.RunQuery
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded job runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cfg, logx.Nop())
			if err != nil {
				return err
			}
			if store == nil {
				return storage.ErrDisabled
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), q)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().StringVar(&q.Name, "name", "", "only runs of this task")
	cmd.Flags().IntVarP(&q.Limit, "limit", "n", 50, "max runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printRuns(w io.Writer, runs []storage.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tNAME\tDURATION\tDELAY\tSTATUS")
	for _, r := range runs {
		status := "ok"
		if !r.OK {
			status = "error: " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Started.Local().Format(time.DateTime),
			r.Name,
			r.Duration.Round(time.Millisecond),
			r.QueueDelay.Round(time.Millisecond),
			status,
		)
	}
	return tw.Flush()
}
