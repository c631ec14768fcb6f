package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sonomap/internal/ipc"
)

func newRunsCommand(cmdCtx *commandContext) *cobra.Command {
	var jsonOut bool
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent analysis runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withClient(func(client *ipc.Client) error {
				resp, err := client.RunList(limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				if len(resp.Runs) == 0 {
					cmd.Println("no runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(resp.Runs))
				for _, run := range resp.Runs {
					rows = append(rows, []string{
						run.StartedAt.Local().Format(time.DateTime),
						run.DatasetDir,
						fmt.Sprintf("%d", run.Stats.Total),
						fmt.Sprintf("%d", run.Stats.Cached),
						fmt.Sprintf("%d", run.Stats.Analyzed),
						fmt.Sprintf("%d", run.Stats.Fallback),
						yesNo(run.Stats.Completed),
					})
				}
				cmd.Println(renderTable(
					[]string{"Started", "Dataset", "Total", "Cached", "Analyzed", "Fallback", "Completed"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit runs as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}
