package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sonomap/internal/ipc"
)

func newStatusCommand(cmdCtx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and batch progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, status)
				}
				cmd.Println(renderStatus(status))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit status as JSON")
	return cmd
}

func renderStatus(status *ipc.StatusResponse) string {
	var b strings.Builder

	rows := [][]string{
		{"Running", yesNo(status.Running)},
		{"Engine ready", yesNo(status.EngineReady)},
		{"Dataset", status.DatasetDir},
		{"Fingerprint", status.Fingerprint},
		{"Progress", fmt.Sprintf("%d/%d (%d cached)", status.ProgressCurrent, status.ProgressTotal, status.ProgressCached)},
		{"Cache", fmt.Sprintf("%d entries, %s", status.CacheEntries, formatBytes(status.CacheBytes))},
	}
	if !status.StartedAt.IsZero() {
		rows = append(rows, []string{"Uptime", time.Since(status.StartedAt).Round(time.Second).String()})
	}
	if status.LastRun != nil {
		rows = append(rows, []string{"Last run", fmt.Sprintf("total %d, cached %d, analyzed %d, fallback %d",
			status.LastRun.Total, status.LastRun.Cached, status.LastRun.Analyzed, status.LastRun.Fallback)})
	}

	b.WriteString(renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))
	return b.String()
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
