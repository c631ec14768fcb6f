package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sonomap/internal/ipc"
)

func newCacheCommand(cmdCtx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the analysis cache",
	}
	cmd.AddCommand(newCacheStatsCommand(cmdCtx))
	cmd.AddCommand(newCacheListCommand(cmdCtx))
	cmd.AddCommand(newCacheClearCommand(cmdCtx))
	return cmd
}

func newCacheStatsCommand(cmdCtx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry count and serialized size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withClient(func(client *ipc.Client) error {
				stats, err := client.CacheStats()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, stats)
				}
				rows := [][]string{
					{"Entries", fmt.Sprintf("%d / %d", stats.Entries, stats.MaxEntries)},
					{"Serialized size", formatBytes(stats.SerializedBytes)},
				}
				cmd.Println(renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit stats as JSON")
	return cmd
}

func newCacheListCommand(cmdCtx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached analyses, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withClient(func(client *ipc.Client) error {
				list, err := client.CacheList()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, list)
				}
				if len(list.Entries) == 0 {
					cmd.Println("cache is empty")
					return nil
				}
				rows := make([][]string, 0, len(list.Entries))
				for _, entry := range list.Entries {
					rows = append(rows, []string{
						entry.FileName,
						fmt.Sprintf("%s %s", entry.Key, entry.Scale),
						fmt.Sprintf("%.0f", entry.Tempo),
						fmt.Sprintf("%.2f", entry.Energy),
						entry.LastAccessed.Local().Format(time.DateTime),
					})
				}
				cmd.Println(renderTable(
					[]string{"File", "Key", "BPM", "Energy", "Last used"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit entries as JSON")
	return cmd
}

func newCacheClearCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop all cached analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withClient(func(client *ipc.Client) error {
				resp, err := client.CacheClear()
				if err != nil {
					return err
				}
				cmd.Printf("dropped %d cached analyses\n", resp.Dropped)
				return nil
			})
		},
	}
}
