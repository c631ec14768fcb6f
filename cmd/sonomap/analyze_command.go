package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sonomap/internal/analysis"
	"sonomap/internal/cache"
	"sonomap/internal/config"
	"sonomap/internal/dataset"
	"sonomap/internal/decode"
	"sonomap/internal/engine"
	"sonomap/internal/logging"
	"sonomap/internal/pipeline"
	"sonomap/internal/worker"
)

type fileReport struct {
	Name      string          `json:"name"`
	Path      string          `json:"path"`
	Source    analysis.Source `json:"source"`
	Analysis  analysis.Result `json:"analysis"`
	SizeBytes int64           `json:"size_bytes"`
}

// newAnalyzeCommand analyzes a dataset in one shot, without the daemon. It
// shares the daemon's cache so both surfaces reuse each other's results.
func newAnalyzeCommand(cmdCtx *commandContext) *cobra.Command {
	var jsonOut bool
	var noCache bool

	cmd := &cobra.Command{
		Use:   "analyze [dir]",
		Short: "Analyze a dataset directory and print the results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			dir := cfg.Paths.DatasetDir
			if len(args) == 1 {
				expanded, err := config.ExpandPath(args[0])
				if err != nil {
					return err
				}
				dir = expanded
			}

			logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
			if err != nil {
				return err
			}

			records, err := dataset.Load(dir)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				cmd.Println("no audio files found")
				return nil
			}

			cachePath := cfg.Cache.Path
			if noCache || !cfg.Cache.Enabled {
				cachePath = ""
			}
			store := cache.New(cachePath, logger, cache.WithMaxEntries(cfg.Cache.MaxEntries))

			binary := cfg.Analysis.WorkerBinary
			if binary == "" {
				self, err := os.Executable()
				if err != nil {
					return fmt.Errorf("resolve own binary for engine worker: %w", err)
				}
				binary = self
			}
			channel := worker.NewChannel(
				worker.ProcessTransport(binary, "engine-worker"),
				logger,
				worker.WithTimeout(time.Duration(cfg.Analysis.RequestTimeout)*time.Second))
			if err := channel.Initialize(cmd.Context()); err != nil {
				logger.Warn("engine worker unavailable, results will be synthetic", logging.Error(err))
			}
			defer channel.Terminate()

			decoder := &decode.WAVDecoder{MaxSamples: cfg.Analysis.MaxSeconds * engine.SampleRate}

			opts := []pipeline.Option{}
			showProgress := !jsonOut && isTerminal(cmd.OutOrStdout())
			if showProgress {
				opts = append(opts, pipeline.WithProgress(func(pr pipeline.Progress) {
					fmt.Fprintf(cmd.ErrOrStderr(), "\ranalyzing %d/%d (%d cached)", pr.Current, pr.Total, pr.Cached)
				}))
			}

			processor := pipeline.New(store, channel, decoder, logger, opts...)
			summary, err := processor.Run(cmd.Context(), records)
			if showProgress {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}

			if jsonOut {
				reports := make([]fileReport, 0, len(records))
				for _, record := range records {
					reports = append(reports, fileReport{
						Name:      record.Name,
						Path:      record.Path,
						Source:    record.Source,
						Analysis:  *record.Analysis,
						SizeBytes: record.Size,
					})
				}
				return writeJSON(cmd, reports)
			}

			rows := make([][]string, 0, len(records))
			for _, record := range records {
				a := record.Analysis
				rows = append(rows, []string{
					record.Name,
					fmt.Sprintf("%s %s", a.Key, a.Scale),
					fmt.Sprintf("%.0f", a.Tempo),
					fmt.Sprintf("%.2f", a.Energy),
					a.Structure,
					string(record.Source),
				})
			}
			cmd.Println(renderTable(
				[]string{"File", "Key", "BPM", "Energy", "Structure", "Source"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}))
			cmd.Printf("%d files: %d cached, %d analyzed, %d fallback\n",
				summary.Total, summary.Cached, summary.Analyzed, summary.Fallback)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit results as JSON")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Skip the analysis cache for this run")
	return cmd
}
