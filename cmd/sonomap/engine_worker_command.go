package main

import (
	"os"

	"github.com/spf13/cobra"

	"sonomap/internal/engine"
	"sonomap/internal/logging"
	"sonomap/internal/worker"
)

// newEngineWorkerCommand returns the hidden subcommand the daemon uses when
// it re-executes this binary as the isolated analysis worker. The protocol
// runs on stdin/stdout, so logs go to stderr only.
func newEngineWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "engine-worker",
		Short:       "Run the analysis engine worker process",
		Hidden:      true,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Options{Level: "warn"})
			if err != nil {
				return err
			}
			return worker.Serve(os.Stdin, os.Stdout, engine.New(), logger)
		},
	}
}
