// Command pidgin runs batches of AI-to-AI conversations and records every
// state transition as append-only JSONL event logs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pidgin/internal/config"
	"pidgin/internal/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var outputDir string

	root := &cobra.Command{
		Use:           "pidgin",
		Short:         "orchestrate recorded conversations between LLM agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "output directory (default $OUTPUT_DIR or ./pidgin_output)")

	loadRuntime := func() config.Config {
		rc := config.Load()
		if outputDir != "" {
			rc.OutputDir = outputDir
		}
		observability.InitLogger(rc.LogPath, rc.LogLevel)
		return rc
	}

	root.AddCommand(
		newRunCmd(loadRuntime),
		newDaemonCmd(loadRuntime),
		newStopCmd(loadRuntime),
		newStatusCmd(loadRuntime),
		newBranchCmd(loadRuntime),
		newImportCmd(loadRuntime),
	)
	return root
}
