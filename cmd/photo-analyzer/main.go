// Package main provides the entry point for the photo-analyzer CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/cmd/photo-analyzer/commands"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/version"
)

func main() {
	globals := &commands.Globals{}

	rootCmd := &cobra.Command{
		Use:   "photo-analyzer",
		Short: "Batch-score photo submissions against an open call rubric",
		Long: `photo-analyzer scores a directory of photos with a vision model,
resuming interrupted runs from a checkpoint and caching every result.

Commands:
  analyze     Score all photos in a directory
  sets        Propose candidate sets from the scored photos
  winners     Tag and list winning photos
  cache       Inspect or clear the result cache
  checkpoint  Inspect or clear the resume checkpoint`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	globals.Bind(rootCmd.PersistentFlags())

	rootCmd.AddCommand(commands.NewAnalyzeCommand(globals))
	rootCmd.AddCommand(commands.NewSetsCommand(globals))
	rootCmd.AddCommand(commands.NewWinnersCommand(globals))
	rootCmd.AddCommand(commands.NewCacheCommand(globals))
	rootCmd.AddCommand(commands.NewCheckpointCommand(globals))
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "photo-analyzer %s\n", version.String())
		},
	}
}
