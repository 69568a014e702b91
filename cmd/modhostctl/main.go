package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modhostctl",
		Short: "Inspect and validate a modules directory without running the server",
		Long: `modhostctl runs module discovery against a local modules directory and reports
what the server would load: validation failures, routable pages and the
contributions each role would see.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Int("workers", 4, "parallel discovery workers")

	rootCmd.AddCommand(
		newValidateCmd(),
		newPagesCmd(),
		newContributionsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
