package main

import (
	"github.com/spf13/cobra"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "model_provisioner",
		Short: "Fetch model weights and assets into the workspace",
		Long: "Resolve the configured hub, registry and generic download entries and fetch each " +
			"destination exactly once, in parallel, safely across concurrent provisioners.",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
		RunE: runHandler,
	}

	cobra.EnableCommandSorting = false

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Provision every configured download (default)",
		Args:  cobra.NoArgs,
		RunE:  runHandler,
	}

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "List the download entries without fetching anything",
		Args:  cobra.NoArgs,
		RunE:  planHandler,
	}
	planCmd.Flags().Bool("resolve", false, "Resolve final paths (may issue HEAD requests)")

	checkTokensCmd := &cobra.Command{
		Use:   "check-tokens",
		Short: "Validate the configured provider tokens",
		Args:  cobra.NoArgs,
		RunE:  checkTokensHandler,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded acquisitions from the ledger",
		Args:  cobra.NoArgs,
		RunE:  historyHandler,
	}
	historyCmd.Flags().String("run", "", "Only show the acquisitions of this run id")
	historyCmd.Flags().Int("limit", 20, "Maximum number of rows")

	rootCmd.AddCommand(
		runCmd,
		planCmd,
		checkTokensCmd,
		historyCmd,
	)

	return rootCmd
}
