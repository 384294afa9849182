package main

import (
	"github.com/spf13/cobra"
)

const serviceName = "fbpostai"

var dryRunFlag bool

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Generate, moderate and schedule page posts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&dryRunFlag, "dry-run", false, "simulate publishing (overrides DRY_RUN)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newAuditCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
