package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/janakkhadka100/fb-post-ai/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, info.Version)
			fmt.Fprintf(cmd.OutOrStdout(), " - git: %s\n", version.GetShortCommit())
			fmt.Fprintf(cmd.OutOrStdout(), " - built: %s\n", info.BuildDate)
			return nil
		},
	}
}
