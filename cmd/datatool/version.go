package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildVersion is overridden at link time via
// -ldflags "-X main.buildVersion=...". It defaults to "dev" for
// locally built binaries, matching the teacher's unversioned dev build
// convention.
var buildVersion = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the datatool build version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), buildVersion)
		return nil
	},
}
