package main

import (
	"github.com/spf13/cobra"

	"symbol-detect/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("symboldetect %s (commit %s, built %s)\n",
			version.Version, version.Commit(), version.BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
