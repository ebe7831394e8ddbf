package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ccrouter/gateway/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display version, git commit, and build date.`,
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("ccr-gateway %s\n", version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
