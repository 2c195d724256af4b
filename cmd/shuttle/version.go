package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the shuttle version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("shuttle " + version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
