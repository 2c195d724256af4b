package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "shuttle",
	Short: "Quarantine-first secure file transfer pipeline",
	Long: `shuttle moves files from an inbound source tree through a
quarantine-and-scan pipeline before delivering them to their
destination, archiving anything flagged as suspect to an encrypted
hazard store.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/shuttle/config.yaml", "path to config file")
}
