package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shuttlehq/shuttle/internal/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate the config file without running",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, config.Overrides{})
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Printf("config OK: source=%s destination=%s quarantine=%s max_scan_threads=%d\n",
			cfg.Paths.Source, cfg.Paths.Destination, cfg.Paths.Quarantine, cfg.Settings.MaxScanThreads)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateConfigCmd)
}
