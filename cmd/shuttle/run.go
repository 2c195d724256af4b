package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shuttlehq/shuttle/internal/config"
	"github.com/shuttlehq/shuttle/internal/logging"
	"github.com/shuttlehq/shuttle/internal/metrics"
	"github.com/shuttlehq/shuttle/internal/notify"
	"github.com/shuttlehq/shuttle/internal/sdnotify"
	"github.com/shuttlehq/shuttle/internal/shuttleerr"
	"github.com/shuttlehq/shuttle/internal/supervisor"
)

var (
	flagSource         string
	flagDestination    string
	flagQuarantine     string
	flagMaxScanThreads int
	flagLogLevel       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one quarantine/scan/delivery pass",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&flagSource, "source", "", "override paths.source")
	runCmd.Flags().StringVar(&flagDestination, "destination", "", "override paths.destination")
	runCmd.Flags().StringVar(&flagQuarantine, "quarantine", "", "override paths.quarantine")
	runCmd.Flags().IntVar(&flagMaxScanThreads, "max-scan-threads", 0, "override settings.max_scan_threads")
	runCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "override logging.log_level")
	rootCmd.AddCommand(runCmd)
}

func cliOverrides() config.Overrides {
	o := config.Overrides{}
	if flagSource != "" {
		o.Source = &flagSource
	}
	if flagDestination != "" {
		o.Destination = &flagDestination
	}
	if flagQuarantine != "" {
		o.Quarantine = &flagQuarantine
	}
	if flagMaxScanThreads != 0 {
		o.MaxScanThreads = &flagMaxScanThreads
	}
	if flagLogLevel != "" {
		o.LogLevel = &flagLogLevel
	}
	return o
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, cliOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(shuttleerr.ExitPreflightFailed)
	}

	log, err := logging.New(cfg.Paths.Log+"/shuttle.log", cfg.Logging.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(shuttleerr.ExitPreflightFailed)
	}
	defer log.Sync()

	m := metrics.New()
	if cfg.Settings.MetricsAddr != "" {
		go func() {
			if err := m.Serve(cmd.Context(), cfg.Settings.MetricsAddr); err != nil {
				log.Warnw("metrics server exited", "error", err)
			}
		}()
	}

	n := notify.NewWebhookNotifier(cfg.Settings.NotifyWebhookURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infow("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	sdnotify.Status("running quarantine/scan/delivery pass")
	sdnotify.Ready()

	sup := supervisor.New(cfg, log, m, n)
	runErr := sup.Run(ctx)

	sdnotify.Stopping()

	exitCode := shuttleerr.ExitCodeFor(runErr)
	if runErr != nil {
		log.Errorw("run failed", "error", runErr, "exit_code", exitCode)
		os.Exit(exitCode)
	}
	return nil
}
