package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/causalprof/profilomatic/internal/service"
	"github.com/causalprof/profilomatic/pkg/config"
)

var (
	sourceName string
	monitor    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the profiler daemon",
	Long: `Run starts the profiler daemon: it loads the configured destinations,
the run registry, and (when --monitor is set) the control API's /stats
endpoint, then blocks until interrupted.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	runCmd.Flags().StringVarP(&sourceName, "source-name", "s", hostname, "Opaque name tagging every record emitted by this process")
	runCmd.Flags().BoolVarP(&monitor, "monitor", "x", false, "Expose the control API's /stats endpoint")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := GetLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if sourceName != "" {
		cfg.Profiler.SourceName = sourceName
	}
	if monitor {
		cfg.ControlAPI.Enabled = true
	}

	svc, err := service.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Initialize(ctx); err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	log.Info("profilerd running (source_name=%s, monitor=%v)", cfg.Profiler.SourceName, monitor)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down...")
	return svc.Stop()
}
