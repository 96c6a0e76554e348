package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bnema/waybar-pulse/internal/logger"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep the contribution snapshot fresh",
	Long: `Run the refresh scheduler in the foreground.

The daemon loads the stored GitHub token, refreshes the contribution snapshot
shortly after start and then every refresh.interval, and signals Waybar after
each update. When daemon.listen_addr is set it also serves a local control API:

  GET  /healthz        liveness
  GET  /status         sign-in state, profile and snapshot age
  POST /auth/start     start a device flow (the code arrives as a notification)
  POST /auth/confirm   poll right away
  POST /auth/logout    forget the stored token
  POST /refresh        refresh now
  GET  /metrics        Prometheus metrics

Stop it with SIGINT or SIGTERM.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := newApp(false)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("Failed to close", "error", err)
		}
	}()

	return application.RunDaemon(ctx)
}
