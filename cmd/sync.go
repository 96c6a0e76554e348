package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/waybar-pulse/internal/logger"
	"github.com/bnema/waybar-pulse/internal/nerdfonts"
)

var ifStaleFlag bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the contribution snapshot now",
	Long: `Fetch the contribution calendar from GitHub, store it in the shared snapshot
and signal Waybar to re-render.

Examples:
  pulse sync              # Refresh now
  pulse sync --if-stale   # Refresh only when the snapshot is older than refresh.max_age`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&ifStaleFlag, "if-stale", false, "skip the refresh while the snapshot is fresh")
}

func runSync(cmd *cobra.Command, args []string) error {
	application, err := newApp(true)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("Failed to close", "error", err)
		}
	}()

	application.Load()

	if !application.Orchestrator().IsAuthenticated() {
		return fmt.Errorf("authentication required. Run 'pulse auth' first")
	}

	maxAge := application.Config().Refresh.MaxAge
	if ifStaleFlag && application.Snapshot().IsFresh(maxAge) {
		fmt.Printf("%s Snapshot is fresh, nothing to do\n", nerdfonts.CheckCircle)
		return nil
	}

	if err := application.Scheduler().Refresh(cmd.Context()); err != nil {
		return err
	}

	c, ok := application.Snapshot().Retrieve()
	if !ok {
		return fmt.Errorf("refresh finished but no snapshot was stored")
	}
	today, _ := c.Today()
	fmt.Printf("%s Synced %d weeks: %d today, %d day streak, %d in the last year\n",
		nerdfonts.CheckCircle, len(c.Weeks), today.Count, c.CurrentStreak(), c.Total())

	return nil
}
