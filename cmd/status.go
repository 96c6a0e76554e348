package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/waybar-pulse/internal/logger"
	"github.com/bnema/waybar-pulse/internal/nerdfonts"
	"github.com/bnema/waybar-pulse/internal/waybar"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the GitHub integration",
	Long: `Display the current status of waybar-pulse including:
- Authentication status and the signed-in profile
- Snapshot location and age
- What the widget currently shows

This command helps you monitor whether the integration is working correctly.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	fmt.Println("=== Authentication ===")
	status := application.Orchestrator().Status()
	printAuthStatus(status)
	if p := status.Profile; p != nil {
		fmt.Printf("Login: %s\n", p.Login)
		if p.DisplayName != "" {
			fmt.Printf("Name: %s\n", p.DisplayName)
		}
		if p.AvatarURL != "" {
			fmt.Printf("Avatar: %s\n", p.AvatarURL)
		}
	}
	if err := application.Config().RequireClientID(); err != nil {
		fmt.Printf("%s %v\n", nerdfonts.ExclamationTriangle, err)
	}

	fmt.Println("\n=== Snapshot ===")
	store := application.Snapshot()
	fmt.Printf("Cache directory: %s\n", cacheDir)
	fmt.Printf("Snapshot file: %s\n", store.Path())

	now := time.Now()
	if last, ok := store.LastUpdated(); ok {
		fmt.Printf("Last update: %s (%s ago)\n",
			last.Local().Format("2006-01-02 15:04:05"),
			now.Sub(last).Truncate(time.Second))
	} else {
		fmt.Println("Last update: Never")
	}

	maxAge := application.Config().Refresh.MaxAge
	if store.IsFresh(maxAge) {
		fmt.Printf("%s Fresh (max age %s)\n", nerdfonts.CheckCircle, maxAge)
	} else {
		fmt.Printf("%s Stale (max age %s, run 'pulse sync')\n", nerdfonts.Clock, maxAge)
	}

	fmt.Println("\n=== Widget ===")
	entry := application.Provider().Entry(now)
	fmt.Printf("State: %s\n", entry.State)
	if entry.Message != "" {
		fmt.Printf("Message: %s\n", entry.Message)
	}
	if c := entry.Contributions; c != nil {
		today, _ := c.Today()
		fmt.Printf("%s Today: %d\n", nerdfonts.Calendar, today.Count)
		fmt.Printf("%s Streak: %d days\n", nerdfonts.Fire, c.CurrentStreak())
		fmt.Printf("%s Last year: %d\n", nerdfonts.CalendarWeek, c.Total())
	}
	fmt.Printf("Next render: %s\n", entry.NextUpdate.Local().Format("15:04"))

	output := waybar.NewOutputFormatter().FormatEntry(entry)
	fmt.Printf("Class: %s\n", output.Class)

	return nil
}
