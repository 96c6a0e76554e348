package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/waybar-pulse/internal/app"
	"github.com/bnema/waybar-pulse/internal/auth"
	"github.com/bnema/waybar-pulse/internal/logger"
	"github.com/bnema/waybar-pulse/internal/nerdfonts"
	"github.com/bnema/waybar-pulse/internal/notifier"
)

var (
	logoutFlag    bool
	statusOnly    bool
	noBrowserFlag bool
)

// firstRefreshTimeout bounds how long auth waits for the calendar after sign-in
const firstRefreshTimeout = 45 * time.Second

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Sign in to GitHub",
	Long: `Sign in to GitHub with the OAuth device flow.

The command prints a one-time code and opens the verification page. Enter the
code on GitHub; the command waits until you approve it. Press Enter to check
right away instead of waiting for the next poll.

Examples:
  pulse auth                 # Sign in
  pulse auth --no-browser    # Sign in without opening a browser
  pulse auth --status        # Check authentication status
  pulse auth --logout        # Forget the stored token`,
	RunE: runAuth,
}

func init() {
	authCmd.Flags().BoolVar(&logoutFlag, "logout", false, "forget the stored token and profile")
	authCmd.Flags().BoolVar(&statusOnly, "status", false, "check authentication status only")
	authCmd.Flags().BoolVar(&noBrowserFlag, "no-browser", false, "do not open the verification page")
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	orch := application.Orchestrator()

	if statusOnly {
		printAuthStatus(orch.Status())
		return nil
	}

	if logoutFlag {
		fmt.Printf("%s Signing out...\n", nerdfonts.InfoCircle)
		application.WatchAuthentication(ctx)
		orch.Logout()
		fmt.Printf("%s Signed out, stored token removed\n", nerdfonts.CheckCircle)
		return nil
	}

	if orch.IsAuthenticated() {
		printAuthStatus(orch.Status())
		fmt.Println("Use --logout to sign in with another account")
		return nil
	}

	if err := application.Config().RequireClientID(); err != nil {
		return err
	}

	application.WatchAuthentication(ctx)
	return runDeviceFlow(ctx, application)
}

func runDeviceFlow(ctx context.Context, application *app.Application) error {
	orch := application.Orchestrator()

	updates := make(chan auth.Status, 16)
	unsubscribe := orch.Subscribe(func(s auth.Status) {
		select {
		case updates <- s:
		default:
		}
	})
	defer unsubscribe()

	fmt.Printf("%s Requesting a device code from GitHub...\n", nerdfonts.InfoCircle)
	orch.StartDeviceFlow()

	// StartDeviceFlow ran the request inline, so the code is already known
	shown := ""
	if err := handleStatus(ctx, orch, orch.Status(), &shown); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			orch.Close()
			return fmt.Errorf("sign-in cancelled")
		case s := <-updates:
			if err := handleStatus(ctx, orch, s, &shown); err != nil {
				return err
			}
			if s.State == auth.StateAuthenticated {
				return waitForFirstRefresh(ctx, application)
			}
		}
	}
}

// handleStatus prints one status update. shown holds the last user code
// printed so repeated updates do not prompt twice.
func handleStatus(ctx context.Context, orch *auth.Orchestrator, s auth.Status, shown *string) error {
	switch s.State {
	case auth.StateAwaitingUser:
		if s.UserCode == "" || *shown == s.UserCode {
			return nil
		}
		*shown = s.UserCode

		fmt.Println()
		fmt.Printf("%s Enter this code on GitHub: %s\n", nerdfonts.Key, s.UserCode)
		fmt.Printf("   %s\n\n", s.VerificationURI)

		if !noBrowserFlag {
			if err := notifier.OpenURL(ctx, s.VerificationURI); err != nil {
				logger.Warn("Failed to open browser", "error", err)
				fmt.Println("Open the link above in your browser.")
			}
		}
		fmt.Println("Waiting for approval (press Enter once you have entered the code)...")
		go waitForEnter(orch)

	case auth.StateAuthenticated:
		login := ""
		if s.Profile != nil {
			login = s.Profile.Login
		}
		fmt.Printf("%s Signed in as %s\n", nerdfonts.CheckCircle, login)

	case auth.StateError:
		return fmt.Errorf("sign-in failed: %s", s.Message)
	}
	return nil
}

func waitForEnter(orch *auth.Orchestrator) {
	reader := bufio.NewReader(os.Stdin)
	for {
		if _, err := reader.ReadString('\n'); err != nil {
			return
		}
		s := orch.Status().State
		if s != auth.StateAwaitingUser && s != auth.StatePolling {
			return
		}
		orch.ConfirmAuthorization()
	}
}

func waitForFirstRefresh(ctx context.Context, application *app.Application) error {
	fmt.Printf("%s Fetching your contribution calendar...\n", nerdfonts.Sync)

	select {
	case <-application.AuthenticationHandled():
	case <-time.After(firstRefreshTimeout):
		fmt.Println("Still fetching, the daemon will pick it up on its next refresh.")
		return nil
	case <-ctx.Done():
		return nil
	}

	if c, ok := application.Snapshot().Retrieve(); ok {
		today, _ := c.Today()
		fmt.Printf("%s %d contributions today, %d day streak\n", nerdfonts.GitHub, today.Count, c.CurrentStreak())
	} else {
		fmt.Println("Calendar not available yet, run 'pulse sync' to retry.")
	}
	return nil
}

func printAuthStatus(s auth.Status) {
	switch {
	case s.IsAuthenticated() && s.Profile != nil:
		fmt.Printf("%s Authentication: Valid (%s)\n", nerdfonts.CheckCircle, s.Profile.Login)
	case s.IsAuthenticated():
		fmt.Printf("%s Authentication: Valid\n", nerdfonts.CheckCircle)
	case s.State == auth.StateError:
		fmt.Printf("%s Authentication: Error (%s)\n", nerdfonts.ExclamationTriangle, s.Message)
	default:
		fmt.Printf("%s Authentication: Required (run 'pulse auth')\n", nerdfonts.Lock)
	}
}
