package notifier

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bnema/waybar-pulse/internal/auth"
	"github.com/bnema/waybar-pulse/internal/github"
	"github.com/bnema/waybar-pulse/internal/logger"
	"github.com/bnema/waybar-pulse/internal/nerdfonts"
)

const (
	appName        = "waybar-pulse"
	commandTimeout = 10 * time.Second
)

// Runner executes an external command and returns its combined output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type Notifier struct {
	enabled bool
	run     Runner
}

func New(enabled bool) *Notifier {
	return &Notifier{
		enabled: enabled,
		run:     execRunner,
	}
}

// NewWithRunner is New with a custom command runner
func NewWithRunner(enabled bool, run Runner) *Notifier {
	return &Notifier{enabled: enabled, run: run}
}

func (n *Notifier) SendSignInSuccess(profile *github.UserProfile) error {
	if !n.enabled {
		return nil
	}

	title := fmt.Sprintf("%s Signed in to GitHub", nerdfonts.CheckCircle)
	message := "Your contribution calendar will appear shortly"
	if profile != nil {
		name := profile.Login
		if profile.DisplayName != "" {
			name = fmt.Sprintf("%s (%s)", profile.DisplayName, profile.Login)
		}
		message = fmt.Sprintf("%s %s\n%s", nerdfonts.GitHub, name, message)
	}

	return n.sendNotifyNotification(title, message, "normal")
}

func (n *Notifier) SendSignInFailure(reason string) error {
	if !n.enabled {
		return nil
	}

	title := fmt.Sprintf("%s GitHub sign-in failed", nerdfonts.ExclamationTriangle)
	return n.sendNotifyNotification(title, reason, "critical")
}

// SendDeviceCode asks the user to enter the code when a flow was started
// without a terminal, for example through the local API
func (n *Notifier) SendDeviceCode(userCode, verificationURI string) error {
	if !n.enabled {
		return nil
	}

	title := fmt.Sprintf("%s GitHub sign-in code: %s", nerdfonts.Key, userCode)
	message := fmt.Sprintf("Enter the code at %s", verificationURI)
	return n.sendNotifyNotification(title, message, "normal")
}

// HandleStatus maps orchestrator transitions to notifications. It is meant
// to be passed to Orchestrator.Subscribe.
func (n *Notifier) HandleStatus(previous *auth.Status) func(auth.Status) {
	last := auth.Status{}
	if previous != nil {
		last = *previous
	}

	var mu sync.Mutex

	return func(status auth.Status) {
		mu.Lock()
		defer mu.Unlock()
		defer func() { last = status }()

		if status.State == last.State && status.FlowID == last.FlowID {
			return
		}

		var err error
		switch status.State {
		case auth.StateAwaitingUser:
			err = n.SendDeviceCode(status.UserCode, status.VerificationURI)
		case auth.StateAuthenticated:
			if last.State == auth.StateAuthenticated {
				return
			}
			err = n.SendSignInSuccess(status.Profile)
		case auth.StateError:
			err = n.SendSignInFailure(status.Message)
		}
		if err != nil {
			logger.Warn("Desktop notification failed", "state", status.State.String(), "error", err)
		}
	}
}

func (n *Notifier) sendNotifyNotification(title, message, urgency string) error {
	args := []string{
		"--app-name=" + appName,
		"--urgency=" + urgency,
		title,
		message,
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	output, err := n.run(ctx, "notify-send", args...)
	if err != nil {
		return fmt.Errorf("notify-send failed: %w, output: %s", err, strings.TrimSpace(string(output)))
	}

	return nil
}

func (n *Notifier) IsEnabled() bool {
	return n.enabled
}

func (n *Notifier) SetEnabled(enabled bool) {
	n.enabled = enabled
}

func (n *Notifier) TestNotification() error {
	if !n.enabled {
		return fmt.Errorf("notifications are disabled")
	}

	title := fmt.Sprintf("%s Test Notification", nerdfonts.GitHub)
	message := fmt.Sprintf("%s This is a test notification from waybar-pulse", nerdfonts.InfoCircle)

	return n.sendNotifyNotification(title, message, "low")
}

// OpenURL opens url in the default browser
func OpenURL(ctx context.Context, url string) error {
	return openURL(ctx, execRunner, url)
}

func openURL(ctx context.Context, run Runner, url string) error {
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		return fmt.Errorf("refusing to open non-http url %q", url)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if output, err := run(ctx, "xdg-open", url); err != nil {
		return fmt.Errorf("xdg-open failed: %w, output: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
