package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/waybar-pulse/internal/logger"
)

// DefaultSignal is the RTMIN offset the waybar module is configured with
// ("signal": 8 in the waybar config)
const DefaultSignal = 8

// WaybarSignaler asks running waybar instances to re-run the custom module
type WaybarSignaler struct {
	signal int
	run    Runner
}

func NewWaybarSignaler(signal int) *WaybarSignaler {
	return NewWaybarSignalerWithRunner(signal, execRunner)
}

func NewWaybarSignalerWithRunner(signal int, run Runner) *WaybarSignaler {
	if signal <= 0 {
		signal = DefaultSignal
	}
	return &WaybarSignaler{signal: signal, run: run}
}

// Reload sends SIGRTMIN+N to waybar. No running waybar is not an error.
func (s *WaybarSignaler) Reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	output, err := s.run(ctx, "pkill", fmt.Sprintf("-RTMIN+%d", s.signal), "waybar")
	if err == nil {
		logger.Debug("Signaled waybar", "signal", s.signal)
		return nil
	}

	// pkill exits 1 when no process matched
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		logger.Debug("No waybar process to signal")
		return nil
	}

	return fmt.Errorf("pkill failed: %w, output: %s", err, strings.TrimSpace(string(output)))
}
