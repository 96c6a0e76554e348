package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/waybar-pulse/internal/logger"
	"github.com/bnema/waybar-pulse/internal/snapshot"
	"github.com/bnema/waybar-pulse/internal/waybar"
)

var (
	formatFlag    string
	watchFlag     bool
	noTooltipFlag bool
)

var widgetCmd = &cobra.Command{
	Use:   "widget",
	Short: "Print the Waybar module output",
	Long: `Read the shared contribution snapshot and print it in Waybar format.

The widget never talks to GitHub; the daemon or 'pulse sync' keep the snapshot
fresh. Use it as a Waybar custom module:

  "custom/pulse": {
    "exec": "pulse widget --watch",
    "return-type": "json",
    "signal": 8
  }

Examples:
  pulse widget                  # Print once
  pulse widget --watch          # Print on every snapshot change
  pulse widget --format=text    # Output as plain text
  pulse widget --no-tooltip     # Output JSON without tooltip`,
	RunE: runWidget,
}

func init() {
	widgetCmd.Flags().StringVar(&formatFlag, "format", "json", "output format (json/text)")
	widgetCmd.Flags().BoolVar(&watchFlag, "watch", false, "keep running and print whenever the snapshot changes")
	widgetCmd.Flags().BoolVar(&noTooltipFlag, "no-tooltip", false, "remove tooltip field from JSON output")
}

func runWidget(cmd *cobra.Command, args []string) error {
	if formatFlag != "json" && formatFlag != "text" {
		return fmt.Errorf("unknown format: %s (supported: json, text)", formatFlag)
	}
	if noTooltipFlag && formatFlag != "json" {
		return fmt.Errorf("--no-tooltip flag can only be used with --format=json")
	}

	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	path := snapshot.DefaultPath(cacheDir)
	store, err := snapshot.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close snapshot", "error", err)
		}
	}()

	provider := waybar.NewProvider(store, cfg.Waybar.StaleAfter)
	formatter := waybar.NewOutputFormatter()
	formatter.SetTooltipWeeks(cfg.Waybar.TooltipWeeks)
	formatter.SetTimeFormat(cfg.Waybar.TimeFormat)

	emit := func(entry waybar.Entry) error {
		output := formatter.FormatEntry(entry)
		if noTooltipFlag {
			output.Tooltip = ""
		}

		switch formatFlag {
		case "json":
			jsonOutput, err := waybar.FormatJSONOutput(output)
			if err != nil {
				return fmt.Errorf("failed to format JSON output: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), jsonOutput)
			return err
		default:
			_, err := fmt.Fprintln(cmd.OutOrStdout(), waybar.FormatTextOutput(output))
			return err
		}
	}

	if !watchFlag {
		return emit(provider.Entry(time.Now()))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return waybar.Watch(ctx, provider, path, emit)
}
