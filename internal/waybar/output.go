package waybar

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/waybar-pulse/internal/github"
	"github.com/bnema/waybar-pulse/internal/nerdfonts"
)

const DefaultTooltipWeeks = 12

type WaybarOutput struct {
	Text       string `json:"text"`
	Tooltip    string `json:"tooltip"`
	Class      string `json:"class"`
	Percentage int    `json:"percentage"`
}

type OutputFormatter struct {
	tooltipWeeks int
	timeFormat   string
}

func NewOutputFormatter() *OutputFormatter {
	return &OutputFormatter{
		tooltipWeeks: DefaultTooltipWeeks,
		timeFormat:   "15:04",
	}
}

func (of *OutputFormatter) SetTooltipWeeks(weeks int) {
	if weeks > 0 {
		of.tooltipWeeks = weeks
	}
}

func (of *OutputFormatter) SetTimeFormat(format string) {
	of.timeFormat = format
}

func (of *OutputFormatter) FormatEntry(entry Entry) WaybarOutput {
	switch entry.State {
	case EntryNotAuthenticated:
		return WaybarOutput{
			Text:    fmt.Sprintf("%s %s", nerdfonts.GitHub, nerdfonts.Lock),
			Tooltip: "Not signed in to GitHub\nRun `pulse auth` to connect your account",
			Class:   "disconnected",
		}
	case EntryError:
		message := entry.Message
		if message == "" {
			message = noDataMessage
		}
		return WaybarOutput{
			Text:    fmt.Sprintf("%s %s", nerdfonts.GitHub, nerdfonts.ExclamationTriangle),
			Tooltip: message,
			Class:   "error",
		}
	}

	c := entry.Contributions
	if c == nil {
		return of.FormatEntry(Entry{State: EntryError, Message: noDataMessage})
	}

	today, _ := c.Today()
	streak := c.CurrentStreak()

	output := WaybarOutput{
		Text:       fmt.Sprintf("%s %d %s %d", nerdfonts.GitHub, today.Count, nerdfonts.Fire, streak),
		Tooltip:    of.generateTooltip(entry),
		Class:      "idle",
		Percentage: today.Level * 25,
	}

	switch {
	case entry.State == EntryStale:
		output.Class = "stale"
	case today.Count > 0:
		output.Class = "active"
	}

	return output
}

func (of *OutputFormatter) generateTooltip(entry Entry) string {
	c := entry.Contributions
	var lines []string

	header := fmt.Sprintf("GitHub contributions (%s)", entry.Date.Format("Monday, Jan 2"))
	lines = append(lines, header)
	lines = append(lines, strings.Repeat("━", len([]rune(header))))
	lines = append(lines, "")
	lines = append(lines, of.heatmap(c.LastWeeks(of.tooltipWeeks))...)
	lines = append(lines, "")

	today, _ := c.Today()
	lines = append(lines, fmt.Sprintf("%s %d today", nerdfonts.Calendar, today.Count))
	lines = append(lines, fmt.Sprintf("%s %s", nerdfonts.Fire, pluralDays(c.CurrentStreak())))
	lines = append(lines, fmt.Sprintf("%s %d in the last year", nerdfonts.CalendarWeek, c.Total()))

	if !entry.LastUpdated.IsZero() {
		updated := fmt.Sprintf("%s Updated %s", nerdfonts.Clock, entry.LastUpdated.Local().Format(of.timeFormat))
		if entry.State == EntryStale {
			updated = fmt.Sprintf("%s Updated %s ago", nerdfonts.Sync, of.formatDuration(entry.Date.Sub(entry.LastUpdated)))
		}
		lines = append(lines, updated)
	}

	return strings.Join(lines, "\n")
}

var weekdayLabels = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// heatmap lays weeks out as columns and weekdays as rows
func (of *OutputFormatter) heatmap(weeks []github.Week) []string {
	grid := make([][]string, 7)
	for row := range grid {
		grid[row] = make([]string, len(weeks))
		for col := range grid[row] {
			grid[row][col] = " "
		}
	}

	for col, week := range weeks {
		for i, day := range week.Days {
			row := i
			if d, err := time.Parse("2006-01-02", day.Date); err == nil {
				row = int(d.Weekday())
			}
			if row > 6 {
				continue
			}
			grid[row][col] = nerdfonts.HeatmapCell(day.Level)
		}
	}

	lines := make([]string, 7)
	for row := range grid {
		lines[row] = weekdayLabels[row] + " " + strings.Join(grid[row], "")
	}
	return lines
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day streak"
	}
	return fmt.Sprintf("%d day streak", n)
}

func (of *OutputFormatter) formatDuration(duration time.Duration) string {
	if duration < 0 {
		return "0m"
	}

	if duration < time.Hour {
		minutes := int(duration.Minutes())
		return fmt.Sprintf("%dm", minutes)
	}

	hours := int(duration.Hours())
	minutes := int(duration.Minutes()) % 60

	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}

	return fmt.Sprintf("%dh%dm", hours, minutes)
}

// FormatJSONOutput outputs the WaybarOutput as JSON string
func FormatJSONOutput(output WaybarOutput) (string, error) {
	data, err := json.Marshal(output)
	if err != nil {
		return "", fmt.Errorf("failed to marshal waybar output: %w", err)
	}
	return string(data), nil
}

// FormatTextOutput outputs a simple text representation
func FormatTextOutput(output WaybarOutput) string {
	return output.Text
}
