package main

import (
	"os"
	"path/filepath"

	"github.com/subosito/gotenv"

	"github.com/bnema/waybar-pulse/cmd"
	"github.com/bnema/waybar-pulse/internal/config"
	"github.com/bnema/waybar-pulse/internal/logger"
)

// Set with -ldflags "-X main.Version=..."
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildTime  = "unknown"
)

func main() {
	loadEnvFile()
	cmd.SetVersionInfo(Version, CommitHash, BuildTime)

	if err := cmd.Execute(); err != nil {
		logger.Error("pulse failed", "error", err)
		os.Exit(1)
	}
}

// loadEnvFile applies the first .env found, so PULSE_GITHUB_CLIENT_ID and
// friends can be kept next to a systemd unit instead of in config.toml.
// Variables already set in the environment win.
func loadEnvFile() {
	candidates := []string{".env"}
	if dir, err := config.GetDefaultConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, ".env"))
	}

	for _, path := range candidates {
		if err := gotenv.Load(path); err == nil {
			return
		}
	}
}
