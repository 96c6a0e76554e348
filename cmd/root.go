package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/waybar-pulse/internal/app"
	"github.com/bnema/waybar-pulse/internal/config"
	"github.com/bnema/waybar-pulse/internal/logger"
)

var (
	cacheDir string
	verbose  bool
	cfgFile  string
	cfg      *config.Config

	// Version information
	version    string
	commitHash string
	buildTime  string
)

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "GitHub contribution calendar for Waybar",
	Long: `A CLI tool and daemon that signs in to GitHub with the device flow and shows
your contribution calendar in Waybar.

The daemon keeps the calendar fresh in a small SQLite snapshot shared with the
widget command, which Waybar runs to render today's count, your streak and a
heatmap of recent weeks.

Perfect for running as a systemd user service next to Waybar.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, commit, buildTimeStr string) {
	version = v
	commitHash = commit
	buildTime = buildTimeStr

	app.Version = version
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commitHash, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "cache directory (default: ~/.cache/waybar-pulse)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/waybar-pulse/config.toml)")

	// Add subcommands
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(widgetCmd)
	rootCmd.AddCommand(statusCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Options{
		Verbose: verbose,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
	})

	if cacheDir == "" {
		defaultCacheDir, err := config.GetDefaultCacheDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting default cache directory: %v\n", err)
			os.Exit(1)
		}
		cacheDir = defaultCacheDir
	}
}

// newApp builds the composition root for commands that talk to GitHub
func newApp(synchronous bool) (*app.Application, error) {
	application, err := app.New(app.Options{
		Config:      cfg,
		CacheDir:    cacheDir,
		Verbose:     verbose,
		Synchronous: synchronous,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return application, nil
}
