package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AppName   = "waybar-pulse"
	EnvPrefix = "PULSE"
)

type Config struct {
	GitHub      GitHubConfig      `mapstructure:"github"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Refresh     RefreshConfig     `mapstructure:"refresh"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Waybar      WaybarConfig      `mapstructure:"waybar"`
	Daemon      DaemonConfig      `mapstructure:"daemon"`
	Log         LogConfig         `mapstructure:"log"`
}

type GitHubConfig struct {
	ClientID          string        `mapstructure:"client_id"`
	Scopes            []string      `mapstructure:"scopes"`
	APIURL            string        `mapstructure:"api_url"`
	DeviceCodeURL     string        `mapstructure:"device_code_url"`
	TokenURL          string        `mapstructure:"token_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type AuthConfig struct {
	FirstPollDelay time.Duration `mapstructure:"first_poll_delay"`
}

type RefreshConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	MaxAge       time.Duration `mapstructure:"max_age"`
}

type CredentialsConfig struct {
	// Backend is "file" or "keyring"
	Backend string `mapstructure:"backend"`
}

type WaybarConfig struct {
	Signal       int           `mapstructure:"signal"`
	TooltipWeeks int           `mapstructure:"tooltip_weeks"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	TimeFormat   string        `mapstructure:"time_format"`
}

type DaemonConfig struct {
	// ListenAddr of the local control API, empty disables it
	ListenAddr    string `mapstructure:"listen_addr"`
	Notifications bool   `mapstructure:"notifications"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaultConfig = Config{
	GitHub: GitHubConfig{
		ClientID:          "",
		Scopes:            []string{"read:user", "repo"},
		APIURL:            "https://api.github.com",
		DeviceCodeURL:     "https://github.com/login/device/code",
		TokenURL:          "https://github.com/login/oauth/access_token",
		RequestTimeout:    30 * time.Second,
		RequestsPerSecond: 1,
	},
	Auth: AuthConfig{
		FirstPollDelay: 0,
	},
	Refresh: RefreshConfig{
		Interval:     2 * time.Hour,
		StartupDelay: 5 * time.Second,
		MaxAge:       4 * time.Hour,
	},
	Credentials: CredentialsConfig{
		Backend: "file",
	},
	Waybar: WaybarConfig{
		Signal:       8,
		TooltipWeeks: 12,
		StaleAfter:   4 * time.Hour,
		TimeFormat:   "15:04",
	},
	Daemon: DaemonConfig{
		ListenAddr:    "127.0.0.1:7317",
		Notifications: true,
	},
	Log: LogConfig{
		Level:  "info",
		Format: "text",
	},
}

// Default returns a copy of the built-in configuration
func Default() *Config {
	c := defaultConfig
	c.GitHub.Scopes = append([]string(nil), defaultConfig.GitHub.Scopes...)
	return &c
}

// Load reads config.toml from configPath, which may be a directory or a
// file. An empty path means the default config directory. A missing file is
// created with defaults. PULSE_* environment variables override the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	configFile, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := createDefaultConfig(configFile); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func resolveConfigFile(configPath string) (string, error) {
	if configPath == "" {
		dir, err := getDefaultConfigDir()
		if err != nil {
			return "", fmt.Errorf("failed to get config directory: %w", err)
		}
		return filepath.Join(dir, "config.toml"), nil
	}
	if filepath.Ext(configPath) == "" {
		return filepath.Join(configPath, "config.toml"), nil
	}
	return configPath, nil
}

func setDefaults(v *viper.Viper) {
	// GitHub
	v.SetDefault("github.client_id", defaultConfig.GitHub.ClientID)
	v.SetDefault("github.scopes", defaultConfig.GitHub.Scopes)
	v.SetDefault("github.api_url", defaultConfig.GitHub.APIURL)
	v.SetDefault("github.device_code_url", defaultConfig.GitHub.DeviceCodeURL)
	v.SetDefault("github.token_url", defaultConfig.GitHub.TokenURL)
	v.SetDefault("github.request_timeout", defaultConfig.GitHub.RequestTimeout)
	v.SetDefault("github.requests_per_second", defaultConfig.GitHub.RequestsPerSecond)

	// Auth
	v.SetDefault("auth.first_poll_delay", defaultConfig.Auth.FirstPollDelay)

	// Refresh
	v.SetDefault("refresh.interval", defaultConfig.Refresh.Interval)
	v.SetDefault("refresh.startup_delay", defaultConfig.Refresh.StartupDelay)
	v.SetDefault("refresh.max_age", defaultConfig.Refresh.MaxAge)

	// Credentials
	v.SetDefault("credentials.backend", defaultConfig.Credentials.Backend)

	// Waybar
	v.SetDefault("waybar.signal", defaultConfig.Waybar.Signal)
	v.SetDefault("waybar.tooltip_weeks", defaultConfig.Waybar.TooltipWeeks)
	v.SetDefault("waybar.stale_after", defaultConfig.Waybar.StaleAfter)
	v.SetDefault("waybar.time_format", defaultConfig.Waybar.TimeFormat)

	// Daemon
	v.SetDefault("daemon.listen_addr", defaultConfig.Daemon.ListenAddr)
	v.SetDefault("daemon.notifications", defaultConfig.Daemon.Notifications)

	// Log
	v.SetDefault("log.level", defaultConfig.Log.Level)
	v.SetDefault("log.format", defaultConfig.Log.Format)
}

func createDefaultConfig(configFile string) error {
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(configFile); err == nil {
		return nil
	}

	configContent := `# waybar-pulse configuration

[github]
# OAuth app client id with device flow enabled, or set PULSE_GITHUB_CLIENT_ID
client_id = ""
scopes = ["read:user", "repo"]
api_url = "https://api.github.com"
device_code_url = "https://github.com/login/device/code"
token_url = "https://github.com/login/oauth/access_token"
request_timeout = "30s"
requests_per_second = 1.0

[auth]
first_poll_delay = "0s"  # defaults to the interval GitHub returns

[refresh]
interval = "2h"
startup_delay = "5s"
max_age = "4h"

[credentials]
backend = "file"  # or "keyring"

[waybar]
signal = 8  # matches "signal" in the waybar module config
tooltip_weeks = 12
stale_after = "4h"
time_format = "15:04"

[daemon]
listen_addr = "127.0.0.1:7317"  # empty disables the control API
notifications = true

[log]
level = "info"
format = "text"  # or "json"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func getDefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", AppName), nil
}

func GetDefaultConfigDir() (string, error) {
	return getDefaultConfigDir()
}

// GetDefaultCacheDir is where the snapshot database and credentials live
func GetDefaultCacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get cache directory: %w", err)
	}
	return filepath.Join(cacheDir, AppName), nil
}
