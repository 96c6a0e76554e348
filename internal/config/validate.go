package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bnema/waybar-pulse/internal/security"
)

// maxRTSignal is SIGRTMAX - SIGRTMIN on Linux
const maxRTSignal = 30

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
	validBackends   = []string{"", "file", "keyring"}
)

// Validate checks every section. It does not require a client id, which is
// only needed to start a sign-in (see RequireClientID).
func (c *Config) Validate() error {
	if err := c.GitHub.validate(); err != nil {
		return err
	}

	if c.Auth.FirstPollDelay < 0 {
		return security.NewConfigError("auth.first_poll_delay", c.Auth.FirstPollDelay.String(), "must not be negative")
	}

	if c.Refresh.Interval < time.Minute {
		return security.NewConfigError("refresh.interval", c.Refresh.Interval.String(), "must be at least 1 minute")
	}
	if c.Refresh.StartupDelay < 0 {
		return security.NewConfigError("refresh.startup_delay", c.Refresh.StartupDelay.String(), "must not be negative")
	}
	if c.Refresh.MaxAge <= 0 {
		return security.NewConfigError("refresh.max_age", c.Refresh.MaxAge.String(), "must be positive")
	}

	if !slices.Contains(validBackends, c.Credentials.Backend) {
		return security.NewConfigError("credentials.backend", c.Credentials.Backend, "must be one of: file, keyring")
	}

	if c.Waybar.Signal < 1 || c.Waybar.Signal > maxRTSignal {
		return security.NewConfigError("waybar.signal", fmt.Sprint(c.Waybar.Signal),
			fmt.Sprintf("must be between 1 and %d", maxRTSignal))
	}
	if c.Waybar.TooltipWeeks < 1 || c.Waybar.TooltipWeeks > 53 {
		return security.NewConfigError("waybar.tooltip_weeks", fmt.Sprint(c.Waybar.TooltipWeeks), "must be between 1 and 53")
	}
	if c.Waybar.StaleAfter <= 0 {
		return security.NewConfigError("waybar.stale_after", c.Waybar.StaleAfter.String(), "must be positive")
	}

	if addr := c.Daemon.ListenAddr; addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return security.NewConfigError("daemon.listen_addr", addr, "must be host:port").WithCause(err)
		}
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.Log.Level)) {
		return security.NewConfigError("log.level", c.Log.Level,
			fmt.Sprintf("must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	if !slices.Contains(validLogFormats, strings.ToLower(c.Log.Format)) {
		return security.NewConfigError("log.format", c.Log.Format,
			fmt.Sprintf("must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	return nil
}

// RequireClientID fails when no OAuth client id is configured
func (c *Config) RequireClientID() error {
	if strings.TrimSpace(c.GitHub.ClientID) == "" {
		return security.NewConfigError("github.client_id", "",
			"is required to sign in, set it in config.toml or PULSE_GITHUB_CLIENT_ID")
	}
	return nil
}

func (g *GitHubConfig) validate() error {
	for field, raw := range map[string]string{
		"github.api_url":         g.APIURL,
		"github.device_code_url": g.DeviceCodeURL,
		"github.token_url":       g.TokenURL,
	} {
		if err := validateEndpoint(field, raw); err != nil {
			return err
		}
	}

	if len(g.Scopes) == 0 {
		return security.NewConfigError("github.scopes", "", "must specify at least one scope")
	}

	if g.RequestTimeout < 5*time.Second {
		return security.NewConfigError("github.request_timeout", g.RequestTimeout.String(),
			"must be at least 5 seconds")
	}
	if g.RequestTimeout > 5*time.Minute {
		return security.NewConfigError("github.request_timeout", g.RequestTimeout.String(),
			"must not exceed 5 minutes")
	}

	if g.RequestsPerSecond < 0 {
		return security.NewConfigError("github.requests_per_second", fmt.Sprint(g.RequestsPerSecond),
			"must not be negative")
	}

	return nil
}

// validateEndpoint requires https except for loopback hosts
func validateEndpoint(field, raw string) error {
	if raw == "" {
		return security.NewConfigError(field, "", "URL cannot be empty")
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return security.NewConfigError(field, raw, "invalid URL format").WithCause(err)
	}

	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return security.NewConfigError(field, raw, "scheme must be http or https")
	}

	if parsedURL.Scheme != "https" && !isLoopback(parsedURL.Hostname()) {
		return security.NewConfigError(field, raw, "must use HTTPS for non-localhost hosts")
	}

	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Sanitize returns the config as a map safe to log
func (c *Config) Sanitize() map[string]any {
	clientID := "<unset>"
	if c.GitHub.ClientID != "" {
		clientID = redactID(c.GitHub.ClientID)
	}

	return map[string]any{
		"client_id":           clientID,
		"scopes":              strings.Join(c.GitHub.Scopes, " "),
		"api_url":             c.GitHub.APIURL,
		"request_timeout":     c.GitHub.RequestTimeout.String(),
		"requests_per_second": c.GitHub.RequestsPerSecond,
		"refresh_interval":    c.Refresh.Interval.String(),
		"max_age":             c.Refresh.MaxAge.String(),
		"credentials_backend": c.Credentials.Backend,
		"waybar_signal":       c.Waybar.Signal,
		"listen_addr":         c.Daemon.ListenAddr,
		"log_level":           c.Log.Level,
	}
}

func redactID(id string) string {
	if len(id) <= 6 {
		return "***"
	}
	return id[:4] + "***"
}
