package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
	"golang.org/x/time/rate"

	"github.com/bnema/waybar-pulse/internal/security"
)

const (
	// DefaultAPIURL is the REST and GraphQL API root
	DefaultAPIURL = "https://api.github.com"

	// DeviceCodeGrantType is the RFC 8628 grant used while polling
	DeviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	defaultPollInterval = 5 * time.Second
	defaultExpiresIn    = 15 * time.Minute
)

// DefaultScopes are requested when no scopes are configured. repo makes
// private contributions count in the calendar.
var DefaultScopes = []string{"read:user", "repo"}

// Options configures a Client. Zero values fall back to github.com defaults.
type Options struct {
	HTTPClient        *http.Client
	DeviceCodeURL     string
	TokenURL          string
	APIURL            string
	Scopes            []string
	RequestsPerSecond float64
	Logger            *security.SecureLogger
}

// Client issues the four GitHub requests the device flow and the widget need.
// It keeps no state between calls besides its configuration.
type Client struct {
	httpClient    *http.Client
	deviceCodeURL string
	tokenURL      string
	apiURL        string
	scopes        []string
	limiter       *rate.Limiter
	logger        *security.SecureLogger
}

// NewClient creates a GitHub API client
func NewClient(opts Options) *Client {
	c := &Client{
		httpClient:    opts.HTTPClient,
		deviceCodeURL: opts.DeviceCodeURL,
		tokenURL:      opts.TokenURL,
		apiURL:        strings.TrimSuffix(opts.APIURL, "/"),
		scopes:        opts.Scopes,
		logger:        opts.Logger,
	}

	if c.httpClient == nil {
		c.httpClient = security.NewHTTPClient(security.HTTPClientOptions{})
	}
	if c.deviceCodeURL == "" {
		c.deviceCodeURL = githuboauth.Endpoint.DeviceAuthURL
	}
	if c.tokenURL == "" {
		c.tokenURL = githuboauth.Endpoint.TokenURL
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if len(c.scopes) == 0 {
		c.scopes = DefaultScopes
	}
	if c.logger == nil {
		c.logger = security.NewSecureLogger(false)
	}

	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 2)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	return c
}

// Close releases idle connections
func (c *Client) Close() {
	security.CloseIdleConnections(c.httpClient)
}

// postForm sends a form-encoded POST and returns the status and the raw body
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	return c.do(c.httpClient, req)
}

// authorizedClient wraps the base client with a static bearer token source
func (c *Client) authorizedClient(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
}

func (c *Client) do(client *http.Client, req *http.Request) (int, []byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return 0, nil, NewNetworkError(0, "request not sent").WithCause(err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.LogNetworkEvent(req.Method, req.URL.String(), 0, duration.String())
		return 0, nil, NewNetworkError(0, "request failed").WithCause(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.LogNetworkEvent(req.Method, req.URL.String(), resp.StatusCode, duration.String())

	body, err := io.ReadAll(io.LimitReader(resp.Body, security.MaxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, NewNetworkError(0, "failed to read response").WithCause(err)
	}

	return resp.StatusCode, body, nil
}

// parseForm reads an application/x-www-form-urlencoded body. Values decoded
// before a malformed pair are kept.
func parseForm(body []byte) url.Values {
	values, _ := url.ParseQuery(strings.TrimSpace(string(body)))
	if values == nil {
		return url.Values{}
	}
	return values
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
