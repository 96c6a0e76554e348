package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// deviceCodeResponse is the JSON shape of the device authorization endpoint
type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

func (r *deviceCodeResponse) valid() bool {
	return r.DeviceCode != "" && r.UserCode != "" && r.VerificationURI != ""
}

// tokenResponse is the JSON shape of the token endpoint
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// StartDeviceFlow requests a device and user code for clientID
func (c *Client) StartDeviceFlow(ctx context.Context, clientID string) (*DeviceAuthorization, error) {
	form := url.Values{
		"client_id": {clientID},
		"scope":     {strings.Join(c.scopes, " ")},
	}

	status, body, err := c.postForm(ctx, c.deviceCodeURL, form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		c.logger.LogAuthEvent("device_code_request", false, map[string]any{
			"status": status,
			"body":   truncate(string(body), 200),
		})
		return nil, ErrInvalidResponse
	}

	resp, ok := decodeDeviceCode(body)
	if !ok {
		return nil, ErrInvalidResponse
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval < time.Second {
		interval = defaultPollInterval
	}
	expiresIn := time.Duration(resp.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	return &DeviceAuthorization{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		Interval:        interval,
		ExpiresAt:       time.Now().Add(expiresIn),
	}, nil
}

// decodeDeviceCode tries JSON first and falls back to a form-encoded body
func decodeDeviceCode(body []byte) (*deviceCodeResponse, bool) {
	var resp deviceCodeResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.valid() {
		return &resp, true
	}

	values := parseForm(body)
	resp = deviceCodeResponse{
		DeviceCode:      values.Get("device_code"),
		UserCode:        values.Get("user_code"),
		VerificationURI: values.Get("verification_uri"),
	}
	if !resp.valid() {
		return nil, false
	}
	resp.Interval, _ = strconv.Atoi(values.Get("interval"))
	resp.ExpiresIn, _ = strconv.Atoi(values.Get("expires_in"))
	return &resp, true
}

// PollForToken exchanges deviceCode for a credential. ErrAuthorizationPending
// and ErrSlowDown mean the caller should poll again; every other error is final.
func (c *Client) PollForToken(ctx context.Context, clientID, deviceCode string) (*Credential, error) {
	form := url.Values{
		"client_id":   {clientID},
		"device_code": {deviceCode},
		"grant_type":  {DeviceCodeGrantType},
	}

	status, body, err := c.postForm(ctx, c.tokenURL, form)
	if err != nil {
		return nil, err
	}

	// GitHub reports poll errors with both 200 and 400 statuses
	resp := decodeToken(body)
	if resp.Error != "" {
		return nil, pollError(resp.Error)
	}

	if status < 200 || status > 299 {
		return nil, NewNetworkError(status, truncate(string(body), 200))
	}
	if resp.AccessToken == "" {
		return nil, ErrInvalidResponse
	}

	return &Credential{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		Scope:       resp.Scope,
	}, nil
}

// decodeToken tries JSON first and falls back to a form-encoded body
func decodeToken(body []byte) tokenResponse {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err == nil {
		return resp
	}

	values := parseForm(body)
	return tokenResponse{
		AccessToken:      values.Get("access_token"),
		TokenType:        values.Get("token_type"),
		Scope:            values.Get("scope"),
		Error:            values.Get("error"),
		ErrorDescription: values.Get("error_description"),
	}
}

func pollError(code string) error {
	switch code {
	case "authorization_pending":
		return ErrAuthorizationPending
	case "slow_down":
		return ErrSlowDown
	case "expired_token":
		return ErrAuthorizationExpired
	case "access_denied":
		return ErrAccessDenied
	default:
		return &UnknownError{Detail: code}
	}
}
