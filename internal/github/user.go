package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// FetchUserProfile returns the identity of the token's owner
func (c *Client) FetchUserProfile(ctx context.Context, token string) (*UserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	status, body, err := c.do(c.authorizedClient(ctx, token), req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, ErrInvalidResponse
	}

	var profile UserProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, ErrInvalidResponse
	}
	if profile.Login == "" {
		return nil, ErrInvalidResponse
	}

	return &profile, nil
}
