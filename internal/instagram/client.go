// Package instagram fetches public profile media over Instagram's web API.
// Only documented public endpoints are used; the client never replays the
// private mobile API.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Headers matching the web client; the app id is the public web application
// id, not an account credential.
const (
	userAgent = "Mozilla/5.0 (Linux; Android 9; GM1903 Build/PKQ1.190110.001; wv) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/75.0.3770.143 " +
		"Mobile Safari/537.36 Instagram 103.1.0.15.119 Android"
	webAppID = "936619743392459"
)

// StatusError is returned when the remote responds with a non-200 status.
// The executor maps the code into its retry buckets.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("instagram returned status %d", e.Code)
}

// Client talks to the Instagram web API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the given base URL ("https://www.instagram.com"
// in production, an httptest server in tests).
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ProfileReels fetches the recent reels for a username. credential, when
// non-empty, is sent as the session cookie; the caller owns its lifecycle.
func (c *Client) ProfileReels(ctx context.Context, username, credential string) ([]Reel, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users/web_profile_info/?username=%s",
		c.baseURL, url.QueryEscape(username))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building profile request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-IG-App-ID", webAppID)
	if credential != "" {
		req.Header.Set("Cookie", credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching profile for %s: %w", username, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var payload profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding profile response for %s: %w", username, err)
	}

	return parseReels(payload), nil
}
