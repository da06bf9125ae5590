package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// CredentialSource yields the completion provider key. Keys may rotate, so
// callers fetch one per request.
type CredentialSource interface {
	APIKey(ctx context.Context) (string, error)
}

// HTTPCredentials fetches {"apiKey": "..."} from a credential endpoint,
// bypassing any HTTP cache.
type HTTPCredentials struct {
	URL        string
	HTTPClient *http.Client
}

func (c *HTTPCredentials) APIKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("credential endpoint returned %s", resp.Status)
	}

	var body struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode credential: %w", err)
	}
	if strings.TrimSpace(body.APIKey) == "" {
		return "", fmt.Errorf("credential endpoint returned an empty key")
	}
	return body.APIKey, nil
}

// StaticCredentials is a fixed key, for when no credential endpoint is used.
type StaticCredentials string

func (s StaticCredentials) APIKey(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("no api key configured")
	}
	return string(s), nil
}
