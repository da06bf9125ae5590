package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// BatchResult is the prerecorded transcription response. Raw keeps the
// provider's body so it can be relayed unchanged.
type BatchResult struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`

	Raw json.RawMessage `json:"-"`
}

func (r *BatchResult) Transcript() string {
	if len(r.Results.Channels) == 0 ||
		len(r.Results.Channels[0].Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Results.Channels[0].Alternatives[0].Transcript)
}

// BatchClient posts whole recordings for transcription. With a token it talks
// to Deepgram directly; without one it targets a proxy such as /api/deepgram.
type BatchClient struct {
	URL        string
	Token      string
	HTTPClient *http.Client
}

// DeepgramBatchURL is the prerecorded endpoint for the given model.
func DeepgramBatchURL(base, model string) string {
	if base == "" {
		base = DeepgramBaseURL
	}
	q := url.Values{}
	q.Set("model", model)
	q.Set("smart_format", "true")
	return strings.TrimRight(base, "/") + "/listen?" + q.Encode()
}

func (c *BatchClient) Transcribe(
	ctx context.Context,
	body io.Reader,
	contentType string,
) (*BatchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create transcription request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Token "+c.Token)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"transcription failed: status %d: %s",
			resp.StatusCode,
			strings.TrimSpace(string(raw)),
		)
	}

	result := &BatchResult{Raw: raw}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}
	return result, nil
}
