// Package llm turns recognized utterances into short spoken-style answers
// from a chat completion provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	GroqBaseURL  = "https://api.groq.com/openai/v1"
	DefaultModel = "llama3-70b-8192"

	OpenAIBaseURL      = "https://api.openai.com/v1"
	DefaultOpenAIModel = "gpt-4o-mini"

	DefaultSystemPrompt = "Always maintain short and interactive conversations. " +
		"Always assist with care, respect, and truth. " +
		"Respond with utmost utility yet securely. " +
		"Avoid harmful, unethical, prejudiced, or negative content. " +
		"Ensure replies promote fairness and positivity."
)

var (
	ErrCredentialFetch   = errors.New("credential fetch failed")
	ErrCompletionRequest = errors.New("completion request failed")
)

// Prompt is a two-turn chat: a fixed system instruction and one user turn.
type Prompt struct {
	System string
	User   string
}

type LanguageModel interface {
	Complete(ctx context.Context, apiKey string, p Prompt) (string, error)
}

// OpenAILanguageModel talks to any OpenAI-compatible chat endpoint. A client
// is built per request because the key is fetched per request.
type OpenAILanguageModel struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOpenAILanguageModel(
	baseURL string,
	model string,
	httpClient *http.Client,
) *OpenAILanguageModel {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAILanguageModel{
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
	}
}

func (o *OpenAILanguageModel) Complete(
	ctx context.Context,
	apiKey string,
	p Prompt,
) (string, error) {
	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	}
	client := openai.NewClientWithConfig(cfg)

	resp, err := client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: o.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: p.System,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: p.User,
				},
			},
			Stream: false,
		},
	)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
