package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultGeminiModel = "gemini-1.5-flash"

// GeminiLanguageModel answers through the Gemini API.
type GeminiLanguageModel struct {
	model string
	opts  []option.ClientOption
}

func NewGeminiLanguageModel(
	model string,
	opts ...option.ClientOption,
) *GeminiLanguageModel {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiLanguageModel{model: model, opts: opts}
}

func (g *GeminiLanguageModel) Complete(
	ctx context.Context,
	apiKey string,
	p Prompt,
) (string, error) {
	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, g.opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("create gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(p.System)},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return responseText(resp), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		break
	}
	return strings.TrimSpace(sb.String())
}
