package provider

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// SonarProvider generates text through Perplexity's OpenAI-compatible chat
// completions API.
type SonarProvider struct {
	client *openai.Client
	model  string
}

// NewSonarProvider creates a Perplexity Sonar text adapter. baseURL points at
// the Perplexity API root.
func NewSonarProvider(apiKey, baseURL, model string) (*SonarProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("perplexity api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "sonar"
	}
	return &SonarProvider{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (p *SonarProvider) Name() string { return "sonar" }

func (p *SonarProvider) GenerateText(ctx context.Context, prompt string, history []Message) (TextResult, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  msgs,
		MaxTokens: 150,
	})
	if err != nil {
		return TextResult{}, fmt.Errorf("sonar completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return TextResult{Success: false}, nil
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return TextResult{Success: false}, nil
	}
	return TextResult{Success: true, Text: text}, nil
}

func (p *SonarProvider) HealthCheck(ctx context.Context) bool {
	return p.client != nil
}

func (p *SonarProvider) Info() AdapterInfo {
	return AdapterInfo{
		Name:      "sonar",
		RateLimit: "50 rpm",
		Features:  []string{"text", "search_grounded"},
	}
}
