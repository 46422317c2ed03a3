package provider

import (
	"context"
	"encoding/base64"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DalleProvider generates images through the OpenAI images API. It is the
// premium tier, used strictly as fallback.
type DalleProvider struct {
	client *openai.Client
	model  string
}

// NewDalleProvider creates an OpenAI image adapter.
func NewDalleProvider(apiKey string) (*DalleProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	return &DalleProvider{
		client: openai.NewClient(apiKey),
		model:  openai.CreateImageModelDallE3,
	}, nil
}

func (p *DalleProvider) Name() string { return "dalle" }

func (p *DalleProvider) GenerateImage(ctx context.Context, prompt string, opts ImageOptions) (ImageResult, error) {
	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          p.model,
		N:              1,
		Size:           sizeFor(opts),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return ImageResult{}, fmt.Errorf("dalle generation failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return ImageResult{Success: false}, nil
	}
	if resp.Data[0].B64JSON != "" {
		raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
		if err != nil {
			return ImageResult{}, fmt.Errorf("failed to decode dalle payload: %w", err)
		}
		return ImageResult{Success: true, Bytes: raw}, nil
	}
	if resp.Data[0].URL != "" {
		return ImageResult{Success: true, URL: resp.Data[0].URL}, nil
	}
	return ImageResult{Success: false}, nil
}

func sizeFor(opts ImageOptions) string {
	switch {
	case opts.Width > opts.Height && opts.Height > 0:
		return openai.CreateImageSize1792x1024
	case opts.Height > opts.Width && opts.Width > 0:
		return openai.CreateImageSize1024x1792
	default:
		return openai.CreateImageSize1024x1024
	}
}

func (p *DalleProvider) HealthCheck(ctx context.Context) bool {
	return p.client != nil
}

func (p *DalleProvider) Info() AdapterInfo {
	return AdapterInfo{
		Name:      "dalle",
		RateLimit: "paid, 5 rpm default",
		Features:  []string{"image", "bytes", "hi_quality"},
	}
}
