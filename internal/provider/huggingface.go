package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HuggingFaceProvider generates images through the Hugging Face inference
// API. It is the cheap tier: preferred for every image request.
type HuggingFaceProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewHuggingFaceProvider creates a Hugging Face image adapter.
func NewHuggingFaceProvider(apiKey, model string, timeout time.Duration) (*HuggingFaceProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("huggingface api key is required")
	}
	if model == "" {
		model = "black-forest-labs/FLUX.1-schnell"
	}
	return &HuggingFaceProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api-inference.huggingface.co/models",
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (p *HuggingFaceProvider) Name() string { return "huggingface" }

type hfRequest struct {
	Inputs     string        `json:"inputs"`
	Parameters *hfParameters `json:"parameters,omitempty"`
}

type hfParameters struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// GenerateImage posts the prompt to the inference endpoint. The API answers
// either with raw image bytes or with a JSON body carrying a URL.
func (p *HuggingFaceProvider) GenerateImage(ctx context.Context, prompt string, opts ImageOptions) (ImageResult, error) {
	reqBody := hfRequest{Inputs: prompt}
	if opts.Width > 0 || opts.Height > 0 {
		reqBody.Parameters = &hfParameters{Width: opts.Width, Height: opts.Height}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return ImageResult{}, fmt.Errorf("failed to marshal huggingface request: %w", err)
	}

	url := p.baseURL + "/" + p.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ImageResult{}, fmt.Errorf("failed to create huggingface request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ImageResult{}, fmt.Errorf("huggingface request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ImageResult{}, fmt.Errorf("failed reading huggingface response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		truncated := truncate(string(body), 400)
		return ImageResult{}, fmt.Errorf("huggingface non-success status=%d body=%s", resp.StatusCode, truncated)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		if len(body) == 0 {
			return ImageResult{Success: false}, nil
		}
		return ImageResult{Success: true, Bytes: body}, nil
	}

	var parsed struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.URL != "" {
		return ImageResult{Success: true, URL: parsed.URL}, nil
	}
	return ImageResult{Success: false}, nil
}

func (p *HuggingFaceProvider) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+p.model, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 500
}

func (p *HuggingFaceProvider) Info() AdapterInfo {
	return AdapterInfo{
		Name:      "huggingface",
		RateLimit: "free tier, shared queue",
		Features:  []string{"image", "bytes", "url"},
	}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
