package provider

import "context"

// Message is a model-agnostic chat message passed to text providers as
// conversation context.
type Message struct {
	Role    string
	Content string
}

// TextResult is the common response model for text providers.
type TextResult struct {
	Success bool
	Text    string
}

// ImageOptions carries parsed generation parameters.
type ImageOptions struct {
	Width  int
	Height int
	Tier   string
}

// ImageResult is the common response model for image providers. Exactly one
// of Bytes or URL is populated on success.
type ImageResult struct {
	Success bool
	Bytes   []byte
	URL     string
}

// AdapterInfo is static adapter metadata surfaced through stats. It is used
// purely for observability, never for enforcement.
type AdapterInfo struct {
	Name      string
	RateLimit string
	Features  []string
}

// TextProvider is a text-generation backend behind a uniform adapter surface.
type TextProvider interface {
	Name() string
	GenerateText(ctx context.Context, prompt string, history []Message) (TextResult, error)
	HealthCheck(ctx context.Context) bool
	Info() AdapterInfo
}

// ImageProvider is an image-generation backend behind a uniform adapter surface.
type ImageProvider interface {
	Name() string
	GenerateImage(ctx context.Context, prompt string, opts ImageOptions) (ImageResult, error)
	HealthCheck(ctx context.Context) bool
	Info() AdapterInfo
}
