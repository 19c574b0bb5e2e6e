package ai

import (
	"context"
	"errors"
)

// Message is a single role-tagged turn handed to the text generator.
type Message struct {
	Role    string
	Content string
}

// Client provides both embedding and text-generation capabilities.
type Client interface {
	Embed(text string) ([]float32, error)
	Generate(ctx context.Context, system string, msgs []Message) (string, error)
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	ChatModel  string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
}

// NewClient creates a new AI client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	ctx := context.Background()
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is a stub implementation of the Client interface for testing
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	return &StubClient{dim: dim}
}

// Embed returns a deterministic vector derived from the text so that
// identical inputs rank identically.
func (s *StubClient) Embed(text string) ([]float32, error) {
	if s.dim <= 0 {
		return nil, errors.New("embedding dimension not set")
	}
	v := make([]float32, s.dim)
	for i, r := range text {
		v[i%s.dim] += float32(r%32) / 32
	}
	return v, nil
}

// Generate returns no content; callers substitute their canned fallback.
func (s *StubClient) Generate(ctx context.Context, system string, msgs []Message) (string, error) {
	return "", nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
