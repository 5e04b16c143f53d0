package provider

import (
	"context"
	"net/http"

	"github.com/MikeSquared-Agency/tally/internal/anthropic"
	"github.com/MikeSquared-Agency/tally/internal/openai"
)

const (
	extractionMaxTokens   = 8192
	extractionTemperature = 0.1

	probeMaxTokens = 5
	probeMessage   = "Hello, this is a test."
)

// CompletionRequest is one single-turn completion.
type CompletionRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Transport sends a completion to a vendor API and returns the raw text.
// Non-2xx answers must surface as an error exposing HTTPStatus() int.
type Transport interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Backend is the operations table for one vendor.
type Backend struct {
	ID              string
	Name            string
	Models          []string
	DefaultEndpoint string

	// Credential is the full credential name ("Personal Access Token").
	// CredentialShort is used mid-sentence ("token"). CredentialHint is
	// what the settings screen calls it.
	Credential      string
	CredentialShort string
	CredentialHint  string

	NewTransport func(cfg Config, hc *http.Client) Transport
}

// Info returns the catalog view of the backend.
func (b *Backend) Info() BackendInfo {
	info := BackendInfo{
		ID:              b.ID,
		Name:            b.Name,
		Models:          append([]string(nil), b.Models...),
		DefaultEndpoint: b.DefaultEndpoint,
		Credential:      b.Credential,
	}
	if len(b.Models) > 0 {
		info.DefaultModel = b.Models[0]
	}
	return info
}

// DefaultConfig returns a config for the backend with an empty key.
func (b *Backend) DefaultConfig() Config {
	return Config{
		Provider: b.ID,
		Model:    b.Info().DefaultModel,
		Endpoint: b.DefaultEndpoint,
	}
}

func (b *Backend) endpoint(cfg Config) string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}
	return b.DefaultEndpoint
}

// OpenAI returns the api.openai.com backend.
func OpenAI() *Backend {
	b := &Backend{
		ID:              "openai",
		Name:            "OpenAI",
		Models:          []string{"gpt-4o", "gpt-4o-mini"},
		DefaultEndpoint: openai.DefaultBaseURL,
		Credential:      "API key",
		CredentialShort: "API key",
		CredentialHint:  "AI API key",
	}
	b.NewTransport = chatTransportFor(b)
	return b
}

// GitHub returns the GitHub Models backend, which speaks the OpenAI wire
// format with a personal access token.
func GitHub() *Backend {
	b := &Backend{
		ID:              "github",
		Name:            "GitHub Models",
		Models:          []string{"gpt-4o", "gpt-4o-mini", "claude-3-5-sonnet"},
		DefaultEndpoint: "https://models.inference.ai.azure.com",
		Credential:      "Personal Access Token",
		CredentialShort: "token",
		CredentialHint:  "token",
	}
	b.NewTransport = chatTransportFor(b)
	return b
}

// Anthropic returns the Claude backend.
func Anthropic() *Backend {
	b := &Backend{
		ID:              "anthropic",
		Name:            "Anthropic",
		Models:          []string{"claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022", "claude-3-haiku-20240307"},
		DefaultEndpoint: anthropic.DefaultBaseURL,
		Credential:      "API key",
		CredentialShort: "API key",
		CredentialHint:  "AI API key",
	}
	b.NewTransport = func(cfg Config, hc *http.Client) Transport {
		opts := []anthropic.Option{
			anthropic.WithBaseURL(b.endpoint(cfg)),
			anthropic.WithHeaders(cfg.Headers),
		}
		if hc != nil {
			opts = append(opts, anthropic.WithHTTPClient(hc))
		}
		return &messagesTransport{client: anthropic.NewClient(cfg.APIKey, cfg.Model, opts...)}
	}
	return b
}

func chatTransportFor(b *Backend) func(Config, *http.Client) Transport {
	return func(cfg Config, hc *http.Client) Transport {
		return &chatTransport{client: openai.NewClient(cfg.APIKey, cfg.Model,
			openai.WithBaseURL(b.endpoint(cfg)),
			openai.WithHTTPClient(hc),
			openai.WithHeaders(cfg.Headers),
		)}
	}
}

type chatTransport struct {
	client *openai.Client
}

func (t *chatTransport) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return t.client.Complete(ctx, req.System,
		[]openai.Message{{Role: "user", Content: req.User}}, req.MaxTokens, req.Temperature)
}

type messagesTransport struct {
	client *anthropic.Client
}

func (t *messagesTransport) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return t.client.Complete(ctx, req.System,
		[]anthropic.Message{{Role: "user", Content: req.User}}, req.MaxTokens, req.Temperature)
}
