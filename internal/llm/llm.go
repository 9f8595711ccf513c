// Package llm talks to the language model that writes answers.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"lograg/internal/domain"
)

// Options are sampling options. Providers ignore what they do not support: the OpenAI API has
// no top_k or num_ctx.
type Options struct {
	Temperature float32
	TopK        int
	TopP        float32
	NumCtx      int
	MaxTokens   int
}

// Completer generates text for a prompt. When onToken is non-nil the completion is streamed and
// every token is passed to it as it arrives; the full text is returned either way.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options, onToken domain.TokenHandler) (string, error)
	// Name identifies the backend in error messages and logs.
	Name() string
}

// ToolDescriptor describes a function the model may call.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  string // JSON Schema string
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolCaller is implemented by backends that support function calling.
type ToolCaller interface {
	CompleteWithTools(ctx context.Context, prompt string, opts Options, tools []ToolDescriptor) (string, []ToolCall, error)
}

// Config selects and configures a completion backend.
type Config struct {
	Provider string // ollama, openai, deepseek, openrouter, siliconflow, or any OpenAI-compatible name
	Hosts    []string
	Model    string
	APIKey   string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// New returns the backend for cfg.Provider. Ollama is spoken to natively so that top_k, top_p and
// num_ctx apply; everything else goes through the OpenAI-compatible chat API.
func New(cfg Config) (Completer, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	switch cfg.Provider {
	case "ollama", "":
		return NewOllama(cfg)
	default:
		return NewOpenAI(cfg)
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func unavailable(backend string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrCompletionUnavailable, backend, err)
}
