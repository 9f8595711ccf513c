package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"lograg/internal/domain"
)

var defaultBaseURLs = map[string]string{
	"openai":      "https://api.openai.com/v1",
	"deepseek":    "https://api.deepseek.com",
	"openrouter":  "https://openrouter.ai/api/v1",
	"siliconflow": "https://api.siliconflow.cn/v1",
}

// OpenAI is a chat completion backend for any OpenAI-compatible API.
type OpenAI struct {
	client   *openai.Client
	provider string
	model    string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewOpenAI creates the backend. cfg.Hosts[0], when set, overrides the provider's base URL.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	baseURL := defaultBaseURLs[cfg.Provider]
	if len(cfg.Hosts) > 0 && cfg.Hosts[0] != "" {
		baseURL = strings.TrimRight(cfg.Hosts[0], "/")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("llm: provider %q needs a base URL in hosts", cfg.Provider)
	}
	if cfg.APIKey == "" && defaultBaseURLs[cfg.Provider] == baseURL {
		return nil, fmt.Errorf("llm: provider %q needs an API key", cfg.Provider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = baseURL
	clientConfig.HTTPClient = newHTTPClient()
	return &OpenAI{
		client:   openai.NewClientWithConfig(clientConfig),
		provider: cfg.Provider,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		logger:   logger,
	}, nil
}

func (c *OpenAI) Name() string { return c.provider + "/" + c.model }

func (c *OpenAI) request(prompt string, opts Options) openai.ChatCompletionRequest {
	// go-openai omits a zero temperature, which providers read as their default.
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   opts.MaxTokens,
		Temperature: temperature,
		TopP:        opts.TopP,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
}

// Complete runs a chat completion with prompt as the single user message.
func (c *OpenAI) Complete(ctx context.Context, prompt string, opts Options, onToken domain.TokenHandler) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if onToken == nil {
		resp, err := c.client.CreateChatCompletion(ctx, c.request(prompt, opts))
		if err != nil {
			return "", c.fail(ctx, err)
		}
		if len(resp.Choices) == 0 {
			return "", c.fail(ctx, errors.New("empty response"))
		}
		return resp.Choices[0].Message.Content, nil
	}

	req := c.request(prompt, opts)
	req.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", c.fail(ctx, err)
	}
	defer stream.Close()

	var answer strings.Builder
	chunks := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", c.fail(ctx, fmt.Errorf("stream recv failed: %w", err))
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta != "" {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			chunks++
			answer.WriteString(delta)
			onToken(delta)
		}
		if resp.Choices[0].FinishReason != "" {
			break
		}
	}
	c.logger.Debug("chat stream completed", "backend", c.Name(), "chunks", chunks)
	return answer.String(), nil
}

// CompleteWithTools offers tools to the model and returns its text and any requested calls.
func (c *OpenAI) CompleteWithTools(ctx context.Context, prompt string, opts Options, tools []ToolDescriptor) (string, []ToolCall, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := c.request(prompt, opts)
	req.Tools = make([]openai.Tool, len(tools))
	for i, t := range tools {
		req.Tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.Parameters),
			},
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", nil, c.fail(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, c.fail(ctx, errors.New("empty response"))
	}
	msg := resp.Choices[0].Message
	calls := make([]ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	c.logger.Debug("chat with tools", "backend", c.Name(), "tool_calls", len(calls))
	return msg.Content, calls, nil
}

func (c *OpenAI) fail(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return unavailable(c.Name(), err)
}
