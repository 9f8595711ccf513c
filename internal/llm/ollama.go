package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"lograg/internal/domain"
)

// Ollama calls the native /api/generate endpoint of one of several Ollama hosts.
type Ollama struct {
	hosts   []string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
	pick    func(n int) int
}

// NewOllama creates an Ollama backend. Each completion goes to a host chosen at random.
func NewOllama(cfg Config) (*Ollama, error) {
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = []string{"http://localhost:11434"}
	}
	hosts := make([]string, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		hosts[i] = strings.TrimRight(h, "/")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ollama{
		hosts:   hosts,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  newHTTPClient(),
		logger:  logger,
		pick:    rand.Intn,
	}, nil
}

func (o *Ollama) Name() string { return "ollama/" + o.model }

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float32 `json:"temperature"`
	TopK        int     `json:"top_k,omitempty"`
	TopP        float32 `json:"top_p,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// generateChunk is one NDJSON line of a streamed response, or the whole non-streamed response.
type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Complete sends prompt to a random host. Streamed responses arrive as newline-delimited JSON
// objects; the final one has done set.
func (o *Ollama) Complete(ctx context.Context, prompt string, opts Options, onToken domain.TokenHandler) (string, error) {
	host := o.hosts[o.pick(len(o.hosts))]
	backend := fmt.Sprintf("ollama %s at %s", o.model, host)

	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: onToken != nil,
		Options: generateOptions{
			Temperature: opts.Temperature,
			TopK:        opts.TopK,
			TopP:        opts.TopP,
			NumCtx:      opts.NumCtx,
			NumPredict:  opts.MaxTokens,
		},
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", unavailable(backend, err)
	}
	req.Header.Set("Content-Type", "application/json")

	o.logger.Debug("ollama generate", "host", host, "model", o.model, "stream", onToken != nil, "prompt_len", len(prompt))
	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return "", o.fail(ctx, backend, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", unavailable(backend, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var answer strings.Builder
	dec := json.NewDecoder(resp.Body)
	for {
		var chunk generateChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				// The connection closed before the final chunk; the answer is truncated.
				err = io.ErrUnexpectedEOF
			}
			return "", o.fail(ctx, backend, err)
		}
		if chunk.Error != "" {
			return "", unavailable(backend, errors.New(chunk.Error))
		}
		if chunk.Response != "" {
			answer.WriteString(chunk.Response)
			if onToken != nil {
				if err := ctx.Err(); err != nil {
					return "", err
				}
				onToken(chunk.Response)
			}
		}
		if chunk.Done {
			break
		}
	}
	o.logger.Debug("ollama generate done", "host", host, "answer_len", answer.Len(), "duration", time.Since(start))
	return answer.String(), nil
}

// fail reports cancellation as is and everything else as an unavailable backend.
func (o *Ollama) fail(ctx context.Context, backend string, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return unavailable(backend, err)
}
