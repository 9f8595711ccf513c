package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"lograg/internal/domain"
	"lograg/internal/embedding"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
// It works against OpenAI itself and against servers exposing the same /embeddings route
// (Ollama's /v1, vLLM, LocalAI).
type Client struct {
	client      *goopenai.Client
	baseURL     string
	model       string
	normalize   bool
	batchSize   int
	concurrency int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Timeout     time.Duration
	BatchSize   int
	Concurrency int
	Normalize   bool
	HTTPClient  *http.Client
}

// NewClient creates a new embeddings client using the provided configuration.
// A missing API key is allowed because local servers do not check it.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" && cfg.BaseURL == "https://api.openai.com/v1" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}

	clientConfig := goopenai.DefaultConfig(key)
	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = cfg.HTTPClient
	if clientConfig.HTTPClient == nil {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		client:      goopenai.NewClientWithConfig(clientConfig),
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		normalize:   cfg.Normalize,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
	}, nil
}

// Model returns the remote embedding model name, suffixed with "-raw" when vectors are not
// normalized.
func (c *Client) Model() string {
	if !c.normalize {
		return c.model + "-raw"
	}
	return c.model
}

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batches of the configured size, running up to Concurrency
// requests at once. Output order matches input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(texts); start += c.batchSize {
		start := start
		end := min(start+c.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.request(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) request(ctx context.Context, input []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: input,
		Model: goopenai.EmbeddingModel(c.model),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s (%s): %v", domain.ErrEmbeddingUnavailable, c.model, c.baseURL, err)
	}
	if len(resp.Data) != len(input) {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for %d inputs",
			domain.ErrEmbeddingUnavailable, c.model, len(resp.Data), len(input))
	}
	out := make([][]float32, len(input))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: %s returned an empty embedding", domain.ErrEmbeddingUnavailable, c.model)
		}
		if c.normalize {
			embedding.Normalize(d.Embedding)
		}
		out[idx] = d.Embedding
	}
	return out, nil
}
