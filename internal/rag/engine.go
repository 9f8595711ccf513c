// Package rag answers questions about the indexed logs: it retrieves the entries closest to the
// question and asks the language model to answer from them.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lograg/internal/domain"
	"lograg/internal/index"
	"lograg/internal/llm"
	"lograg/internal/logging"
	"lograg/internal/metrics"
)

// DefaultK is the number of entries retrieved when neither the request nor the engine sets one.
const DefaultK = 100

// Request is a single question.
type Request struct {
	Question string
	// K is the number of entries to retrieve; zero means the engine default.
	K int
	// Stream forwards answer tokens to OnToken as they are generated.
	Stream  bool
	OnToken domain.TokenHandler
}

// Engine wires retrieval to completion.
type Engine struct {
	store     *index.Store
	embedder  domain.Embedder
	completer llm.Completer
	opts      llm.Options
	defaultK  int
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithCompletionOptions sets the sampling options passed to the model.
func WithCompletionOptions(o llm.Options) Option { return func(e *Engine) { e.opts = o } }

func WithDefaultK(k int) Option { return func(e *Engine) { e.defaultK = k } }

// WithLogger sets the logger. Without it the engine logs to the logger carried by the request
// context.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithMetrics(m *metrics.Recorder) Option { return func(e *Engine) { e.metrics = m } }

// New creates an engine. embedder must be the one the index was built with.
func New(store *index.Store, embedder domain.Embedder, completer llm.Completer, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		embedder:  embedder,
		completer: completer,
		defaultK:  DefaultK,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Ask answers req.Question from the k most similar log entries. The index is only held open
// during retrieval, not while the model generates.
func (e *Engine) Ask(ctx context.Context, req Request) (res *domain.RetrievalResult, err error) {
	start := time.Now()
	defer func() { e.metrics.RecordQuery(time.Since(start), err) }()

	sources, err := e.Retrieve(ctx, req.Question, req.K)
	if err != nil {
		return nil, err
	}
	prompt := BuildPrompt(strings.TrimSpace(req.Question), sources)

	var onToken domain.TokenHandler
	if req.Stream {
		onToken = func(tok string) {
			e.metrics.RecordToken()
			if req.OnToken != nil {
				req.OnToken(tok)
			}
		}
	}
	e.log(ctx).Debug("asking model", "backend", e.completer.Name(), "sources", len(sources), "prompt_len", len(prompt))
	answer, err := e.completer.Complete(ctx, prompt, e.opts, onToken)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	e.log(ctx).Info("question answered", "sources", len(sources), "duration", time.Since(start))
	return &domain.RetrievalResult{Answer: answer, Sources: sources}, nil
}

// Retrieve returns the k entries most similar to question, best first. k == 0 selects the engine
// default.
func (e *Engine) Retrieve(ctx context.Context, question string, k int) ([]domain.SearchResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, errors.New("question is empty")
	}
	if k < 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if k == 0 {
		k = e.defaultK
	}

	ix, err := e.store.Load(ctx, index.ModelInfo{Model: e.embedder.Model()}, index.ReadOnly)
	if err != nil {
		if errors.Is(err, domain.ErrIndexNotFound) {
			return nil, fmt.Errorf("%w: run a scan first", err)
		}
		return nil, err
	}
	defer ix.Close()

	query, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	sources, err := ix.Search(query, k)
	if err != nil {
		return nil, err
	}
	e.log(ctx).Debug("retrieved entries", "k", k, "found", len(sources), "index_size", ix.Len())
	return sources, nil
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return logging.FromContext(ctx)
}
