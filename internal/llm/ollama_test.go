package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lograg/internal/domain"
	"lograg/internal/logging"
)

func ollamaServer(t *testing.T, tokens []string, seen *generateRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if seen != nil {
			*seen = req
		}
		enc := json.NewEncoder(w)
		if !req.Stream {
			full := ""
			for _, tok := range tokens {
				full += tok
			}
			_ = enc.Encode(generateChunk{Response: full, Done: true})
			return
		}
		for _, tok := range tokens {
			_ = enc.Encode(generateChunk{Response: tok})
			w.(http.Flusher).Flush()
		}
		_ = enc.Encode(generateChunk{Done: true})
	}))
}

func newTestOllama(t *testing.T, hosts ...string) *Ollama {
	t.Helper()
	o, err := NewOllama(Config{Hosts: hosts, Model: "mistral", Timeout: 5 * time.Second, Logger: logging.Discard()})
	require.NoError(t, err)
	return o
}

func TestOllama_CompleteSendsOptions(t *testing.T) {
	var seen generateRequest
	srv := ollamaServer(t, []string{"The ", "answer."}, &seen)
	defer srv.Close()

	o := newTestOllama(t, srv.URL+"/")
	got, err := o.Complete(context.Background(), "prompt text",
		Options{Temperature: 0, TopK: 10, TopP: 0.3, NumCtx: 3072}, nil)
	require.NoError(t, err)

	assert.Equal(t, "The answer.", got)
	assert.Equal(t, "mistral", seen.Model)
	assert.Equal(t, "prompt text", seen.Prompt)
	assert.False(t, seen.Stream)
	assert.Equal(t, 10, seen.Options.TopK)
	assert.InDelta(t, 0.3, seen.Options.TopP, 1e-6)
	assert.Equal(t, 3072, seen.Options.NumCtx)
}

func TestOllama_Stream(t *testing.T) {
	srv := ollamaServer(t, []string{"Pay", "ment ", "failed"}, nil)
	defer srv.Close()

	var tokens []string
	got, err := newTestOllama(t, srv.URL).Complete(context.Background(), "q", Options{},
		func(tok string) { tokens = append(tokens, tok) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Pay", "ment ", "failed"}, tokens)
	assert.Equal(t, "Payment failed", got)
}

func TestOllama_PicksAmongHosts(t *testing.T) {
	var hits [2]int
	var servers []string
	for i := range hits {
		i := i
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits[i]++
			_ = json.NewEncoder(w).Encode(generateChunk{Response: fmt.Sprint(i), Done: true})
		}))
		defer srv.Close()
		servers = append(servers, srv.URL)
	}

	o := newTestOllama(t, servers...)
	next := 0
	o.pick = func(n int) int { next = (next + 1) % n; return next }
	for i := 0; i < 4; i++ {
		_, err := o.Complete(context.Background(), "q", Options{}, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, [2]int{2, 2}, hits)
}

func TestOllama_Errors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `model "mistral" not found`, http.StatusNotFound)
		}))
		defer srv.Close()
		_, err := newTestOllama(t, srv.URL).Complete(context.Background(), "q", Options{}, nil)
		assert.ErrorIs(t, err, domain.ErrCompletionUnavailable)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("error in stream", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(generateChunk{Response: "par"})
			_ = json.NewEncoder(w).Encode(generateChunk{Error: "out of memory"})
		}))
		defer srv.Close()
		_, err := newTestOllama(t, srv.URL).Complete(context.Background(), "q", Options{}, func(string) {})
		assert.ErrorIs(t, err, domain.ErrCompletionUnavailable)
	})

	t.Run("stream ends before done", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(generateChunk{Response: "The disk "})
		}))
		defer srv.Close()
		_, err := newTestOllama(t, srv.URL).Complete(context.Background(), "q", Options{}, func(string) {})
		assert.ErrorIs(t, err, domain.ErrCompletionUnavailable)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := newTestOllama(t, url).Complete(context.Background(), "q", Options{}, nil)
		assert.ErrorIs(t, err, domain.ErrCompletionUnavailable)
	})
}

func TestOllama_CanceledStopsForwarding(t *testing.T) {
	srv := ollamaServer(t, []string{"a", "b", "c", "d"}, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var tokens []string
	_, err := newTestOllama(t, srv.URL).Complete(ctx, "q", Options{}, func(tok string) {
		tokens = append(tokens, tok)
		cancel()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, tokens)
}

func TestNew(t *testing.T) {
	c, err := New(Config{Provider: "ollama", Model: "mistral"})
	require.NoError(t, err)
	assert.IsType(t, &Ollama{}, c)

	c, err = New(Config{Provider: "deepseek", Model: "deepseek-chat", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, c)
	assert.Implements(t, (*ToolCaller)(nil), c)

	_, err = New(Config{Provider: "openai", Model: "gpt-4o-mini"})
	assert.Error(t, err, "hosted provider without a key")

	_, err = New(Config{Provider: "my-vllm", Model: "m"})
	assert.Error(t, err, "unknown provider without a base URL")

	_, err = New(Config{Provider: "ollama"})
	assert.Error(t, err, "model is required")
}
