package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lograg/internal/domain"
	"lograg/internal/logging"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewOpenAI(Config{
		Provider: "openai",
		Hosts:    []string{srv.URL},
		Model:    "gpt-4o-mini",
		Timeout:  5 * time.Second,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	return c
}

func TestOpenAI_Complete(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"No errors were logged."},"finish_reason":"stop"}]}`)
	})

	got, err := c.Complete(context.Background(), "q", Options{Temperature: 0.2}, nil)
	require.NoError(t, err)
	assert.Equal(t, "No errors were logged.", got)
}

func TestOpenAI_ZeroTemperatureIsSent(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		temp, ok := req["temperature"]
		require.True(t, ok, "temperature must be in the request")
		assert.InDelta(t, 0, temp, 1e-9)
		assert.InDelta(t, 0.3, req["top_p"], 1e-6)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	})

	_, err := c.Complete(context.Background(), "q", Options{Temperature: 0, TopP: 0.3}, nil)
	require.NoError(t, err)
}

func TestOpenAI_Stream(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Disk ", "is ", "full"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var tokens []string
	got, err := c.Complete(context.Background(), "q", Options{}, func(tok string) { tokens = append(tokens, tok) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Disk ", "is ", "full"}, tokens)
	assert.Equal(t, "Disk is full", got)
}

func TestOpenAI_CompleteWithTools(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tools []struct {
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tools"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "search_logs", req.Tools[0].Function.Name)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"search_logs","arguments":"{\"severity\":\"ERROR\"}"}}]},"finish_reason":"tool_calls"}]}`)
	})

	_, calls, err := c.CompleteWithTools(context.Background(), "q", Options{}, []ToolDescriptor{
		{Name: "search_logs", Description: "search", Parameters: `{"type":"object","properties":{}}`},
	})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "search_logs", Arguments: `{"severity":"ERROR"}`}, calls[0])
}

func TestOpenAI_ErrorIsUnavailable(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	})

	_, err := c.Complete(context.Background(), "q", Options{}, nil)
	assert.ErrorIs(t, err, domain.ErrCompletionUnavailable)
	assert.Contains(t, err.Error(), "openai/gpt-4o-mini")
}
