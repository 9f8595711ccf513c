package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lograg/internal/domain"
)

func TestRecorder(t *testing.T) {
	r := New(DefaultConfig())

	r.RecordFile(FileIndexed)
	r.RecordFile(FileIndexed)
	r.RecordFile(FileSkipped)
	r.RecordScan("built", 12, 300*time.Millisecond)
	r.RecordQuery(time.Second, nil)
	r.RecordQuery(time.Second, fmt.Errorf("ask: %w", domain.ErrIndexNotFound))
	r.RecordToken()
	r.RecordToken()
	r.RecordToolCall("search_logs", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.scanFiles.WithLabelValues(FileIndexed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.scanFiles.WithLabelValues(FileSkipped)))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.scanEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.queryErrors.WithLabelValues("index_not_found")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.streamedTokens))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.toolCalls.WithLabelValues("search_logs", "success")))
}

func TestRecorderNilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordFile(FileIndexed)
		r.RecordScan("built", 1, time.Second)
		r.RecordQuery(time.Second, errors.New("x"))
		r.RecordToken()
		r.RecordToolCall("ask_logs", false)
	})
}

func TestRecorderHandler(t *testing.T) {
	r := New(DefaultConfig())
	r.RecordScan("reused", 0, 10*time.Millisecond)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "lograg_scan_duration_seconds")
	assert.Contains(t, string(body), `outcome="reused"`)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", domain.ErrIndexCorrupt), "index_corrupt"},
		{domain.ErrIndexLocked, "index_locked"},
		{domain.ErrModelMismatch, "model_mismatch"},
		{domain.ErrEmbeddingUnavailable, "embedding_unavailable"},
		{fmt.Errorf("ollama: %w", domain.ErrCompletionUnavailable), "completion_unavailable"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), tt.err.Error())
	}
}
