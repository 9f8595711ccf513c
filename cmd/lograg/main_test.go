package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lograg/internal/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// setup writes a config pointing at a log directory and a fake Ollama server.
func setup(t *testing.T) (dataDir, cfgPath string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		enc := json.NewEncoder(w)
		if req.Stream {
			_ = enc.Encode(map[string]any{"response": "The gateway "})
			_ = enc.Encode(map[string]any{"response": "timed out."})
			_ = enc.Encode(map[string]any{"done": true})
			return
		}
		_ = enc.Encode(map[string]any{"response": "The gateway timed out.", "done": true})
	}))
	t.Cleanup(srv.Close)

	logs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(logs, "app.log"), []byte(
		"2024-03-01T10:00:00.000+00:00 ERROR payment gateway timeout\n"+
			"2024-03-01T10:00:01.000+00:00 INFO user alice logged in\n"), 0o644))

	dataDir = t.TempDir()
	cfgPath = filepath.Join(dataDir, "lograg.yaml")
	cfg := fmt.Sprintf(`num_chunks_to_return: 5
llm:
  provider: ollama
  hosts: [%q]
  model: mistral
data_sources:
  - type: filesystem
    ds_params:
      recursion_depth: 0
      file_size_limit: 10MB
      scan_locations:
        - location: %q
          pattern: '\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}[+-]\d{2}:\d{2}'
`, srv.URL, logs)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return dataDir, cfgPath
}

func TestShowConfigWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "show-config", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "num_chunks_to_return: 100")
	assert.Contains(t, out, filepath.Join(dir, "config.yaml"))
	assert.FileExists(t, filepath.Join(dir, "config.yaml"))
}

func TestAskBeforeScan(t *testing.T) {
	dataDir, cfgPath := setup(t)
	_, err := execute(t, "ask", "--data-dir", dataDir, "--config", cfgPath, "what failed?")
	require.ErrorIs(t, err, domain.ErrIndexNotFound)
	assert.Contains(t, hint(err), "lograg scan")
}

func TestScanThenAsk(t *testing.T) {
	dataDir, cfgPath := setup(t)
	flags := []string{"--data-dir", dataDir, "--config", cfgPath}

	out, err := execute(t, append([]string{"scan"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 2 entries from 1 files")

	out, err = execute(t, append([]string{"ask", "why", "did", "payment", "fail?"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "The gateway timed out.\n")
	assert.Contains(t, out, "Sources (2):")
	assert.Contains(t, out, "app.log: 2024-03-01T10:00:00.000+00:00 ERROR payment gateway timeout")

	out, err = execute(t, append([]string{"ask", "--stream", "-k", "1", "payment?"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "The gateway timed out.\n")
	assert.Contains(t, out, "Sources (1):")
}

func TestScanWithoutForceReusesIndex(t *testing.T) {
	dataDir, cfgPath := setup(t)
	flags := []string{"--data-dir", dataDir, "--config", cfgPath}

	_, err := execute(t, append([]string{"scan"}, flags...)...)
	require.NoError(t, err)
	out, err := execute(t, append([]string{"scan", "--force=false"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Index already exists with 2 entries")
}

func TestHint(t *testing.T) {
	for _, err := range []error{
		domain.ErrIndexLocked,
		domain.ErrModelMismatch,
		domain.ErrIndexCorrupt,
		domain.ErrEmbeddingUnavailable,
		fmt.Errorf("ask: %w", domain.ErrCompletionUnavailable),
	} {
		assert.NotEmpty(t, hint(err), err.Error())
	}
	assert.Empty(t, hint(io.EOF))
}
