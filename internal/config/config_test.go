package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
num_chunks_to_return: 20
llm:
  provider: ollama
  hosts: ["http://gpu-1:11434/", "http://gpu-2:11434/"]
  model: mistral
  options:
    temperature: 0
    top_k: 10
    top_p: 0.3
    num_ctx: 3072
data_sources:
  - type: filesystem
    ds_params:
      recursion_depth: 1
      file_size_limit: 5MB
      scan_locations:
        - location: /var/log/app
          pattern: '(\d{4}-\d{2}-\d{2})'
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.NumChunksToReturn)
	assert.Equal(t, "hash", cfg.Embedder.Type, "embedder defaults to local hashing")
	assert.Equal(t, 384, cfg.Embedder.Dimension)
	assert.True(t, cfg.Embedder.ShouldNormalize())
	assert.Len(t, cfg.LLM.Hosts, 2)
	assert.Equal(t, 10*time.Second, cfg.LockTimeout())

	require.Len(t, cfg.DataSources, 1)
	p := cfg.DataSources[0].DSParams
	assert.Equal(t, 1, p.RecursionDepth)
	n, err := p.MaxFileBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000), n)
	assert.Equal(t, "/var/log/app", p.ScanLocations[0].Location)
}

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadDefaultWritesFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, created, err := LoadDefault(p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.FileExists(t, p)

	again, created, err := LoadDefault(p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cfg, again)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		errMsg string
	}{
		{"defaults ok", func(*AppConfig) {}, ""},
		{"temperature too high", func(c *AppConfig) { c.LLM.Options.Temperature = 1.5 }, "temperature"},
		{"bad size unit", func(c *AppConfig) { c.DataSources[0].DSParams.FileSizeLimit = "100 megabytes" }, "file_size_limit"},
		{"lowercase unit", func(c *AppConfig) { c.DataSources[0].DSParams.FileSizeLimit = "100mb" }, "file_size_limit"},
		{"negative depth", func(c *AppConfig) { c.DataSources[0].DSParams.RecursionDepth = -1 }, "recursion_depth"},
		{"bad pattern", func(c *AppConfig) { c.DataSources[0].DSParams.ScanLocations[0].Pattern = "(" }, "invalid pattern"},
		{"unknown source", func(c *AppConfig) { c.DataSources[0].Type = "s3" }, "unsupported type"},
		{"unknown embedder", func(c *AppConfig) { c.Embedder.Type = "word2vec" }, "embedder"},
		{"k must be positive", func(c *AppConfig) { c.NumChunksToReturn = -3 }, "num_chunks_to_return"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestOpenAIEmbedderDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "embedder:\n  type: openai\nllm:\n  model: gpt-4o-mini\n  provider: openai\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Empty(t, cfg.LLM.Hosts, "openai provider does not get an ollama host")
}

func TestSaveRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.NumChunksToReturn = 7
	require.NoError(t, Save(p, cfg))

	loaded, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
