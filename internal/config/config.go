package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
	Concurrency int    `yaml:"concurrency"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension,omitempty"`
	Normalize *bool                 `yaml:"normalize,omitempty"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ShouldNormalize reports whether vectors are scaled to unit length (cosine similarity).
func (e EmbedderConfig) ShouldNormalize() bool { return e.Normalize == nil || *e.Normalize }

// CompletionOptions are the sampling options passed to the language model.
type CompletionOptions struct {
	Temperature float32 `yaml:"temperature"`
	TopK        int     `yaml:"top_k"`
	TopP        float32 `yaml:"top_p"`
	NumCtx      int     `yaml:"num_ctx"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// LLMConfig selects the completion provider.
type LLMConfig struct {
	Provider    string            `yaml:"provider"`
	Hosts       []string          `yaml:"hosts"`
	Model       string            `yaml:"model"`
	APIKeyEnv   string            `yaml:"api_key_env,omitempty"`
	TimeoutSecs int               `yaml:"timeout_secs"`
	Options     CompletionOptions `yaml:"options"`
}

// IndexConfig configures the on-disk vector index.
type IndexConfig struct {
	LockTimeoutSecs int `yaml:"lock_timeout_secs"`
}

// ScanLocation declares a directory of logs and the pattern that starts each entry.
type ScanLocation struct {
	Location string `yaml:"location"`
	Pattern  string `yaml:"pattern"`
}

// Params are the ingestion parameters of a data source.
type Params struct {
	RecursionDepth int            `yaml:"recursion_depth"`
	FileSizeLimit  string         `yaml:"file_size_limit"`
	ScanLocations  []ScanLocation `yaml:"scan_locations"`
}

// MaxFileBytes returns the parsed file size limit, or 0 when unlimited.
func (p Params) MaxFileBytes() (uint64, error) {
	if p.FileSizeLimit == "" {
		return 0, nil
	}
	if !fileSizeRe.MatchString(p.FileSizeLimit) {
		return 0, fmt.Errorf("file_size_limit %q must be <number><unit>, e.g. 100MB, 1GB", p.FileSizeLimit)
	}
	return humanize.ParseBytes(p.FileSizeLimit)
}

// DataSource groups scan locations with their ingestion limits.
type DataSource struct {
	Type     string `yaml:"type"`
	DSParams Params `yaml:"ds_params"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	NumChunksToReturn int            `yaml:"num_chunks_to_return"`
	Embedder          EmbedderConfig `yaml:"embedder"`
	LLM               LLMConfig      `yaml:"llm"`
	Index             IndexConfig    `yaml:"index"`
	DataSources       []DataSource   `yaml:"data_sources"`
}

// LockTimeout returns the index lock wait as a duration.
func (c *AppConfig) LockTimeout() time.Duration {
	return time.Duration(c.Index.LockTimeoutSecs) * time.Second
}

// DefaultPattern matches ISO-8601 timestamps with milliseconds and offset, as written by
// Spring Boot and most JVM loggers.
const DefaultPattern = `(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}[+-]\d{2}:\d{2})`

var fileSizeRe = regexp.MustCompile(`^\d+(?:KB|MB|GB)$`)

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault reads the config at path, writing the defaults there first when it is missing.
// The returned bool reports whether the file was created.
func LoadDefault(path string) (*AppConfig, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	}
	cfg := DefaultConfig()
	if err := Save(path, cfg); err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultConfig mirrors the stock setup: a local Ollama for completions and local hashed
// embeddings, scanning one placeholder directory.
func DefaultConfig() *AppConfig {
	cfg := &AppConfig{
		NumChunksToReturn: 100,
		Embedder:          EmbedderConfig{Type: "hash"},
		LLM: LLMConfig{
			Provider: "ollama",
			Hosts:    []string{"http://localhost:11434/"},
			Model:    "mistral",
			Options:  CompletionOptions{Temperature: 0, TopK: 10, TopP: 0.3, NumCtx: 3072},
		},
		DataSources: []DataSource{{
			Type: "filesystem",
			DSParams: Params{
				RecursionDepth: 2,
				FileSizeLimit:  "100MB",
				ScanLocations:  []ScanLocation{{Location: "/path/to/logs", Pattern: DefaultPattern}},
			},
		}},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.NumChunksToReturn == 0 {
		cfg.NumChunksToReturn = 100
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hash"
	}
	if cfg.Embedder.Type == "hash" && cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 384
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.BatchSize == 0 {
			o.BatchSize = 32
		}
		if o.Concurrency == 0 {
			o.Concurrency = 2
		}
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
	}
	if cfg.LLM.Provider == "ollama" && len(cfg.LLM.Hosts) == 0 {
		cfg.LLM.Hosts = []string{"http://localhost:11434/"}
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 120
	}
	if cfg.Index.LockTimeoutSecs == 0 {
		cfg.Index.LockTimeoutSecs = 10
	}
}

// Validate checks the configuration for values the core cannot work with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.NumChunksToReturn <= 0 {
		errs = append(errs, fmt.Errorf("num_chunks_to_return must be positive, got %d", c.NumChunksToReturn))
	}
	switch c.Embedder.Type {
	case "hash", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown embedder type %q", c.Embedder.Type))
	}
	if o := c.LLM.Options; o.Temperature < 0 || o.Temperature > 1 {
		errs = append(errs, fmt.Errorf("llm.options.temperature must be within [0, 1], got %v", o.Temperature))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	for i, ds := range c.DataSources {
		if ds.Type != "filesystem" {
			errs = append(errs, fmt.Errorf("data_sources[%d]: unsupported type %q", i, ds.Type))
		}
		if ds.DSParams.RecursionDepth < 0 {
			errs = append(errs, fmt.Errorf("data_sources[%d]: recursion_depth must be >= 0", i))
		}
		if _, err := ds.DSParams.MaxFileBytes(); err != nil {
			errs = append(errs, fmt.Errorf("data_sources[%d]: %w", i, err))
		}
		for j, sl := range ds.DSParams.ScanLocations {
			if sl.Location == "" {
				errs = append(errs, fmt.Errorf("data_sources[%d].scan_locations[%d]: location is required", i, j))
			}
			if _, err := regexp.Compile(sl.Pattern); err != nil || sl.Pattern == "" {
				errs = append(errs, fmt.Errorf("data_sources[%d].scan_locations[%d]: invalid pattern %q", i, j, sl.Pattern))
			}
		}
	}
	return errors.Join(errs...)
}
