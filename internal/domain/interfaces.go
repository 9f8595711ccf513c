package domain

import "context"

// EntryMetadata records where a log entry came from.
type EntryMetadata struct {
	SourceDirectory string `json:"source_directory"`
	FileName        string `json:"file_name"`
}

// LogEntry is one segmented record of a log file. It is never mutated after creation.
type LogEntry struct {
	Text     string        `json:"text"`
	Metadata EntryMetadata `json:"metadata"`
}

// SearchResult represents a matching entry with a similarity score.
type SearchResult struct {
	Entry LogEntry
	Score float64
}

// RetrievalResult is the answer to a single question plus the entries it was grounded on,
// best match first.
type RetrievalResult struct {
	Answer  string
	Sources []SearchResult
}

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	// Model identifies the embedding model. Vectors from different models never share an index.
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenHandler receives streamed completion tokens as they arrive.
type TokenHandler func(token string)
