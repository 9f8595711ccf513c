package main

import (
	"errors"

	"lograg/internal/domain"
)

// hint suggests what to do about a failed command.
func hint(err error) string {
	switch {
	case errors.Is(err, domain.ErrIndexNotFound):
		return "Hint: run `lograg scan` to build the index from data_sources in your config."
	case errors.Is(err, domain.ErrIndexLocked):
		return "Hint: another lograg command is using the index. Wait for it to finish or raise index.lock_timeout_secs."
	case errors.Is(err, domain.ErrModelMismatch):
		return "Hint: the embedding settings changed since the index was built. Run `lograg scan --force`."
	case errors.Is(err, domain.ErrIndexCorrupt):
		return "Hint: the index cannot be read. Run `lograg scan --force` to rebuild it."
	case errors.Is(err, domain.ErrIndexCreate):
		return "Hint: check that the data directory is writable."
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return "Hint: check the embedder settings and that the embedding service is reachable."
	case errors.Is(err, domain.ErrCompletionUnavailable):
		return "Hint: check llm.hosts and that the model is available there (for Ollama: `ollama pull <model>`)."
	}
	return ""
}
