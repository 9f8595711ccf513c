package domain

import "errors"

var (
	// ErrNoDelimiterMatch is a segmentation warning: the pattern never matched the file content.
	ErrNoDelimiterMatch = errors.New("delimiter pattern matched nothing")
	// ErrInvalidPattern reports a delimiter pattern that does not compile.
	ErrInvalidPattern = errors.New("invalid delimiter pattern")

	ErrEmbeddingUnavailable  = errors.New("embedding backend unavailable")
	ErrCompletionUnavailable = errors.New("completion backend unavailable")

	ErrIndexNotFound = errors.New("index not found")
	ErrIndexCorrupt  = errors.New("index corrupt")
	ErrIndexCreate   = errors.New("cannot create index")
	ErrIndexLocked   = errors.New("index is locked by another operation")
	// ErrModelMismatch means the index was built with a different embedding model or dimension.
	ErrModelMismatch = errors.New("index was built with a different embedding model")
)
