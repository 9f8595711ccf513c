package segment

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"lograg/internal/domain"
)

// Segment splits content into log entries. Each entry starts with the delimiter match that
// introduced it and runs up to the next match, so multi-line records such as stack traces stay
// together. Text before the first match belongs to no entry and is dropped.
// When the pattern never matches, Segment returns no entries and domain.ErrNoDelimiterMatch.
func Segment(content, pattern string) ([]string, error) {
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	return split(re, content)
}

func split(re *regexp.Regexp, content string) ([]string, error) {
	matches := re.FindAllStringIndex(content, -1)
	if len(matches) == 0 {
		return nil, domain.ErrNoDelimiterMatch
	}
	entries := make([]string, 0, len(matches))
	for i, m := range matches {
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		entries = append(entries, content[m[0]:end])
	}
	return entries, nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", domain.ErrInvalidPattern)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", domain.ErrInvalidPattern, pattern, err)
	}
	return re, nil
}

// Segmenter turns file contents into LogEntry values, caching compiled delimiter patterns.
type Segmenter struct {
	patterns sync.Map // pattern -> *regexp.Regexp
}

func NewSegmenter() *Segmenter { return &Segmenter{} }

// Compile validates a pattern and keeps it for later Entries calls.
func (s *Segmenter) Compile(pattern string) (*regexp.Regexp, error) {
	if v, ok := s.patterns.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	s.patterns.Store(pattern, re)
	return re, nil
}

// Entries segments the content of the file at path. Entry text is trimmed of surrounding
// whitespace; entries that are blank after trimming are dropped.
func (s *Segmenter) Entries(content, pattern, path string) ([]domain.LogEntry, error) {
	re, err := s.Compile(pattern)
	if err != nil {
		return nil, err
	}
	raw, err := split(re, content)
	if err != nil {
		return nil, err
	}
	meta := domain.EntryMetadata{
		SourceDirectory: filepath.Dir(path),
		FileName:        filepath.Base(path),
	}
	entries := make([]domain.LogEntry, 0, len(raw))
	for _, r := range raw {
		text := strings.TrimSpace(r)
		if text == "" {
			continue
		}
		entries = append(entries, domain.LogEntry{Text: text, Metadata: meta})
	}
	return entries, nil
}
