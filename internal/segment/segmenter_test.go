package segment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lograg/internal/domain"
)

const isoPattern = `(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}[+-]\d{2}:\d{2})`

const springLog = `2024-06-14T11:05:48.406+05:30 DEBUG [app-service] Running with Spring Boot v3.1.5
2024-06-14T11:05:49.102+05:30  WARN [app-service] Config file not specified.
java.lang.IllegalStateException: no config at /app/data/cfg.ini
2024-06-14T11:05:49.233+05:30  WARN [app-service] Starting application...
`

func TestSegment_MultiLineEntryStaysTogether(t *testing.T) {
	entries, err := Segment(springLog, isoPattern)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.True(t, strings.HasPrefix(entries[1], "2024-06-14T11:05:49.102+05:30"))
	assert.Equal(t, 2, len(strings.Split(strings.TrimSpace(entries[1]), "\n")))
	assert.Contains(t, entries[1], "IllegalStateException")
}

func TestSegment_RejoinReproducesContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pattern string
	}{
		{"timestamps", springLog, isoPattern},
		{"preamble dropped", "header line\n" + springLog, isoPattern},
		{"levels", "INFO a\nERROR b\n  at x\nINFO c", `(INFO|ERROR)`},
		{"line starts", "one\ntwo\nthree\n", `(?m)^`},
		{"no trailing newline", "[1] a[2] b", `\[\d\]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Segment(tt.content, tt.pattern)
			require.NoError(t, err)

			first := strings.Index(tt.content, entries[0])
			require.GreaterOrEqual(t, first, 0)
			assert.Equal(t, tt.content[first:], strings.Join(entries, ""))
		})
	}
}

func TestSegment_NoMatchIsWarning(t *testing.T) {
	entries, err := Segment("plain text without timestamps", isoPattern)
	assert.Empty(t, entries)
	assert.ErrorIs(t, err, domain.ErrNoDelimiterMatch)
}

func TestSegment_InvalidPattern(t *testing.T) {
	_, err := Segment("x", `(unclosed`)
	assert.ErrorIs(t, err, domain.ErrInvalidPattern)

	_, err = Segment("x", "")
	assert.ErrorIs(t, err, domain.ErrInvalidPattern)
}

func TestSegmenter_EntriesCarryProvenance(t *testing.T) {
	s := NewSegmenter()
	entries, err := s.Entries(springLog, isoPattern, "/var/log/app/service.log")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for _, e := range entries {
		assert.Equal(t, "/var/log/app", e.Metadata.SourceDirectory)
		assert.Equal(t, "service.log", e.Metadata.FileName)
		assert.Equal(t, strings.TrimSpace(e.Text), e.Text)
	}
	assert.Equal(t,
		"2024-06-14T11:05:49.102+05:30  WARN [app-service] Config file not specified.\njava.lang.IllegalStateException: no config at /app/data/cfg.ini",
		entries[1].Text)
}

func TestSegmenter_CompileCaches(t *testing.T) {
	s := NewSegmenter()
	a, err := s.Compile(isoPattern)
	require.NoError(t, err)
	b, err := s.Compile(isoPattern)
	require.NoError(t, err)
	assert.Same(t, a, b)
}
