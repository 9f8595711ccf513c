package scanner

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// SkippedFile is a file left out of the index, with the reason.
type SkippedFile struct {
	Path   string
	Reason string
}

// Warning is a non-fatal problem with a file that was read, such as a delimiter pattern that
// never matched.
type Warning struct {
	Path    string
	Message string
}

// LocationError is a scan location that could not be scanned at all.
type LocationError struct {
	Location string
	Err      error
}

// Report describes one scan.
type Report struct {
	ID uuid.UUID
	// Reused is set when an existing index satisfied a non-forced scan.
	Reused bool
	// Rebuilt is set when an existing index was purged and built again.
	Rebuilt bool
	// IndexCreated is false when no entries were found, in which case no index exists.
	IndexCreated bool

	FilesProcessed int
	EntriesIndexed int
	Skipped        []SkippedFile
	Warnings       []Warning
	LocationErrors []LocationError
	Duration       time.Duration
}

func (r *Report) skip(path, format string, args ...any) {
	r.Skipped = append(r.Skipped, SkippedFile{Path: path, Reason: fmt.Sprintf(format, args...)})
}

// Summary renders the report for people.
func (r *Report) Summary() string {
	var b strings.Builder
	switch {
	case r.Reused:
		fmt.Fprintf(&b, "Index already exists with %s entries; use --force to rebuild.\n", humanize.Comma(int64(r.EntriesIndexed)))
	case !r.IndexCreated:
		b.WriteString("No log entries found; no index was created.\n")
	default:
		verb := "Indexed"
		if r.Rebuilt {
			verb = "Rebuilt index with"
		}
		fmt.Fprintf(&b, "%s %s entries from %s files in %s.\n", verb,
			humanize.Comma(int64(r.EntriesIndexed)), humanize.Comma(int64(r.FilesProcessed)),
			r.Duration.Round(time.Millisecond))
	}
	for _, s := range r.Skipped {
		fmt.Fprintf(&b, "  skipped %s: %s\n", s.Path, s.Reason)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "  warning %s: %s\n", w.Path, w.Message)
	}
	for _, e := range r.LocationErrors {
		fmt.Fprintf(&b, "  location %s: %v\n", e.Location, e.Err)
	}
	return b.String()
}
