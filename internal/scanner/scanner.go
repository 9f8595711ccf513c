// Package scanner builds the index from the configured log locations.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"lograg/internal/config"
	"lograg/internal/domain"
	"lograg/internal/index"
	"lograg/internal/logging"
	"lograg/internal/metrics"
	"lograg/internal/segment"
)

// Scanner walks data sources, segments and embeds every log file, and persists the index.
type Scanner struct {
	store     *index.Store
	embedder  domain.Embedder
	segmenter *segment.Segmenter
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger. Without it Scan logs to the logger carried by its context.
func WithLogger(l *slog.Logger) Option { return func(s *Scanner) { s.logger = l } }

func WithMetrics(m *metrics.Recorder) Option { return func(s *Scanner) { s.metrics = m } }

func New(store *index.Store, embedder domain.Embedder, opts ...Option) *Scanner {
	s := &Scanner{
		store:     store,
		embedder:  embedder,
		segmenter: segment.NewSegmenter(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan makes sure an index over sources exists. Without force an existing, compatible index is
// kept as is. With force, or when the existing index is incomplete, corrupt or built with another
// embedding model, it is purged and built from scratch.
//
// Files and locations that cannot be read are reported and skipped. Embedding and persistence
// failures abort the scan and leave no index behind.
func (s *Scanner) Scan(ctx context.Context, sources []config.DataSource, force bool) (*Report, error) {
	start := time.Now()
	report := &Report{ID: uuid.New()}
	log := s.logger
	if log == nil {
		log = logging.FromContext(ctx)
	}
	log = log.With("scan_id", report.ID.String())

	if s.store.Exists() {
		if !force {
			n, err := s.existing(ctx)
			switch {
			case err == nil:
				report.Reused = true
				report.EntriesIndexed = n
				report.Duration = time.Since(start)
				log.Info("index exists, skipping scan", "entries", n)
				s.metrics.RecordScan("reused", 0, report.Duration)
				return report, nil
			case errors.Is(err, domain.ErrIndexLocked), ctx.Err() != nil:
				return nil, err
			default:
				log.Warn("existing index unusable, rebuilding", "err", err)
			}
		}
		if err := s.store.Purge(); err != nil {
			return nil, err
		}
		report.Rebuilt = true
	}

	err := s.build(ctx, log, sources, report)
	report.Duration = time.Since(start)
	if err != nil {
		s.metrics.RecordScan("failed", 0, report.Duration)
		return report, err
	}
	s.metrics.RecordScan("built", report.EntriesIndexed, report.Duration)
	log.Info("scan finished",
		"files", report.FilesProcessed,
		"entries", report.EntriesIndexed,
		"skipped", len(report.Skipped),
		"warnings", len(report.Warnings),
		"location_errors", len(report.LocationErrors),
		"duration", report.Duration)
	return report, nil
}

func (s *Scanner) existing(ctx context.Context) (int, error) {
	ix, err := s.store.Load(ctx, index.ModelInfo{Model: s.embedder.Model()}, index.ReadOnly)
	if err != nil {
		return 0, err
	}
	defer ix.Close()
	return ix.Len(), nil
}

// build runs a full build. The index is created lazily from the first file that yields entries
// and saved once at the end.
func (s *Scanner) build(ctx context.Context, log *slog.Logger, sources []config.DataSource, report *Report) (err error) {
	b := &builder{Scanner: s, log: log, report: report}
	defer func() {
		if b.ix != nil {
			if err == nil {
				err = b.ix.Save(ctx)
			}
			if cerr := b.ix.Close(); err == nil {
				err = cerr
			}
		}
		if err != nil && s.store.Exists() {
			report.IndexCreated = false
			if perr := s.store.Purge(); perr != nil {
				log.Error("failed to remove partial index", "err", perr)
			}
		}
	}()

	for _, ds := range sources {
		maxBytes, err := ds.DSParams.MaxFileBytes()
		if err != nil {
			return err
		}
		for _, loc := range ds.DSParams.ScanLocations {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := b.location(ctx, loc, ds.DSParams.RecursionDepth, maxBytes); err != nil {
				var locErr *locationError
				if errors.As(err, &locErr) {
					log.Warn("scan location failed", "location", loc.Location, "err", locErr.err)
					report.LocationErrors = append(report.LocationErrors, LocationError{Location: loc.Location, Err: locErr.err})
					continue
				}
				return err
			}
		}
	}
	if b.ix == nil {
		log.Info("no log entries found, index not created")
	}
	return nil
}

// locationError marks failures that only affect one scan location.
type locationError struct{ err error }

func (e *locationError) Error() string { return e.err.Error() }

type builder struct {
	*Scanner
	log    *slog.Logger
	report *Report
	ix     *index.Index
}

func (b *builder) location(ctx context.Context, loc config.ScanLocation, maxDepth int, maxBytes uint64) error {
	if _, err := b.segmenter.Compile(loc.Pattern); err != nil {
		return &locationError{err}
	}
	fi, err := os.Stat(loc.Location)
	if err != nil {
		return &locationError{err}
	}
	if !fi.IsDir() {
		return &locationError{fmt.Errorf("%s is not a directory", loc.Location)}
	}
	b.log.Debug("scanning location", "location", loc.Location, "pattern", loc.Pattern, "depth", maxDepth)

	err = walkFiles(loc.Location, maxDepth,
		func(path string, d fs.DirEntry) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return b.file(ctx, path, d, loc.Pattern, maxBytes)
		},
		func(path string, err error) {
			b.report.skip(path, "unreadable: %v", err)
			b.metrics.RecordFile(metrics.FileSkipped)
		})
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) && pathErr.Path == loc.Location {
			return &locationError{err}
		}
	}
	return err
}

func (b *builder) file(ctx context.Context, path string, d fs.DirEntry, pattern string, maxBytes uint64) error {
	if isArtifact(d.Name()) {
		return nil
	}
	// Stat follows symlinks; a dangling one fails here.
	fi, err := os.Stat(path)
	if err != nil {
		b.skip(path, "unreadable: %v", err)
		return nil
	}
	if !fi.Mode().IsRegular() {
		b.skip(path, "not a regular file")
		return nil
	}
	if maxBytes > 0 && uint64(fi.Size()) > maxBytes {
		b.skip(path, "size %s exceeds limit %s", humanize.Bytes(uint64(fi.Size())), humanize.Bytes(maxBytes))
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		b.skip(path, "unreadable: %v", err)
		return nil
	}

	entries, err := b.segmenter.Entries(string(data), pattern, path)
	if err != nil {
		if errors.Is(err, domain.ErrNoDelimiterMatch) {
			b.log.Warn("delimiter pattern matched nothing", "file", path, "pattern", pattern)
			b.report.Warnings = append(b.report.Warnings, Warning{Path: path, Message: err.Error()})
			b.metrics.RecordFile(metrics.FileNoMatch)
			return nil
		}
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	vectors, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", path, err)
	}
	records := make([]index.Record, len(entries))
	for i := range entries {
		records[i] = index.Record{Entry: entries[i], Vector: vectors[i]}
	}

	if b.ix == nil {
		b.ix, err = b.store.Create(ctx, index.ModelInfo{Model: b.embedder.Model()}, records)
		if err != nil {
			return err
		}
		b.report.IndexCreated = true
	} else if err := b.ix.Add(records); err != nil {
		return err
	}

	b.report.FilesProcessed++
	b.report.EntriesIndexed += len(records)
	b.metrics.RecordFile(metrics.FileIndexed)
	b.log.Debug("file indexed", "file", path, "entries", len(records))
	return nil
}

func (b *builder) skip(path, format string, args ...any) {
	b.report.skip(path, format, args...)
	b.metrics.RecordFile(metrics.FileSkipped)
	b.log.Warn("file skipped", "file", path, "reason", b.report.Skipped[len(b.report.Skipped)-1].Reason)
}
