// Package index persists log entries with their embedding vectors in a bbolt file and answers
// nearest-neighbour queries over them.
//
// The bbolt file lock doubles as the advisory lock between operations: a writable handle holds
// it exclusively for its whole lifetime, read-only handles share it.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"lograg/internal/domain"
)

const fileName = "index.db"

// ModelInfo identifies the embedding space of an index. A zero Dimension matches any dimension.
type ModelInfo struct {
	Model     string
	Dimension int
}

// Record pairs a log entry with its embedding.
type Record struct {
	Entry  domain.LogEntry
	Vector []float32
}

// Mode selects how Load opens the index.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Store owns one index directory.
type Store struct {
	dir         string
	lockTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long opening the index waits for another operation's lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithLogger sets the logger used by the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store rooted at dir. Nothing touches the disk until Create or Load.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, lockTimeout: 10 * time.Second, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the index directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path() string { return filepath.Join(s.dir, fileName) }

// Exists reports whether persisted index state is present. Whether it is complete and
// readable is decided by Load.
func (s *Store) Exists() bool {
	fi, err := os.Stat(s.path())
	return err == nil && fi.Size() > 0
}

// Purge deletes all persisted index state. It takes the exclusive lock first, so it fails with
// domain.ErrIndexLocked while another operation has the index open. A file that does not open
// as an index is removed regardless.
func (s *Store) Purge() error {
	if s.Exists() {
		db, err := s.open(context.Background(), false)
		if errors.Is(err, domain.ErrIndexLocked) {
			return err
		}
		if db != nil {
			defer db.Close()
		}
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return errors.Wrapf(err, "purge index %s", s.dir)
	}
	s.logger.Debug("index purged", "dir", s.dir)
	return nil
}

// Create starts a fresh index holding records. The records are kept in memory until Save,
// so an abandoned build leaves no usable index behind.
func (s *Store) Create(ctx context.Context, model ModelInfo, records []Record) (*Index, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no entries to index", domain.ErrIndexCreate)
	}
	if model.Model == "" {
		return nil, fmt.Errorf("%w: embedding model not set", domain.ErrIndexCreate)
	}
	if model.Dimension == 0 {
		model.Dimension = len(records[0].Vector)
	}
	if model.Dimension == 0 {
		return nil, fmt.Errorf("%w: empty embedding vector", domain.ErrIndexCreate)
	}
	if s.Exists() {
		return nil, fmt.Errorf("%w: %s already holds an index, purge it first", domain.ErrIndexCreate, s.dir)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexCreate, errors.Wrapf(err, "create %s", s.dir))
	}
	db, err := s.open(ctx, false)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ix := &Index{
		db:    db,
		model: model,
		meta: meta{
			Version:   formatVersion,
			Model:     model.Model,
			Dimension: model.Dimension,
			Metric:    "cosine",
			State:     stateBuilding,
			CreatedAt: now,
		},
	}
	if err := ix.Add(records); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexCreate, err)
	}
	s.logger.Debug("index created", "dir", s.dir, "model", model.Model, "dimension", model.Dimension)
	return ix, nil
}

// Load opens the persisted index and reads every entry and vector into memory.
func (s *Store) Load(ctx context.Context, model ModelInfo, mode Mode) (*Index, error) {
	if !s.Exists() {
		return nil, fmt.Errorf("%w: nothing at %s", domain.ErrIndexNotFound, s.dir)
	}
	db, err := s.open(ctx, mode == ReadOnly)
	if err != nil {
		return nil, err
	}
	ix := &Index{db: db, readOnly: mode == ReadOnly}
	if err := ix.read(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if ix.meta.Model != model.Model || (model.Dimension != 0 && ix.meta.Dimension != model.Dimension) {
		_ = db.Close()
		return nil, fmt.Errorf("%w: index uses %s (dim %d), embedder is %s (dim %d); rebuild with a scan",
			domain.ErrModelMismatch, ix.meta.Model, ix.meta.Dimension, model.Model, model.Dimension)
	}
	ix.model = ModelInfo{Model: ix.meta.Model, Dimension: ix.meta.Dimension}
	ix.saved = len(ix.entries)
	s.logger.Debug("index loaded", "dir", s.dir, "entries", len(ix.entries), "read_only", ix.readOnly)
	return ix, nil
}

func (s *Store) open(ctx context.Context, readOnly bool) (*bbolt.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := os.FileMode(0o600)
	db, err := bbolt.Open(s.path(), mode, &bbolt.Options{Timeout: s.lockTimeout, ReadOnly: readOnly})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s (waited %s)", domain.ErrIndexLocked, s.path(), s.lockTimeout)
		}
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrIndexCorrupt, s.path(), err)
	}
	return db, nil
}

// Index is an open index handle. Entries and vectors live in memory; Save appends what was
// added since the last Save.
type Index struct {
	mu       sync.RWMutex
	db       *bbolt.DB
	readOnly bool
	model    ModelInfo
	meta     meta
	entries  []domain.LogEntry
	vectors  [][]float32
	saved    int
}

// Model returns the embedding space of the index.
func (ix *Index) Model() ModelInfo { return ix.model }

// Len returns the number of entries, including unsaved ones.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Add appends records without touching existing vectors.
func (ix *Index) Add(records []Record) error {
	if ix.readOnly {
		return errors.New("index opened read-only")
	}
	for i, r := range records {
		if len(r.Vector) != ix.model.Dimension {
			return fmt.Errorf("%w: record %d has dimension %d, index dimension %d",
				domain.ErrModelMismatch, i, len(r.Vector), ix.model.Dimension)
		}
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, r := range records {
		ix.entries = append(ix.entries, r.Entry)
		ix.vectors = append(ix.vectors, r.Vector)
	}
	return nil
}

// Save persists the records added since the last Save in a single transaction and marks the
// index ready. Calling it with nothing pending is a no-op.
func (ix *Index) Save(ctx context.Context) error {
	if ix.readOnly {
		return errors.New("index opened read-only")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.saved == len(ix.entries) && ix.meta.State == stateReady {
		return nil
	}

	m := ix.meta
	m.Count = len(ix.entries)
	m.State = stateReady
	m.UpdatedAt = time.Now().UTC()

	err := ix.db.Update(func(tx *bbolt.Tx) error {
		mb, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		eb, err := tx.CreateBucketIfNotExists(bucketEntries)
		if err != nil {
			return err
		}
		vb, err := tx.CreateBucketIfNotExists(bucketVectors)
		if err != nil {
			return err
		}
		for i := ix.saved; i < len(ix.entries); i++ {
			seq, err := eb.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(ix.entries[i])
			if err != nil {
				return err
			}
			key := encodeKey(seq)
			if err := eb.Put(key, data); err != nil {
				return err
			}
			if err := vb.Put(key, encodeVector(ix.vectors[i])); err != nil {
				return err
			}
		}
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return mb.Put(keyMeta, data)
	})
	if err != nil {
		return errors.Wrap(err, "save index")
	}
	ix.meta = m
	ix.saved = len(ix.entries)
	return nil
}

// Close releases the file and its lock. Unsaved records are discarded.
func (ix *Index) Close() error {
	if ix.db == nil {
		return nil
	}
	err := ix.db.Close()
	ix.db = nil
	return err
}

func (ix *Index) read() error {
	return ix.db.View(func(tx *bbolt.Tx) error {
		mb := tx.Bucket(bucketMeta)
		if mb == nil {
			return fmt.Errorf("%w: incomplete build (no metadata)", domain.ErrIndexNotFound)
		}
		raw := mb.Get(keyMeta)
		if raw == nil {
			return fmt.Errorf("%w: incomplete build (no metadata)", domain.ErrIndexNotFound)
		}
		if err := json.Unmarshal(raw, &ix.meta); err != nil {
			return fmt.Errorf("%w: metadata: %v", domain.ErrIndexCorrupt, err)
		}
		if ix.meta.State != stateReady {
			return fmt.Errorf("%w: incomplete build (state %q)", domain.ErrIndexNotFound, ix.meta.State)
		}
		if ix.meta.Version != formatVersion {
			return fmt.Errorf("%w: unsupported format version %d", domain.ErrIndexCorrupt, ix.meta.Version)
		}
		if ix.meta.Dimension <= 0 {
			return fmt.Errorf("%w: dimension %d", domain.ErrIndexCorrupt, ix.meta.Dimension)
		}

		eb, vb := tx.Bucket(bucketEntries), tx.Bucket(bucketVectors)
		if eb == nil || vb == nil {
			return fmt.Errorf("%w: missing entry buckets", domain.ErrIndexCorrupt)
		}
		ix.entries = make([]domain.LogEntry, 0, ix.meta.Count)
		ix.vectors = make([][]float32, 0, ix.meta.Count)
		err := eb.ForEach(func(k, v []byte) error {
			var e domain.LogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("%w: entry %x: %v", domain.ErrIndexCorrupt, k, err)
			}
			vec, err := decodeVector(vb.Get(k), ix.meta.Dimension)
			if err != nil {
				return fmt.Errorf("%w: entry %x: %v", domain.ErrIndexCorrupt, k, err)
			}
			ix.entries = append(ix.entries, e)
			ix.vectors = append(ix.vectors, vec)
			return nil
		})
		if err != nil {
			return err
		}
		if len(ix.entries) != ix.meta.Count {
			return fmt.Errorf("%w: %d entries on disk, metadata says %d",
				domain.ErrIndexCorrupt, len(ix.entries), ix.meta.Count)
		}
		return nil
	})
}
