package dormant

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/krisalay/tiercache/errs"
	"github.com/krisalay/tiercache/logging"
)

// on-disk envelope. Keeping it separate from Record lets the default store
// evolve its file format without touching the public Record type.
type fileRecord[V any] struct {
	Value      V
	Frequency  uint64
	CreatedAt  time.Time
	ModifiedAt time.Time
}

/*
FileStore is the default DormantStore: a single file at a fixed path,
gob-encoded, rewritten whole on every Write. This mirrors the teacher's
preference for the simplest stdlib-backed persistence that does the job —
no schema, no migrations, no external process.

Concurrent access within the process is serialized by mu, held across the
whole file operation, since two goroutines racing a read against a
temp-file-then-rename write could otherwise observe a torn file. Concurrent reads are
additionally deduplicated with singleflight: if a dozen goroutines miss the
dormant tier at once, only one of them actually touches disk, the technique
the teacher uses to deduplicate concurrent loader calls on a cache miss.
*/
type FileStore[V any] struct {
	path      string
	ttl       time.Duration
	log       *logging.Logger
	mu        sync.Mutex
	sf        singleflight.Group
	lastCount int
}

// FileStoreConfig configures the default file-backed store.
type FileStoreConfig struct {
	// Path is the file the mapping is persisted to. If empty, a path under
	// os.UserCacheDir() is used, rather than the teacher's relative,
	// oddly-concatenated default path.
	Path string
	// TTL is the logical dormant-record TTL (dormant_ttl_ms).
	TTL time.Duration
	Log *logging.Logger
}

// NewFileStore constructs a FileStore, defaulting Path if unset.
func NewFileStore[V any](cfg FileStoreConfig) (*FileStore[V], error) {
	path := cfg.Path
	if path == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, errors.Wrap(err, "resolve default dormant store directory")
		}
		path = filepath.Join(dir, "tiercache", "dormant.gob")
	}

	log := cfg.Log
	if log == nil {
		log = logging.Noop()
	}

	return &FileStore[V]{path: path, ttl: cfg.TTL, log: log}, nil
}

// EnsureExists creates the parent directory if it does not already exist.
func (s *FileStore[V]) EnsureExists(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureDirLocked()
}

func (s *FileStore[V]) ensureDirLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create dormant store directory")
	}
	return nil
}

// Read returns the current contents, filtering out anything older than TTL.
// A missing file is not an error: it simply reads as empty.
func (s *FileStore[V]) Read(ctx context.Context) (map[string]Record[V], error) {
	v, err, _ := s.sf.Do("read", func() (any, error) {
		return s.readLocked()
	})
	if err != nil {
		s.log.Warn("dormant file store read failed", zap.String("path", s.path), zap.Error(err))
		return map[string]Record[V]{}, ErrUnavailable
	}
	return v.(map[string]Record[V]), nil
}

func (s *FileStore[V]) readLocked() (map[string]Record[V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.lastCount = 0
		return map[string]Record[V]{}, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDormantUnavailable, "open dormant file")
	}
	defer f.Close()

	var raw map[string]fileRecord[V]
	if err := gob.NewDecoder(f).Decode(&raw); err != nil {
		// A corrupt payload is treated as dormant-unavailable, not fatal:
		// the next successful write will overwrite it.
		return nil, errs.Wrap(err, errs.KindDeserializationError, "decode dormant file")
	}

	now := time.Now()
	out := make(map[string]Record[V], len(raw))
	for k, r := range raw {
		if s.ttl > 0 && now.Sub(r.CreatedAt) >= s.ttl {
			continue
		}
		out[k] = Record[V]{Value: r.Value, Frequency: r.Frequency, CreatedAt: r.CreatedAt, ModifiedAt: r.ModifiedAt}
	}
	s.lastCount = len(out)
	return out, nil
}

// Write persists the full mapping, replacing prior contents. It writes to a
// temp file in the same directory and renames over the target, so a crash
// mid-write cannot leave a half-written file where a good one used to be —
// "atomically enough" for a local cache's durability needs, without
// claiming fsync-grade durability guarantees.
func (s *FileStore[V]) Write(ctx context.Context, records map[string]Record[V]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureDirLocked(); err != nil {
		return err
	}

	raw := make(map[string]fileRecord[V], len(records))
	for k, r := range records {
		raw[k] = fileRecord[V]{Value: r.Value, Frequency: r.Frequency, CreatedAt: r.CreatedAt, ModifiedAt: r.ModifiedAt}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".dormant-*.tmp")
	if err != nil {
		s.log.Warn("dormant file store write failed", zap.String("path", s.path), zap.Error(err))
		return ErrUnavailable
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(raw); err != nil {
		tmp.Close()
		s.log.Warn("dormant file store encode failed", zap.String("path", s.path), zap.Error(err))
		return ErrUnavailable
	}
	if err := tmp.Close(); err != nil {
		s.log.Warn("dormant file store close failed", zap.String("path", s.path), zap.Error(err))
		return ErrUnavailable
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		s.log.Warn("dormant file store rename failed", zap.String("path", s.path), zap.Error(err))
		return ErrUnavailable
	}

	s.lastCount = len(raw)
	return nil
}

// Clear drops all stored records by removing the backing file.
func (s *FileStore[V]) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("dormant file store clear failed", zap.String("path", s.path), zap.Error(err))
		return ErrUnavailable
	}
	s.lastCount = 0
	return nil
}

// Exists reports whether the backing file is present.
func (s *FileStore[V]) Exists(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path)
	return err == nil
}

// IsEmpty forces a read and reports whether it returned no records.
func (s *FileStore[V]) IsEmpty(ctx context.Context) bool {
	m, err := s.Read(ctx)
	return err == nil && len(m) == 0
}

// IsAccessible probes whether the store's directory can be created/stat'd.
func (s *FileStore[V]) IsAccessible(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureDirLocked(); err != nil {
		return false
	}
	return true
}

// Count returns the cardinality observed by the last Read or Write call.
func (s *FileStore[V]) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCount
}
