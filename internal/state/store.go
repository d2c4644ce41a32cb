package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"gapwatch/internal/metrics"
)

// ErrCorrupt marks a state file that could not be decoded.
var ErrCorrupt = errors.New("state: corrupt monitor document")

// Store owns the MonitorState file. All mutations go through Update, which serializes
// read-modify-write and replaces the file via rename. Writers in other processes are
// excluded by an advisory lock on path + ".lock".
type Store struct {
	path      string
	mu        sync.Mutex
	fileLock  *flock.Flock
	logger    zerolog.Logger
	now       func() time.Time
	recovered atomic.Int64
}

// NewStore binds a Store to path. The file is created on first write.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{
		path:     path,
		fileLock: flock.New(path + ".lock"),
		logger:   logger.With().Str("component", "state_store").Str("path", path).Logger(),
		now:      time.Now,
	}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Recovered reports how many times a corrupt document was replaced with an empty one.
func (s *Store) Recovered() int64 { return s.recovered.Load() }

// Load reads the current document. A missing file yields an empty state; a corrupt file
// yields an empty state and is logged.
func (s *Store) Load() (MonitorState, error) {
	return s.read()
}

// Update applies fn to the freshly loaded document and writes the result. fn's error aborts
// the write.
func (s *Store) Update(fn func(*MonitorState) error) (MonitorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockFile()
	if err != nil {
		return MonitorState{}, err
	}
	defer unlock()

	current, err := s.read()
	if err != nil {
		return MonitorState{}, err
	}
	if err := fn(&current); err != nil {
		return MonitorState{}, err
	}

	ts := s.now().UTC()
	current.LastUpdate = &ts
	if err := s.write(current); err != nil {
		return MonitorState{}, err
	}
	return current.clone(), nil
}

// Save replaces the document wholesale.
func (s *Store) Save(doc MonitorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockFile()
	if err != nil {
		return err
	}
	defer unlock()
	return s.write(doc)
}

// lockFile blocks until this process holds the cross-process write lock.
func (s *Store) lockFile() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if err := s.fileLock.Lock(); err != nil {
		return nil, fmt.Errorf("lock state file: %w", err)
	}
	return func() {
		if err := s.fileLock.Unlock(); err != nil {
			s.logger.Warn().Err(err).Msg("unlock state file failed")
		}
	}, nil
}

func (s *Store) read() (MonitorState, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Empty(), nil
		}
		return MonitorState{}, fmt.Errorf("read state file: %w", err)
	}

	doc, err := Decode(payload)
	if err != nil {
		s.recovered.Add(1)
		metrics.StateRecoveriesTotal.Inc()
		s.logger.Error().Err(err).Int("bytes", len(payload)).Msg("state file corrupt, history reset to empty")
		return Empty(), nil
	}
	return doc, nil
}

func (s *Store) write(doc MonitorState) error {
	doc.normalize()
	payload, err := Encode(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	s.logger.Debug().
		Int("predictions", len(doc.Predictions)).
		Int("gaps", len(doc.GapsDetected)).
		Msg("state written")
	return nil
}

// Encode renders the document as indented JSON.
func Encode(doc MonitorState) ([]byte, error) {
	doc.normalize()
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return append(payload, '\n'), nil
}

// Decode parses a document; failures wrap ErrCorrupt.
func Decode(payload []byte) (MonitorState, error) {
	var doc MonitorState
	if err := json.Unmarshal(payload, &doc); err != nil {
		return MonitorState{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	doc.normalize()
	return doc, nil
}
