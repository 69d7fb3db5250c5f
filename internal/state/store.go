package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/agentpm/internal/fsops"
)

// ErrCorruptIndex is returned when the index file exists but cannot be
// parsed. It is fatal for every command that reads the ledger.
var ErrCorruptIndex = errors.New("corrupt index file")

const indexHeader = "# Managed by agentpm. Records which package installed which files.\n"

// IndexStore provides an interface for persisting the ownership ledger.
type IndexStore interface {
	// Load reads the index. A missing file yields an empty index.
	Load() (*Index, error)

	// Save writes the index atomically.
	Save(ix *Index) error

	// Update loads the index, applies fn and saves the result. Calls are
	// serialised within the process; fn's error aborts without saving.
	Update(fn func(ix *Index) error) error
}

// FileIndexStore implements IndexStore with a YAML file on disk.
//
// There is no cross-process lock: two agentpm processes updating the same
// workspace race and the last write wins.
type FileIndexStore struct {
	fs   fsops.FS
	path string
	mu   sync.Mutex
}

// NewFileIndexStore creates a FileIndexStore for the index at path.
func NewFileIndexStore(fs fsops.FS, path string) *FileIndexStore {
	return &FileIndexStore{fs: fs, path: path}
}

// Path returns the index file path.
func (s *FileIndexStore) Path() string {
	return s.path
}

// Load reads the index.
func (s *FileIndexStore) Load() (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileIndexStore) load() (*Index, error) {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewIndex(), nil
		}
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	ix := NewIndex()
	if err := yaml.Unmarshal(data, ix); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorruptIndex, s.path, err)
	}
	if ix.Packages == nil {
		ix.Packages = make(map[string]*PackageEntry)
	}
	for name, e := range ix.Packages {
		if e == nil {
			return nil, fmt.Errorf("%w %s: package %q has no entry", ErrCorruptIndex, s.path, name)
		}
		if e.Files == nil {
			e.Files = map[string][]string{}
		}
	}
	return ix, nil
}

// Save writes the index atomically.
func (s *FileIndexStore) Save(ix *Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ix)
}

func (s *FileIndexStore) save(ix *Index) error {
	data, err := yaml.Marshal(ix)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	if err := s.fs.AtomicWrite(s.path, append([]byte(indexHeader), data...), 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

// Update runs a read-modify-write of the index as one critical section.
func (s *FileIndexStore) Update(fn func(ix *Index) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ix, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(ix); err != nil {
		return err
	}
	return s.save(ix)
}
