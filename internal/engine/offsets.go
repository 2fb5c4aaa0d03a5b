package engine

import (
	"fmt"
	"os"
	"sync"

	"github.com/ajitpratap0/pgcdc/pkg/cdc"
	jsonpool "github.com/ajitpratap0/pgcdc/pkg/json"
)

// OffsetStore persists replication checkpoints so a pipeline can resume
// where it left off after a restart.
type OffsetStore interface {
	// Load returns the last saved checkpoint. A store with nothing saved
	// returns a zero checkpoint and no error.
	Load() (cdc.Checkpoint, error)

	// Save persists a checkpoint, replacing any previous one.
	Save(checkpoint cdc.Checkpoint) error
}

// NewOffsetStore selects the store implementation for the configured
// path. An empty path keeps offsets in memory only.
func NewOffsetStore(path string) OffsetStore {
	if path == "" {
		return NewMemoryOffsetStore()
	}
	return NewFileOffsetStore(path)
}

// FileOffsetStore persists checkpoints as a JSON file.
type FileOffsetStore struct {
	path  string
	mutex sync.Mutex
}

// NewFileOffsetStore creates a file-backed offset store
func NewFileOffsetStore(path string) *FileOffsetStore {
	return &FileOffsetStore{path: path}
}

// Load reads the checkpoint file. A missing file is a first run, not an
// error.
func (s *FileOffsetStore) Load() (cdc.Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cdc.Checkpoint{}, nil
		}
		return cdc.Checkpoint{}, fmt.Errorf("failed to read offset file: %w", err)
	}

	var checkpoint cdc.Checkpoint
	if err := jsonpool.Unmarshal(data, &checkpoint); err != nil {
		return cdc.Checkpoint{}, fmt.Errorf("failed to parse offset file: %w", err)
	}

	return checkpoint, nil
}

// Save writes the checkpoint through a temporary file so a crash cannot
// leave a truncated offset file behind.
func (s *FileOffsetStore) Save(checkpoint cdc.Checkpoint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := jsonpool.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write offset file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace offset file: %w", err)
	}

	return nil
}

// MemoryOffsetStore keeps the checkpoint in memory. Used when no offset
// path is configured, and by tests.
type MemoryOffsetStore struct {
	checkpoint cdc.Checkpoint
	mutex      sync.RWMutex
}

// NewMemoryOffsetStore creates an in-memory offset store
func NewMemoryOffsetStore() *MemoryOffsetStore {
	return &MemoryOffsetStore{}
}

// Load returns the stored checkpoint
func (s *MemoryOffsetStore) Load() (cdc.Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.checkpoint, nil
}

// Save stores the checkpoint
func (s *MemoryOffsetStore) Save(checkpoint cdc.Checkpoint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.checkpoint = checkpoint
	return nil
}
