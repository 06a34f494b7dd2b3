package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/DoyleJ11/checker-lobby/pkg/types"
)

// IdentityStore keeps one identity per session across restarts.
type IdentityStore interface {
	Load(sessionID uuid.UUID) (types.Identity, bool, error)
	Save(id types.Identity) error
	Clear(sessionID uuid.UUID) error
}

// FileStore keeps identities in a single JSON file keyed by session id.
// The file holds secrets, so it is written 0600.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(sessionID uuid.UUID) (types.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return types.Identity{}, false, err
	}
	id, ok := all[sessionID.String()]
	return id, ok, nil
}

func (s *FileStore) Save(id types.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	all[id.SessionID.String()] = id
	return s.write(all)
}

func (s *FileStore) Clear(sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := all[sessionID.String()]; !ok {
		return nil
	}
	delete(all, sessionID.String())
	return s.write(all)
}

func (s *FileStore) read() (map[string]types.Identity, error) {
	all := make(map[string]types.Identity)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identities: %w", err)
	}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse identities %s: %w", s.path, err)
	}
	return all, nil
}

// write replaces the file atomically.
func (s *FileStore) write(all map[string]types.Identity) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identities: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".identities-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("chmod identities: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write identities: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close identities: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace identities: %w", err)
	}
	return nil
}

// MemoryStore is an IdentityStore that lives as long as the process.
type MemoryStore struct {
	mu  sync.Mutex
	ids map[uuid.UUID]types.Identity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[uuid.UUID]types.Identity)}
}

func (s *MemoryStore) Load(sessionID uuid.UUID) (types.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[sessionID]
	return id, ok, nil
}

func (s *MemoryStore) Save(id types.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id.SessionID] = id
	return nil
}

func (s *MemoryStore) Clear(sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, sessionID)
	return nil
}
