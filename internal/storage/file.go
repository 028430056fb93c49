package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// fileDocument is the on-disk layout of a records file.
type fileDocument struct {
	Networks map[string]*networkState `yaml:"networks"`
}

// FileStorage persists records to a YAML file. Every mutation rewrites the
// file through a temp file and rename. A mutation whose write fails is rolled
// back, so memory never runs ahead of the file.
type FileStorage struct {
	mu   sync.Mutex
	path string
	mem  *MemoryStorage
}

// NewFileStorage opens the records file at path. A missing file yields an empty store.
func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, errors.New("records file path must not be empty")
	}

	mem := NewMemoryStorage()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read records file: %w", err)
	default:
		var doc fileDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse records file: %w", err)
		}
		for name, state := range doc.Networks {
			if state == nil {
				continue
			}
			network, err := normalizeNetwork(name)
			if err != nil {
				return nil, fmt.Errorf("records file: %w", err)
			}
			mem.networks[network] = state
		}
	}

	return &FileStorage{path: path, mem: mem}, nil
}

// Path returns the records file location.
func (s *FileStorage) Path() string {
	return s.path
}

func (s *FileStorage) LastCompleted(network string) (int, error) {
	return s.mem.LastCompleted(network)
}

func (s *FileStorage) SetLastCompleted(network string, number int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(network, func() error {
		return s.mem.SetLastCompleted(network, number)
	})
}

func (s *FileStorage) SaveDeployment(d Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(d.Network, func() error {
		return s.mem.SaveDeployment(d)
	})
}

func (s *FileStorage) Deployments(network string) ([]Deployment, error) {
	return s.mem.Deployments(network)
}

func (s *FileStorage) Reset(network string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(network, func() error {
		return s.mem.Reset(network)
	})
}

// commit applies mutate to network and flushes. When the flush fails the
// network's previous state is restored. Must be called with s.mu held.
func (s *FileStorage) commit(network string, mutate func() error) error {
	before, existed := s.mem.snapshot(network)
	if err := mutate(); err != nil {
		return err
	}
	if err := s.flush(); err != nil {
		s.mem.restore(network, before, existed)
		return err
	}
	return nil
}

// flush must be called with s.mu held.
func (s *FileStorage) flush() error {
	s.mem.mu.RLock()
	data, err := yaml.Marshal(fileDocument{Networks: s.mem.networks})
	s.mem.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create records dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".records-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp records file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write records: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close records: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace records file: %w", err)
	}
	return nil
}
