// Package prefs is a small file-backed preference store (one YAML map per name).
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/devnik/vaultcam/internal/fsutil"
)

// Store holds string preferences in <dir>/<name>.yaml.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns the store named name under dir. The file is created lazily on first write.
func Open(dir, name string) *Store {
	return &Store{path: filepath.Join(dir, name+".yaml")}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = value
	return s.save(m)
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return s.save(m)
}

func (s *Store) load() (map[string]string, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prefs: %w", err)
	}
	m := map[string]string{}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse prefs %s: %w", filepath.Base(s.path), err)
	}
	return m, nil
}

func (s *Store) save(m map[string]string) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	if err := fsutil.EnsureDir(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("prefs dir: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}
