package keys

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore keeps options as a flat YAML mapping in one file. Every Set
// rewrites the file through a temporary file and rename.
type FileStore struct {
	path string

	mu sync.Mutex
}

// NewFileStore uses the file at path; it is created on the first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(_ context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	options, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := options[name]
	return v, ok, nil
}

func (s *FileStore) Set(_ context.Context, name, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	options, err := s.read()
	if err != nil {
		return false, err
	}
	if old, ok := options[name]; ok && old == value {
		return false, nil
	}
	options[name] = value
	if err := s.write(options); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) read() (map[string]string, error) {
	options := make(map[string]string)
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return options, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keys: read %s: %w", s.path, err)
	}
	if err := yaml.Unmarshal(raw, &options); err != nil {
		return nil, fmt.Errorf("keys: parse %s: %w", s.path, err)
	}
	return options, nil
}

func (s *FileStore) write(options map[string]string) error {
	raw, err := yaml.Marshal(options)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("keys: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".keys-*")
	if err != nil {
		return fmt.Errorf("keys: write %s: %w", s.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("keys: write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("keys: write %s: %w", s.path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("keys: write %s: %w", s.path, err)
	}
	return os.Rename(tmp.Name(), s.path)
}
