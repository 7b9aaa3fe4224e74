package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrKeyNotFound is returned when a key is in neither the environment nor the store.
var ErrKeyNotFound = errors.New("config key not found")

const (
	paramsFile  = "config.yaml"
	secretsFile = "secrets.yaml"
)

// Store is the key/value configuration boundary used by providers and the
// config API.
type Store interface {
	GetParam(key string) (string, error)
	GetSecret(key string) (string, error)
	SetParam(key, value string) error
	SetSecret(key, value string) error
	Delete(key string, secret bool) error
}

// FileStore is a Store backed by two YAML files in one directory.
type FileStore struct {
	mu      sync.RWMutex
	dir     string
	params  map[string]string
	secrets map[string]string
}

// OpenStore loads the store from dir. Missing files are treated as empty.
func OpenStore(dir string) (*FileStore, error) {
	s := &FileStore{dir: dir}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the directory holding the store files.
func (s *FileStore) Dir() string {
	return s.dir
}

// ParamsPath returns the path of the parameters file.
func (s *FileStore) ParamsPath() string {
	return filepath.Join(s.dir, paramsFile)
}

// Reload re-reads both files from disk.
func (s *FileStore) Reload() error {
	params, err := readYAMLMap(filepath.Join(s.dir, paramsFile))
	if err != nil {
		return err
	}
	secrets, err := readYAMLMap(filepath.Join(s.dir, secretsFile))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.params = params
	s.secrets = secrets
	s.mu.Unlock()
	return nil
}

// GetParam returns a parameter. The environment variable named after the
// upper-cased key wins over the file.
func (s *FileStore) GetParam(key string) (string, error) {
	return s.get(key, false)
}

// GetSecret returns a secret, with the same environment override.
func (s *FileStore) GetSecret(key string) (string, error) {
	return s.get(key, true)
}

func (s *FileStore) get(key string, secret bool) (string, error) {
	if v := os.Getenv(strings.ToUpper(key)); v != "" {
		return v, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.params
	if secret {
		m = s.secrets
	}
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
}

// SetParam stores a parameter and writes config.yaml.
func (s *FileStore) SetParam(key, value string) error {
	return s.set(key, value, false)
}

// SetSecret stores a secret and writes secrets.yaml.
func (s *FileStore) SetSecret(key, value string) error {
	return s.set(key, value, true)
}

func (s *FileStore) set(key, value string, secret bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, name, mode := s.params, paramsFile, os.FileMode(0644)
	if secret {
		m, name, mode = s.secrets, secretsFile, 0600
	}
	m[key] = value
	return writeYAMLMap(filepath.Join(s.dir, name), m, mode)
}

// Delete removes a key. Removing an absent key is not an error.
func (s *FileStore) Delete(key string, secret bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, name, mode := s.params, paramsFile, os.FileMode(0644)
	if secret {
		m, name, mode = s.secrets, secretsFile, 0600
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return writeYAMLMap(filepath.Join(s.dir, name), m, mode)
}

// Params returns a copy of the stored parameters.
func (s *FileStore) Params() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// SecretKeys returns the names of stored secrets, sorted.
func (s *FileStore) SecretKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.secrets))
	for k := range s.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func readYAMLMap(path string) (map[string]string, error) {
	out := make(map[string]string)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

func writeYAMLMap(path string, m map[string]string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Chmod(path, mode)
}
