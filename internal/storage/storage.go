// Package storage provides file-based persistence: whole JSON documents
// written atomically, and append-only JSON Lines logs.
package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrNotFound = errors.New("not found")
)

const (
	docExt   = ".json"
	linesExt = ".jsonl"

	// maxLineSize bounds a single JSONL record; transcripts can carry images.
	maxLineSize = 64 << 20
)

// Storage provides file-based storage rooted at a base directory.
// Paths are slices of segments; the extension is added by the storage.
type Storage struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*FileLock
}

// New creates a new Storage instance.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

// BasePath returns the root directory.
func (s *Storage) BasePath() string {
	return s.basePath
}

func (s *Storage) pathTo(path []string, ext string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...) + ext
}

func (s *Storage) pathToDir(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...)
}

// withLock runs fn while holding the file lock for filePath.
func (s *Storage) withLock(filePath string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()
	return fn()
}

// Get retrieves a JSON document.
func (s *Storage) Get(ctx context.Context, path []string, v any) error {
	data, err := os.ReadFile(s.pathTo(path, docExt))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

// Put stores a JSON document atomically.
func (s *Storage) Put(ctx context.Context, path []string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	filePath := s.pathTo(path, docExt)
	return s.withLock(filePath, func() error {
		return writeAtomic(filePath, data)
	})
}

// Delete removes the document and the line log stored at path.
func (s *Storage) Delete(ctx context.Context, path []string) error {
	for _, ext := range []string{docExt, linesExt} {
		filePath := s.pathTo(path, ext)
		err := s.withLock(filePath, func() error {
			if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete file: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// List returns the document keys and subdirectories at a path.
func (s *Storage) List(ctx context.Context, path []string) ([]string, error) {
	entries, err := os.ReadDir(s.pathToDir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	items := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			items = append(items, name)
		} else if strings.HasSuffix(name, docExt) {
			items = append(items, strings.TrimSuffix(name, docExt))
		}
	}
	return items, nil
}

// Exists checks whether a document exists at path.
func (s *Storage) Exists(ctx context.Context, path []string) bool {
	_, err := os.Stat(s.pathTo(path, docExt))
	return err == nil
}

// AppendLines appends one JSON record per value to the line log at path.
func (s *Storage) AppendLines(ctx context.Context, path []string, values ...any) error {
	var buf bytes.Buffer
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	filePath := s.pathTo(path, linesExt)
	return s.withLock(filePath, func() error {
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		if _, err := f.Write(buf.Bytes()); err != nil {
			f.Close()
			return fmt.Errorf("failed to append: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("failed to sync: %w", err)
		}
		return f.Close()
	})
}

// RewriteLines atomically replaces the line log at path.
func (s *Storage) RewriteLines(ctx context.Context, path []string, values ...any) error {
	var buf bytes.Buffer
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	filePath := s.pathTo(path, linesExt)
	return s.withLock(filePath, func() error {
		return writeAtomic(filePath, buf.Bytes())
	})
}

// ReadLines calls fn for each record of the line log at path, in order.
// Blank lines are skipped.
func (s *Storage) ReadLines(ctx context.Context, path []string, fn func(line json.RawMessage) error) error {
	f, err := os.Open(s.pathTo(path, linesExt))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		record := make(json.RawMessage, len(line))
		copy(record, line)
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read lines: %w", err)
	}
	return nil
}

// CountLines returns the number of records in the line log, or 0 if absent.
func (s *Storage) CountLines(ctx context.Context, path []string) (int, error) {
	n := 0
	err := s.ReadLines(ctx, path, func(json.RawMessage) error {
		n++
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return n, err
}

func writeAtomic(filePath string, data []byte) error {
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// getLock returns a file lock for a path.
func (s *Storage) getLock(filePath string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = NewFileLock(filePath)
		s.locks[filePath] = lock
	}
	return lock
}
