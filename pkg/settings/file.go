package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileStore reads settings from a flat JSON file and reloads it when the
// file changes on disk. It backs tooling (the sweeper) that runs without a
// database connection. Writes go straight to the file.
type FileStore struct {
	path    string
	prefix  string
	watcher *fsnotify.Watcher

	mu     sync.RWMutex
	values map[string]string
}

// NewFileStore loads path (which must exist, possibly as "{}") and starts
// watching it for changes. Close releases the watcher.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, prefix: DefaultPrefix, values: map[string]string{}}
	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create settings watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch settings file: %w", err)
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

func (s *FileStore) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Best effort; a partial write just reloads on the next event.
				s.reload()
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *FileStore) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse settings file: %w", err)
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

func (s *FileStore) flush() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.values, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// Get implements Store.Get.
func (s *FileStore) Get(_ context.Context, key string, prefixed bool) (string, bool, error) {
	name := applyPrefix(s.prefix, key, prefixed)
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[name]
	return value, ok, nil
}

// Set implements Store.Set.
func (s *FileStore) Set(_ context.Context, key, value string, prefixed bool) error {
	name := applyPrefix(s.prefix, key, prefixed)
	s.mu.Lock()
	s.values[name] = value
	s.mu.Unlock()
	return s.flush()
}

// Delete implements Store.Delete.
func (s *FileStore) Delete(_ context.Context, key string, prefixed bool) error {
	name := applyPrefix(s.prefix, key, prefixed)
	s.mu.Lock()
	delete(s.values, name)
	s.mu.Unlock()
	return s.flush()
}

// Has implements Store.Has.
func (s *FileStore) Has(ctx context.Context, key string, prefixed bool) (bool, error) {
	_, ok, err := s.Get(ctx, key, prefixed)
	return ok, err
}

// Close stops the file watcher.
func (s *FileStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
