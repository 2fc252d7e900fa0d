package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore persists all instances in a single JSON file. Every write
// rewrites the whole file through a temp-file rename so a crash never leaves
// a half-written state file behind.
type FileStore struct {
	path string

	mu        sync.Mutex
	instances map[string]*Instance
}

// NewFileStore opens or creates a file-backed store at the given path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:      path,
		instances: make(map[string]*Instance),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the state file. Records written by older versions used an
// "environment" key for the tenant; those are upgraded in memory on read and
// rewritten in the current shape on the next save.
func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}

	for id, msg := range raw {
		instance := &Instance{}
		if err := json.Unmarshal(msg, instance); err != nil {
			return fmt.Errorf("failed to parse instance %s: %w", id, err)
		}
		if instance.Tenant == "" {
			instance.Tenant = legacyTenant(msg)
		}
		if instance.ID == "" {
			instance.ID = id
		}
		s.instances[instance.ID] = instance
	}
	return nil
}

// legacyTenant extracts the tenant from the pre-rename "environment" key.
func legacyTenant(msg json.RawMessage) string {
	var legacy struct {
		Environment string `json:"environment"`
	}
	if err := json.Unmarshal(msg, &legacy); err != nil {
		return ""
	}
	return legacy.Environment
}

// Save writes an instance and persists the whole file.
func (s *FileStore) Save(_ context.Context, instance *Instance) error {
	if instance.ID == "" {
		return fmt.Errorf("instance ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances[instance.ID] = instance
	return s.flush()
}

// Get retrieves an instance by ID.
func (s *FileStore) Get(_ context.Context, id string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance not found: %s", id)
	}
	return instance, nil
}

// List returns all instances ordered by creation time.
func (s *FileStore) List(_ context.Context) ([]*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Instance, 0, len(s.instances))
	for _, instance := range s.instances {
		out = append(out, instance)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes an instance record.
func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[id]; !ok {
		return fmt.Errorf("instance not found: %s", id)
	}
	delete(s.instances, id)
	return s.flush()
}

// ListExpired returns instances eligible for cleanup at the given time.
func (s *FileStore) ListExpired(ctx context.Context, now time.Time) ([]*Instance, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	expired := []*Instance{}
	for _, instance := range all {
		if instance.Expired(now) {
			expired = append(expired, instance)
		}
	}
	return expired, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

// flush writes the full instance map atomically. Callers hold s.mu.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.instances, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
