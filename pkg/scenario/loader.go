package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stagehand/stagehand/pkg/telemetry"
)

// Manager loads and serves scenario definitions from a directory of YAML
// files. It is an explicit service object: construct one at process start and
// pass it to the pipeline and CLI.
type Manager struct {
	dir      string
	logger   *telemetry.Logger
	schemas  *SchemaRegistry
	validate *validator.Validate

	mu        sync.RWMutex
	scenarios map[string]*Scenario
	watcher   *fsnotify.Watcher
}

// NewManager creates a scenario manager for the given directory.
func NewManager(dir string, logger *telemetry.Logger) *Manager {
	return &Manager{
		dir:       dir,
		logger:    logger.NewComponentLogger("scenario-manager"),
		schemas:   NewSchemaRegistry(),
		validate:  validator.New(),
		scenarios: make(map[string]*Scenario),
	}
}

// Load reads every *.yaml / *.yml file in the directory. A malformed file
// fails the whole load with an error naming the offending file.
func (m *Manager) Load() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("failed to read scenario directory %s: %w", m.dir, err)
	}

	loaded := make(map[string]*Scenario)
	for _, entry := range entries {
		if entry.IsDir() || !isScenarioFile(entry.Name()) {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		s, err := m.loadFile(path)
		if err != nil {
			return fmt.Errorf("scenario file %s: %w", path, err)
		}
		if _, exists := loaded[s.ID]; exists {
			return fmt.Errorf("scenario file %s: duplicate scenario id %q", path, s.ID)
		}
		loaded[s.ID] = s
	}

	m.mu.Lock()
	m.scenarios = loaded
	m.mu.Unlock()

	m.logger.Infof("loaded %d scenarios from %s", len(loaded), m.dir)
	return nil
}

// loadFile parses and validates one scenario file.
func (m *Manager) loadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read: %w", err)
	}

	// Validate the raw tree first so structural errors name the file rather
	// than surfacing later as decode failures.
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := m.schemas.ValidateScenario(tree); err != nil {
		return nil, err
	}

	s := &Scenario{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	if err := m.validate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return s, nil
}

// Get returns the scenario with the given id.
func (m *Manager) Get(id string) (*Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("scenario %q not found", id)
	}
	return s, nil
}

// List returns all loaded scenarios ordered by id.
func (m *Manager) List() []*Scenario {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Scenario, 0, len(m.scenarios))
	for _, s := range m.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watch reloads the scenario directory on file write/create events until the
// context is cancelled. Reloads are debounced; a failed reload keeps the
// previous scenario set.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(m.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", m.dir, err)
	}
	m.watcher = watcher

	go m.processEvents(ctx)

	m.logger.Infof("watching %s for scenario changes", m.dir)
	return nil
}

// processEvents handles file system events and triggers debounced reloads.
func (m *Manager) processEvents(ctx context.Context) {
	var reloadTimer *time.Timer
	const reloadDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isScenarioFile(event.Name) {
				continue
			}

			m.logger.Debugf("scenario file changed: %s", event.Name)
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := m.Load(); err != nil {
					m.logger.WithError(err).Error("scenario reload failed, keeping previous set")
				}
			})

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.WithError(err).Error("watcher error")
		}
	}
}

func isScenarioFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
