// Package credentials manages the bearer tokens and tenant identifiers the
// engine needs to talk to the two remote systems. Values come from an ini
// file with environment-variable overrides; the OS keyring is an optional
// external boundary surfaced through KeyringUnavailableError.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/ini.v1"
)

// System identifies which remote system a credential belongs to.
type System string

const (
	// SystemForge is the source-hosting platform.
	SystemForge System = "forge"

	// SystemPlatform is the deployment/feature-flag platform.
	SystemPlatform System = "platform"
)

// Environment variable overrides, checked before the credential file.
const (
	envForgeToken    = "STAGEHAND_FORGE_TOKEN"
	envPlatformToken = "STAGEHAND_PLATFORM_TOKEN"
)

// Credentials is the full credential context the pipeline consumes.
type Credentials struct {
	// Token is the bearer token for the remote system.
	Token string

	// Organization is the target organization or tenant identifier.
	Organization string

	// Collaborator is an optional username invited to created repositories.
	// Only meaningful for SystemForge.
	Collaborator string

	// BaseURL overrides the remote system's API base URL.
	BaseURL string
}

// CredentialError reports a missing or unusable credential.
type CredentialError struct {
	// System is the remote system the credential belongs to.
	System System

	// Reason explains why the credential is unusable.
	Reason string
}

// Error implements the error interface.
func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential for %s: %s", e.System, e.Reason)
}

// KeyringUnavailableError indicates the OS secret store could not be reached.
// The engine itself never talks to the keyring; callers that do surface the
// condition through this type.
type KeyringUnavailableError struct {
	Err error
}

// Error implements the error interface.
func (e *KeyringUnavailableError) Error() string {
	return fmt.Sprintf("OS keyring unavailable: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *KeyringUnavailableError) Unwrap() error {
	return e.Err
}

// Manager loads and stores credentials in an ini file. Construct one
// explicitly and pass it where needed; there is no package-level default.
type Manager struct {
	path string

	mu    sync.RWMutex
	creds map[System]*Credentials
}

// DefaultPath returns the default credential file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stagehand.ini"
	}
	return filepath.Join(home, ".stagehand", "credentials.ini")
}

// NewManager creates a manager backed by the given ini file. A missing file
// is not an error; credentials may still come from the environment or be set
// later.
func NewManager(path string) (*Manager, error) {
	m := &Manager{
		path:  path,
		creds: make(map[System]*Credentials),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// load reads the ini file if present.
func (m *Manager) load() error {
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		return nil
	}

	file, err := ini.Load(m.path)
	if err != nil {
		return fmt.Errorf("failed to load credential file %s: %w", m.path, err)
	}

	for _, system := range []System{SystemForge, SystemPlatform} {
		section := file.Section(string(system))
		if len(section.Keys()) == 0 {
			continue
		}
		m.creds[system] = &Credentials{
			Token:        section.Key("token").String(),
			Organization: section.Key("organization").String(),
			Collaborator: section.Key("collaborator").String(),
			BaseURL:      section.Key("base_url").String(),
		}
	}
	return nil
}

// Get returns the credentials for a system, with environment-variable token
// overrides applied. A missing or empty token yields a CredentialError.
func (m *Manager) Get(system System) (*Credentials, error) {
	m.mu.RLock()
	stored := m.creds[system]
	m.mu.RUnlock()

	creds := &Credentials{}
	if stored != nil {
		*creds = *stored
	}

	if token := tokenFromEnv(system); token != "" {
		creds.Token = token
	}

	if creds.Token == "" {
		return nil, &CredentialError{
			System: system,
			Reason: fmt.Sprintf("no bearer token configured (set %s or run 'stagehand credentials set')", envVarFor(system)),
		}
	}
	return creds, nil
}

// Set stores credentials for a system and writes the ini file.
func (m *Manager) Set(system System, creds *Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creds[system] = creds
	return m.save()
}

// Has reports whether a token is available for the system.
func (m *Manager) Has(system System) bool {
	_, err := m.Get(system)
	return err == nil
}

// Systems returns every system with stored credentials.
func (m *Manager) Systems() []System {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]System, 0, len(m.creds))
	for _, system := range []System{SystemForge, SystemPlatform} {
		if _, ok := m.creds[system]; ok {
			out = append(out, system)
		}
	}
	return out
}

// save writes the credential file with owner-only permissions.
func (m *Manager) save() error {
	file := ini.Empty()
	for system, creds := range m.creds {
		section := file.Section(string(system))
		section.Key("token").SetValue(creds.Token)
		if creds.Organization != "" {
			section.Key("organization").SetValue(creds.Organization)
		}
		if creds.Collaborator != "" {
			section.Key("collaborator").SetValue(creds.Collaborator)
		}
		if creds.BaseURL != "" {
			section.Key("base_url").SetValue(creds.BaseURL)
		}
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	if err := file.SaveTo(m.path); err != nil {
		return fmt.Errorf("failed to save credential file %s: %w", m.path, err)
	}
	return os.Chmod(m.path, 0600)
}

func tokenFromEnv(system System) string {
	return os.Getenv(envVarFor(system))
}

func envVarFor(system System) string {
	switch system {
	case SystemForge:
		return envForgeToken
	case SystemPlatform:
		return envPlatformToken
	default:
		return ""
	}
}
