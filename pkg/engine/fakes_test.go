package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stagehand/stagehand/pkg/clients/forge"
	"github.com/stagehand/stagehand/pkg/clients/platform"
	"github.com/stagehand/stagehand/pkg/telemetry"
)

func testLogger(t *testing.T) *telemetry.Logger {
	t.Helper()
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

func quickRetry() RetryOptions {
	return RetryOptions{MaxAttempts: 3, Backoff: 1}
}

// fakeForge is an in-memory ForgeAPI that records every call in order.
// Errors injected via fail are returned once per matching method call.
type fakeForge struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error

	repos         map[string]*forge.Repository
	contents      map[string]*forge.FileContent
	putFiles      map[string][]byte
	deletedFiles  []string
	deletedRepos  []string
	secrets       map[string]string
	collaborators map[string]bool
	invited       []string
	publicKey     *forge.PublicKey
}

func newFakeForge() *fakeForge {
	return &fakeForge{
		fail:          make(map[string]error),
		repos:         make(map[string]*forge.Repository),
		contents:      make(map[string]*forge.FileContent),
		putFiles:      make(map[string][]byte),
		secrets:       make(map[string]string),
		collaborators: make(map[string]bool),
		publicKey: &forge.PublicKey{
			KeyID: "key-1",
			Key:   base64.StdEncoding.EncodeToString(make([]byte, 32)),
		},
	}
}

func (f *fakeForge) record(method string, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if err != nil {
		return err
	}
	if injected, ok := f.fail[method]; ok {
		delete(f.fail, method)
		return injected
	}
	return nil
}

func (f *fakeForge) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func notFoundForge(path string) *forge.APIError {
	return &forge.APIError{StatusCode: http.StatusNotFound, Method: "GET", Path: path}
}

func (f *fakeForge) GenerateFromTemplate(_ context.Context, templateOwner, templateRepo string, req forge.GenerateRequest) (*forge.Repository, error) {
	if err := f.record("GenerateFromTemplate", nil); err != nil {
		return nil, err
	}
	repo := &forge.Repository{
		Name:     req.Name,
		FullName: req.Owner + "/" + req.Name,
		Owner:    forge.Owner{Login: req.Owner},
		HTMLURL:  "https://forge.example/" + req.Owner + "/" + req.Name,
		Private:  req.Private,
	}
	f.mu.Lock()
	f.repos[repo.FullName] = repo
	f.mu.Unlock()
	return repo, nil
}

func (f *fakeForge) GetRepository(_ context.Context, owner, repo string) (*forge.Repository, error) {
	if err := f.record("GetRepository", nil); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.repos[owner+"/"+repo]; ok {
		return r, nil
	}
	return nil, notFoundForge("/repos/" + owner + "/" + repo)
}

func (f *fakeForge) DeleteRepository(_ context.Context, owner, repo string) error {
	if err := f.record("DeleteRepository", nil); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	full := owner + "/" + repo
	if _, ok := f.repos[full]; !ok {
		return notFoundForge("/repos/" + full)
	}
	delete(f.repos, full)
	f.deletedRepos = append(f.deletedRepos, full)
	return nil
}

func (f *fakeForge) GetContents(_ context.Context, _, _, path string) (*forge.FileContent, error) {
	if err := f.record("GetContents", nil); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contents[path]; ok {
		return c, nil
	}
	return nil, notFoundForge("/contents/" + path)
}

func (f *fakeForge) PutContents(_ context.Context, _, _, path, _ string, content []byte, _ string) error {
	if err := f.record("PutContents", nil); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putFiles[path] = content
	return nil
}

func (f *fakeForge) DeleteContents(_ context.Context, _, _, path, _, _ string) error {
	if err := f.record("DeleteContents", nil); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedFiles = append(f.deletedFiles, path)
	return nil
}

func (f *fakeForge) GetPublicKey(_ context.Context, _, _ string) (*forge.PublicKey, error) {
	if err := f.record("GetPublicKey", nil); err != nil {
		return nil, err
	}
	return f.publicKey, nil
}

func (f *fakeForge) PutSecret(_ context.Context, _, _, name, encryptedValue, _ string) error {
	if err := f.record("PutSecret", nil); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[name] = encryptedValue
	return nil
}

func (f *fakeForge) IsCollaborator(_ context.Context, _, _, username string) (bool, error) {
	if err := f.record("IsCollaborator", nil); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collaborators[username], nil
}

func (f *fakeForge) InviteCollaborator(_ context.Context, _, _, username, _ string) error {
	if err := f.record("InviteCollaborator", nil); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invited = append(f.invited, username)
	return nil
}

// fakePlatform is an in-memory PlatformAPI with the same call-recording and
// one-shot error injection as fakeForge.
type fakePlatform struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error

	services    []platform.Service
	envs        []platform.Environment
	flags       []platform.Flag
	flagConfigs map[string][]platform.FlagConfig
	sdkKeys     map[string]string
	deletedIDs  []string
	nextID      int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		fail:        make(map[string]error),
		flagConfigs: make(map[string][]platform.FlagConfig),
		sdkKeys:     make(map[string]string),
	}
}

func (f *fakePlatform) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if injected, ok := f.fail[method]; ok {
		delete(f.fail, method)
		return injected
	}
	return nil
}

func (f *fakePlatform) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakePlatform) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func notFoundPlatform(path string) *platform.APIError {
	return &platform.APIError{StatusCode: http.StatusNotFound, Method: "DELETE", Path: path}
}

func (f *fakePlatform) ListServices(_ context.Context, _, kind string) ([]platform.Service, error) {
	if err := f.record("ListServices"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []platform.Service
	for _, s := range f.services {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakePlatform) CreateService(_ context.Context, _ string, req platform.ServiceCreate) (*platform.Service, error) {
	if err := f.record("CreateService"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	svc := platform.Service{
		ID:             f.id("svc"),
		Name:           req.Name,
		Kind:           req.Kind,
		RepositoryURL:  req.RepositoryURL,
		ComponentIDs:   req.ComponentIDs,
		EnvironmentIDs: req.EnvironmentIDs,
		Version:        1,
	}
	f.services = append(f.services, svc)
	return &svc, nil
}

func (f *fakePlatform) UpdateService(_ context.Context, _, serviceID string, req platform.ServiceUpdate) (*platform.Service, error) {
	if err := f.record("UpdateService"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.services {
		if f.services[i].ID == serviceID {
			if req.ComponentIDs != nil {
				f.services[i].ComponentIDs = req.ComponentIDs
			}
			if req.EnvironmentIDs != nil {
				f.services[i].EnvironmentIDs = req.EnvironmentIDs
			}
			f.services[i].Version++
			return &f.services[i], nil
		}
	}
	return nil, notFoundPlatform("/services/" + serviceID)
}

func (f *fakePlatform) DeleteService(_ context.Context, _, serviceID string) error {
	if err := f.record("DeleteService"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.services {
		if f.services[i].ID == serviceID {
			f.services = append(f.services[:i], f.services[i+1:]...)
			f.deletedIDs = append(f.deletedIDs, serviceID)
			return nil
		}
	}
	return notFoundPlatform("/services/" + serviceID)
}

func (f *fakePlatform) ListEnvironments(_ context.Context, _ string) ([]platform.Environment, error) {
	if err := f.record("ListEnvironments"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Environment(nil), f.envs...), nil
}

func (f *fakePlatform) GetEnvironment(_ context.Context, _, envID string) (*platform.Environment, error) {
	if err := f.record("GetEnvironment"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.envs {
		if f.envs[i].ID == envID {
			env := f.envs[i]
			env.Properties = append([]platform.Property(nil), f.envs[i].Properties...)
			return &env, nil
		}
	}
	return nil, notFoundPlatform("/environments/" + envID)
}

func (f *fakePlatform) CreateEnvironment(_ context.Context, _ string, req platform.EnvironmentCreate) (*platform.Environment, error) {
	if err := f.record("CreateEnvironment"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	env := platform.Environment{
		ID:         f.id("env"),
		Name:       req.Name,
		Properties: req.Properties,
		Version:    1,
	}
	f.envs = append(f.envs, env)
	return &env, nil
}

func (f *fakePlatform) UpdateEnvironment(_ context.Context, _ string, env *platform.Environment) (*platform.Environment, error) {
	if err := f.record("UpdateEnvironment"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.envs {
		if f.envs[i].ID == env.ID {
			if f.envs[i].Version != env.Version {
				return nil, &platform.APIError{StatusCode: http.StatusConflict, Method: "PUT", Path: "/environments/" + env.ID}
			}
			updated := *env
			updated.Version++
			f.envs[i] = updated
			return &updated, nil
		}
	}
	return nil, notFoundPlatform("/environments/" + env.ID)
}

func (f *fakePlatform) DeleteEnvironment(_ context.Context, _, envID string) error {
	if err := f.record("DeleteEnvironment"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.envs {
		if f.envs[i].ID == envID {
			f.envs = append(f.envs[:i], f.envs[i+1:]...)
			f.deletedIDs = append(f.deletedIDs, envID)
			return nil
		}
	}
	return notFoundPlatform("/environments/" + envID)
}

func (f *fakePlatform) ListFlags(_ context.Context, _ string) ([]platform.Flag, error) {
	if err := f.record("ListFlags"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Flag(nil), f.flags...), nil
}

func (f *fakePlatform) CreateFlag(_ context.Context, _ string, req platform.FlagCreate) (*platform.Flag, error) {
	if err := f.record("CreateFlag"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	flag := platform.Flag{ID: f.id("flag"), Name: req.Name, Kind: req.Kind}
	f.flags = append(f.flags, flag)
	return &flag, nil
}

func (f *fakePlatform) ConfigureFlag(_ context.Context, _, flagID string, cfg platform.FlagConfig) error {
	if err := f.record("ConfigureFlag"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagConfigs[flagID] = append(f.flagConfigs[flagID], cfg)
	return nil
}

func (f *fakePlatform) GetSDKKey(_ context.Context, _, envID string) (*platform.SDKKey, error) {
	if err := f.record("GetSDKKey"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.sdkKeys[envID]
	if key == "" {
		key = "sdk-" + envID
	}
	return &platform.SDKKey{Key: key}, nil
}

func (f *fakePlatform) GetApplicationSDKKey(_ context.Context, _, appID, envID string) (*platform.SDKKey, error) {
	if err := f.record("GetApplicationSDKKey"); err != nil {
		return nil, err
	}
	return &platform.SDKKey{Key: "sdk-" + appID + "-" + envID}, nil
}
