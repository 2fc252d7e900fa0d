package engine

import (
	"context"

	"github.com/stagehand/stagehand/pkg/clients/platform"
	"github.com/stagehand/stagehand/pkg/scenario"
	"github.com/stagehand/stagehand/pkg/telemetry"
)

// sdkTokenProperty is the environment property the runtime SDK key is
// injected under.
const sdkTokenProperty = "SDK_TOKEN"

// ResourceManager creates and links platform objects in a fixed order so
// that each later stage can reference ids produced by an earlier one. Every
// named resource is looked up first and reused when a match exists.
type ResourceManager struct {
	platform PlatformAPI
	logger   *telemetry.Logger
	orgID    string

	// Retry configures transient-failure retries for component creation.
	Retry RetryOptions
}

// NewResourceManager creates a resource manager scoped to one organization.
func NewResourceManager(platformClient PlatformAPI, orgID string, logger *telemetry.Logger) *ResourceManager {
	return &ResourceManager{
		platform: platformClient,
		logger:   logger.WithField("component", "resources"),
		orgID:    orgID,
		Retry:    DefaultRetryOptions(),
	}
}

// EnsureComponent creates a component service or reuses an existing one with
// the same name. Creation is retried because the backing repository may not
// yet be indexed by the platform.
func (m *ResourceManager) EnsureComponent(ctx context.Context, name, repositoryURL string) (*ComponentResult, error) {
	existing, err := m.findService(ctx, platform.ServiceKindComponent, name)
	if err != nil {
		return nil, Classify(err).WithOperation("list components").WithResource(name)
	}
	if existing != nil {
		m.logger.WithResource("component", name).Info("component already exists, reusing")
		return &ComponentResult{ID: existing.ID, Name: name, Outcome: OutcomeReused}, nil
	}

	var created *platform.Service
	err = WithRetry(ctx, "create component", m.Retry, func(ctx context.Context) error {
		var err error
		created, err = m.platform.CreateService(ctx, m.orgID, platform.ServiceCreate{
			Name:          name,
			Kind:          platform.ServiceKindComponent,
			RepositoryURL: repositoryURL,
		})
		return err
	})
	if err != nil {
		return nil, Classify(err).WithOperation("create component").WithResource(name)
	}

	m.logger.WithResource("component", name).Info("component created")
	return &ComponentResult{ID: created.ID, Name: name, Outcome: OutcomeCreated}, nil
}

// EnsureEnvironment creates an environment or reuses an existing one with the
// same name.
func (m *ResourceManager) EnsureEnvironment(ctx context.Context, cfg scenario.EnvironmentConfig) (*EnvironmentResult, error) {
	envs, err := m.platform.ListEnvironments(ctx, m.orgID)
	if err != nil {
		return nil, Classify(err).WithOperation("list environments").WithResource(cfg.Name)
	}
	for _, env := range envs {
		if env.Name == cfg.Name {
			m.logger.WithResource("environment", cfg.Name).Info("environment already exists, reusing")
			return &EnvironmentResult{ID: env.ID, Name: cfg.Name, Outcome: OutcomeReused}, nil
		}
	}

	props := make([]platform.Property, 0, len(cfg.Variables))
	for _, v := range cfg.Variables {
		props = append(props, platform.Property{Name: v.Name, Value: v.Value})
	}

	created, err := m.platform.CreateEnvironment(ctx, m.orgID, platform.EnvironmentCreate{
		Name:       cfg.Name,
		Properties: props,
	})
	if err != nil {
		return nil, Classify(err).WithOperation("create environment").WithResource(cfg.Name)
	}

	m.logger.WithResource("environment", cfg.Name).Info("environment created")
	return &EnvironmentResult{ID: created.ID, Name: cfg.Name, Outcome: OutcomeCreated}, nil
}

// EnsureApplication creates an application service or reuses an existing one.
// For shared applications an existing match is updated instead: its linked
// environment id set is unioned with the new environment ids, so successive
// runs accumulate environments on the one shared application.
func (m *ResourceManager) EnsureApplication(ctx context.Context, cfg scenario.ApplicationConfig, componentIDs, environmentIDs []string, repositoryURL string) (*ApplicationResult, error) {
	existing, err := m.findService(ctx, platform.ServiceKindApplication, cfg.Name)
	if err != nil {
		return nil, Classify(err).WithOperation("list applications").WithResource(cfg.Name)
	}

	if existing != nil {
		if !cfg.Shared {
			m.logger.WithResource("application", cfg.Name).Info("application already exists, reusing")
			return &ApplicationResult{ID: existing.ID, Name: cfg.Name, Outcome: OutcomeReused}, nil
		}

		merged := unionIDs(existing.EnvironmentIDs, environmentIDs)
		_, err := m.platform.UpdateService(ctx, m.orgID, existing.ID, platform.ServiceUpdate{
			EnvironmentIDs: merged,
			Version:        existing.Version,
		})
		if err != nil {
			return nil, Classify(err).WithOperation("update shared application").WithResource(cfg.Name)
		}
		m.logger.WithResource("application", cfg.Name).Info("shared application updated with new environments")
		return &ApplicationResult{ID: existing.ID, Name: cfg.Name, Outcome: OutcomeReused, Shared: true}, nil
	}

	created, err := m.platform.CreateService(ctx, m.orgID, platform.ServiceCreate{
		Name:           cfg.Name,
		Kind:           platform.ServiceKindApplication,
		RepositoryURL:  repositoryURL,
		ComponentIDs:   componentIDs,
		EnvironmentIDs: environmentIDs,
	})
	if err != nil {
		return nil, Classify(err).WithOperation("create application").WithResource(cfg.Name)
	}

	m.logger.WithResource("application", cfg.Name).Info("application created")
	return &ApplicationResult{ID: created.ID, Name: cfg.Name, Outcome: OutcomeCreated, Shared: cfg.Shared}, nil
}

// InjectSDKToken fetches the environment's runtime SDK key and writes it into
// the environment's property list. The update is a read-modify-write against
// a versioned resource, so conflicts re-fetch and re-apply.
func (m *ResourceManager) InjectSDKToken(ctx context.Context, appID, envID string) error {
	var key *platform.SDKKey
	var err error
	if appID != "" {
		key, err = m.platform.GetApplicationSDKKey(ctx, m.orgID, appID, envID)
	} else {
		key, err = m.platform.GetSDKKey(ctx, m.orgID, envID)
	}
	if err != nil {
		return Classify(err).WithOperation("get sdk key").WithResource(envID)
	}

	return WithFetchRetry(ctx, "inject sdk token", m.Retry, func(ctx context.Context) error {
		env, err := m.platform.GetEnvironment(ctx, m.orgID, envID)
		if err != nil {
			return err
		}

		found := false
		for i := range env.Properties {
			if env.Properties[i].Name == sdkTokenProperty {
				env.Properties[i].Value = key.Key
				env.Properties[i].Secret = true
				found = true
				break
			}
		}
		if !found {
			env.Properties = append(env.Properties, platform.Property{
				Name:   sdkTokenProperty,
				Value:  key.Key,
				Secret: true,
			})
		}

		_, err = m.platform.UpdateEnvironment(ctx, m.orgID, env)
		return err
	})
}

// EnsureFlag creates a feature flag or reuses an existing one with the same
// name, then binds it to every listed environment. The binding is always
// re-applied so scenario re-runs keep flag configuration in sync.
func (m *ResourceManager) EnsureFlag(ctx context.Context, cfg scenario.FlagConfig, envIDsByName map[string]string) (*FlagResult, error) {
	flags, err := m.platform.ListFlags(ctx, m.orgID)
	if err != nil {
		return nil, Classify(err).WithOperation("list flags").WithResource(cfg.Name)
	}

	result := &FlagResult{Name: cfg.Name}
	for _, f := range flags {
		if f.Name == cfg.Name {
			m.logger.WithResource("flag", cfg.Name).Info("flag already exists, reusing")
			result.ID = f.ID
			result.Outcome = OutcomeReused
			break
		}
	}

	if result.ID == "" {
		kind := cfg.Type
		if kind == "" {
			kind = "boolean"
		}
		created, err := m.platform.CreateFlag(ctx, m.orgID, platform.FlagCreate{
			Name: cfg.Name,
			Kind: kind,
		})
		if err != nil {
			return nil, Classify(err).WithOperation("create flag").WithResource(cfg.Name)
		}
		result.ID = created.ID
		result.Outcome = OutcomeCreated
		m.logger.WithResource("flag", cfg.Name).Info("flag created")
	}

	for _, envName := range cfg.Environments {
		envID, ok := envIDsByName[envName]
		if !ok {
			return nil, NewPermanentError("flag references unknown environment", nil).
				WithResource(cfg.Name).WithDetail("environment", envName)
		}
		err := m.platform.ConfigureFlag(ctx, m.orgID, result.ID, platform.FlagConfig{
			EnvironmentID: envID,
			Enabled:       true,
		})
		if err != nil {
			return nil, Classify(err).WithOperation("configure flag").WithResource(cfg.Name).
				WithDetail("environment", envName)
		}
	}

	return result, nil
}

// findService returns the named service of the given kind, or nil when no
// match exists.
func (m *ResourceManager) findService(ctx context.Context, kind, name string) (*platform.Service, error) {
	services, err := m.platform.ListServices(ctx, m.orgID, kind)
	if err != nil {
		return nil, err
	}
	for i := range services {
		if services[i].Name == name {
			return &services[i], nil
		}
	}
	return nil, nil
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
