package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand/stagehand/pkg/scenario"
	"github.com/stagehand/stagehand/pkg/stores"
	"github.com/stagehand/stagehand/pkg/telemetry"
)

// PipelineConfig wires the pipeline's collaborators. Credentials and tenant
// identifiers are supplied here, at construction time.
type PipelineConfig struct {
	Forge    ForgeAPI
	Platform PlatformAPI
	Store    stores.Store
	Resolver *scenario.Resolver
	Logger   *telemetry.Logger
	Events   *telemetry.EventBus
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer

	// ForgeOrganization is the default organization repositories are
	// created in when a repository config names none.
	ForgeOrganization string

	// PlatformOrganization is the organization id all platform objects
	// are created in. It becomes the instance's tenant.
	PlatformOrganization string

	// Collaborator is an optional username invited to created
	// repositories.
	Collaborator string
}

// RunOptions configures one pipeline run.
type RunOptions struct {
	// InstanceName is the display name of the resulting instance. When
	// empty a name is derived from the scenario id and run id.
	InstanceName string

	// Parameters are the caller-supplied parameter values.
	Parameters map[string]string

	// EnvironmentProperties back ${env.X} template references.
	EnvironmentProperties map[string]string

	// TTL sets the instance expiry relative to now. Zero means the
	// instance never expires.
	TTL time.Duration
}

// Preview reports the resources a scenario would create, without touching
// either remote system.
type Preview struct {
	ScenarioID   string              `json:"scenario_id"`
	Repositories []RepositoryPreview `json:"repositories,omitempty"`
	Components   []string            `json:"components,omitempty"`
	Environments []string            `json:"environments,omitempty"`
	Applications []string            `json:"applications,omitempty"`
	Flags        []string            `json:"flags,omitempty"`
}

// RepositoryPreview describes one repository a run would generate.
type RepositoryPreview struct {
	Template        string `json:"template"`
	Name            string `json:"name"`
	Organization    string `json:"organization,omitempty"`
	CreateComponent bool   `json:"create_component"`
}

// Pipeline sequences the repository provisioner and the resource manager in
// dependency order and assembles the results into an Instance. Steps are
// strictly sequential within a run; each depends on ids the previous one
// produced.
type Pipeline struct {
	cfg         PipelineConfig
	logger      *telemetry.Logger
	provisioner *Provisioner
	resources   *ResourceManager

	// SettleDelay is the fixed wait between application creation and the
	// SDK key fetch. Newly created applications are not immediately
	// visible to the key endpoint.
	SettleDelay time.Duration
}

// NewPipeline creates a creation pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	provisioner := NewProvisioner(cfg.Forge, cfg.Logger)
	provisioner.Collaborator = cfg.Collaborator

	return &Pipeline{
		cfg:         cfg,
		logger:      cfg.Logger.WithField("component", "pipeline"),
		provisioner: provisioner,
		resources:   NewResourceManager(cfg.Platform, cfg.PlatformOrganization, cfg.Logger),
		SettleDelay: 2 * time.Second,
	}
}

// Preview resolves the scenario and reports the resources it would create.
// No remote call is made; validation failures surface exactly as they would
// on a real run.
func (p *Pipeline) Preview(_ context.Context, sc *scenario.Scenario, opts RunOptions) (*Preview, error) {
	resolved, err := p.cfg.Resolver.Resolve(sc, opts.Parameters, opts.EnvironmentProperties)
	if err != nil {
		return nil, err
	}

	preview := &Preview{ScenarioID: resolved.ID}
	for _, repo := range resolved.Repositories {
		preview.Repositories = append(preview.Repositories, RepositoryPreview{
			Template:        repo.Template,
			Name:            repo.Name,
			Organization:    repo.Organization,
			CreateComponent: repo.CreateComponent,
		})
		if repo.CreateComponent {
			preview.Components = append(preview.Components, repo.Name)
		}
	}
	for _, env := range resolved.Environments {
		preview.Environments = append(preview.Environments, env.Name)
	}
	for _, app := range resolved.Applications {
		preview.Applications = append(preview.Applications, app.Name)
	}
	for _, flag := range resolved.Flags {
		preview.Flags = append(preview.Flags, flag.Name)
	}
	return preview, nil
}

// Run executes the scenario end to end and persists the resulting Instance.
// On a failed step the partial Instance accumulated so far is returned
// alongside the error so cleanup can be targeted at whatever was created.
func (p *Pipeline) Run(ctx context.Context, sc *scenario.Scenario, opts RunOptions) (*stores.Instance, error) {
	runID := uuid.New().String()
	started := time.Now()
	log := p.logger.WithScenario(sc.ID).WithInstanceID(runID)

	ctx, runSpan := p.startRunSpan(ctx, runID, sc.ID)
	defer runSpan.end()

	p.recordRunStarted(sc.ID)
	p.publishRunStarted(runID, sc.ID)

	instance, err := p.run(ctx, runID, sc, opts, log)
	if err != nil {
		p.persistPartial(ctx, instance, err, log)
		p.recordRunCompleted(sc.ID, "failed", time.Since(started))
		p.publishRunFailed(runID, err.Error())
		runSpan.fail(err)
		return instance, err
	}

	p.recordRunCompleted(sc.ID, "completed", time.Since(started))
	p.publishRunCompleted(runID, time.Since(started))
	runSpan.ok()
	log.WithInstanceID(instance.ID).Info("pipeline run completed")
	return instance, nil
}

func (p *Pipeline) run(ctx context.Context, runID string, sc *scenario.Scenario, opts RunOptions, log *telemetry.Logger) (*stores.Instance, error) {
	// Resolution happens before any remote call so validation failures
	// have zero side effects.
	var resolved *scenario.Scenario
	err := p.step(ctx, runID, StepResolve, func(context.Context) error {
		var err error
		resolved, err = p.cfg.Resolver.Resolve(sc, opts.Parameters, opts.EnvironmentProperties)
		return err
	})
	if err != nil {
		return nil, NewPipelineError(StepResolve, err)
	}

	now := time.Now().UTC()
	instance := &stores.Instance{
		ID:         runID,
		ScenarioID: resolved.ID,
		Name:       opts.InstanceName,
		Tenant:     p.cfg.PlatformOrganization,
		Parameters: opts.Parameters,
		CreatedAt:  now,
	}
	if instance.Name == "" {
		instance.Name = resolved.ID + "-" + runID[:8]
	}
	if opts.TTL > 0 {
		expires := now.Add(opts.TTL)
		instance.ExpiresAt = &expires
	}

	type componentSpec struct {
		name    string
		repoURL string
	}
	var componentSpecs []componentSpec
	repoURLs := make(map[string]string)

	// Repositories.
	if len(resolved.Repositories) == 0 {
		p.publishStep(runID, StepRepositories, telemetry.StepStatusSkipped, "no repositories declared")
	} else {
		err = p.step(ctx, runID, StepRepositories, func(ctx context.Context) error {
			for _, repoCfg := range resolved.Repositories {
				org := repoCfg.Organization
				if org == "" {
					org = p.cfg.ForgeOrganization
				}
				result, err := p.provisioner.Provision(ctx, repoCfg, p.cfg.ForgeOrganization, opts.Parameters)
				if err != nil {
					return err
				}
				instance.Repositories = append(instance.Repositories, stores.RepositoryRecord{
					FullName:     result.FullName,
					HTMLURL:      result.HTMLURL,
					Organization: org,
					CreatedAt:    time.Now().UTC(),
					Created:      result.Created,
				})
				repoURLs[result.FullName] = result.HTMLURL
				p.publishResource(runID, StepRepositories, string(KindRepository), result.FullName, outcomeOf(result.Created))
				p.recordResourceOutcome(string(KindRepository), outcomeOf(result.Created))
				if repoCfg.CreateComponent {
					componentSpecs = append(componentSpecs, componentSpec{name: repoCfg.Name, repoURL: result.HTMLURL})
				}
			}
			return nil
		})
		if err != nil {
			return instance, NewPipelineError(StepRepositories, err)
		}
	}

	// Components.
	componentIDs := make(map[string]string)
	if len(componentSpecs) == 0 {
		p.publishStep(runID, StepComponents, telemetry.StepStatusSkipped, "no components declared")
	} else {
		err = p.step(ctx, runID, StepComponents, func(ctx context.Context) error {
			for _, spec := range componentSpecs {
				result, err := p.resources.EnsureComponent(ctx, spec.name, spec.repoURL)
				if err != nil {
					return err
				}
				componentIDs[result.Name] = result.ID
				instance.Components = append(instance.Components, stores.ComponentRecord{
					ID:            result.ID,
					Name:          result.Name,
					Organization:  p.cfg.PlatformOrganization,
					CreatedAt:     time.Now().UTC(),
					RepositoryURL: spec.repoURL,
					Created:       result.Outcome == OutcomeCreated,
				})
				p.publishResource(runID, StepComponents, string(KindComponent), result.Name, string(result.Outcome))
				p.recordResourceOutcome(string(KindComponent), string(result.Outcome))
			}
			return nil
		})
		if err != nil {
			return instance, NewPipelineError(StepComponents, err)
		}
	}

	// Flag definitions are recorded now and created after environments
	// exist, since configuration binds flags to environment ids.
	if len(resolved.Flags) == 0 {
		p.publishStep(runID, StepFlagDefs, telemetry.StepStatusSkipped, "no flags declared")
	} else {
		p.publishStep(runID, StepFlagDefs, telemetry.StepStatusCompleted, "flag definitions recorded")
	}

	// Environments.
	environmentIDs := make(map[string]string)
	if len(resolved.Environments) == 0 {
		p.publishStep(runID, StepEnvironments, telemetry.StepStatusSkipped, "no environments declared")
	} else {
		err = p.step(ctx, runID, StepEnvironments, func(ctx context.Context) error {
			for _, envCfg := range resolved.Environments {
				result, err := p.resources.EnsureEnvironment(ctx, envCfg)
				if err != nil {
					return err
				}
				vars := make([]stores.Variable, 0, len(envCfg.Variables))
				for _, v := range envCfg.Variables {
					vars = append(vars, stores.Variable{Name: v.Name, Value: v.Value})
				}
				environmentIDs[result.Name] = result.ID
				instance.Environments = append(instance.Environments, stores.EnvironmentRecord{
					ID:           result.ID,
					Name:         result.Name,
					Organization: p.cfg.PlatformOrganization,
					CreatedAt:    time.Now().UTC(),
					Variables:    vars,
					Created:      result.Outcome == OutcomeCreated,
				})
				p.publishResource(runID, StepEnvironments, string(KindEnvironment), result.Name, string(result.Outcome))
				p.recordResourceOutcome(string(KindEnvironment), string(result.Outcome))
			}
			return nil
		})
		if err != nil {
			return instance, NewPipelineError(StepEnvironments, err)
		}
	}

	// Applications.
	applicationIDs := make(map[string]string)
	if len(resolved.Applications) == 0 {
		p.publishStep(runID, StepApplications, telemetry.StepStatusSkipped, "no applications declared")
	} else {
		err = p.step(ctx, runID, StepApplications, func(ctx context.Context) error {
			for _, appCfg := range resolved.Applications {
				compIDs, err := lookupIDs(appCfg.Components, componentIDs, "component")
				if err != nil {
					return err
				}
				envIDs, err := lookupIDs(appCfg.Environments, environmentIDs, "environment")
				if err != nil {
					return err
				}

				result, err := p.resources.EnsureApplication(ctx, appCfg, compIDs, envIDs, repoURLs[appCfg.Repository])
				if err != nil {
					return err
				}
				applicationIDs[result.Name] = result.ID
				instance.Applications = append(instance.Applications, stores.ApplicationRecord{
					ID:             result.ID,
					Name:           result.Name,
					Organization:   p.cfg.PlatformOrganization,
					CreatedAt:      time.Now().UTC(),
					ComponentIDs:   compIDs,
					EnvironmentIDs: envIDs,
					Created:        result.Outcome == OutcomeCreated,
					Shared:         result.Shared,
				})
				p.publishResource(runID, StepApplications, string(KindApplication), result.Name, string(result.Outcome))
				p.recordResourceOutcome(string(KindApplication), string(result.Outcome))
			}
			return nil
		})
		if err != nil {
			return instance, NewPipelineError(StepApplications, err)
		}
	}

	// SDK tokens. Failures here are logged and absorbed; the rest of the
	// pipeline does not depend on the token being present.
	tokenTargets := sdkTokenTargets(resolved, environmentIDs, applicationIDs)
	if len(tokenTargets) == 0 {
		p.publishStep(runID, StepSDKTokens, telemetry.StepStatusSkipped, "no environments request sdk tokens")
	} else {
		// The key endpoint 404s for a short window after application
		// creation.
		if err := sleep(ctx, p.SettleDelay); err != nil {
			return instance, NewPipelineError(StepSDKTokens, err)
		}
		_ = p.step(ctx, runID, StepSDKTokens, func(ctx context.Context) error {
			for _, target := range tokenTargets {
				if err := p.resources.InjectSDKToken(ctx, target.appID, target.envID); err != nil {
					log.WithResource("environment", target.envName).WithError(err).
						Warn("sdk token injection failed, continuing")
				}
			}
			return nil
		})
	}

	// Flags.
	if len(resolved.Flags) == 0 {
		p.publishStep(runID, StepFlags, telemetry.StepStatusSkipped, "no flags declared")
	} else {
		err = p.step(ctx, runID, StepFlags, func(ctx context.Context) error {
			for _, flagCfg := range resolved.Flags {
				result, err := p.resources.EnsureFlag(ctx, flagCfg, environmentIDs)
				if err != nil {
					return err
				}
				instance.Flags = append(instance.Flags, stores.FlagRecord{
					ID:           result.ID,
					Name:         result.Name,
					Organization: p.cfg.PlatformOrganization,
					CreatedAt:    time.Now().UTC(),
					Created:      result.Outcome == OutcomeCreated,
				})
				linkFlagToEnvironments(instance, result.ID, flagCfg.Environments)
				p.publishResource(runID, StepFlags, string(KindFlag), result.Name, string(result.Outcome))
				p.recordResourceOutcome(string(KindFlag), string(result.Outcome))
			}
			return nil
		})
		if err != nil {
			return instance, NewPipelineError(StepFlags, err)
		}
	}

	// Persist.
	err = p.step(ctx, runID, StepPersist, func(ctx context.Context) error {
		return p.cfg.Store.Save(ctx, instance)
	})
	if err != nil {
		return instance, NewPipelineError(StepPersist, err)
	}

	return instance, nil
}

// persistPartial records whatever a failed run created, so cleanup can be
// targeted at the partial instance by id. Skipped when the run created
// nothing, and when the persist step itself was the failure.
func (p *Pipeline) persistPartial(ctx context.Context, instance *stores.Instance, runErr error, log *telemetry.Logger) {
	if instance == nil || p.cfg.Store == nil {
		return
	}
	var pipeErr *PipelineError
	if errors.As(runErr, &pipeErr) && pipeErr.Step == StepPersist {
		return
	}
	created := len(instance.Repositories) + len(instance.Components) +
		len(instance.Environments) + len(instance.Applications) + len(instance.Flags)
	if created == 0 {
		return
	}

	if err := p.cfg.Store.Save(context.WithoutCancel(ctx), instance); err != nil {
		log.WithError(err).Warn("failed to record partial instance")
		return
	}
	log.Warnf("run failed, partial instance recorded with %d resources", created)
}

type tokenTarget struct {
	envName string
	envID   string
	appID   string
}

// sdkTokenTargets pairs each token-requesting environment with the first
// application that references it, falling back to the organization-scoped key
// when no application does.
func sdkTokenTargets(resolved *scenario.Scenario, envIDs, appIDs map[string]string) []tokenTarget {
	var targets []tokenTarget
	for _, envCfg := range resolved.Environments {
		if !envCfg.InjectSDKToken {
			continue
		}
		envID, ok := envIDs[envCfg.Name]
		if !ok {
			continue
		}

		target := tokenTarget{envName: envCfg.Name, envID: envID}
		for _, appCfg := range resolved.Applications {
			if !containsString(appCfg.Environments, envCfg.Name) {
				continue
			}
			if id, ok := appIDs[appCfg.Name]; ok {
				target.appID = id
				break
			}
		}
		targets = append(targets, target)
	}
	return targets
}

// step runs one pipeline step with progress events, a span, and a duration
// metric around it.
func (p *Pipeline) step(ctx context.Context, runID, name string, fn func(context.Context) error) error {
	start := time.Now()
	p.publishStep(runID, name, telemetry.StepStatusStarted, "")

	sctx := ctx
	span := noopRunSpan
	if p.cfg.Tracer != nil {
		var s spanHandle
		sctx, s = p.startStepSpan(ctx, runID, name)
		span = s
	}

	err := fn(sctx)
	p.recordStepDuration(name, time.Since(start))

	if err != nil {
		p.publishStep(runID, name, telemetry.StepStatusFailed, err.Error())
		span.fail(err)
		span.end()
		return err
	}
	p.publishStep(runID, name, telemetry.StepStatusCompleted, "")
	span.ok()
	span.end()
	return nil
}

// linkFlagToEnvironments records the flag id on every environment record the
// flag was configured in.
func linkFlagToEnvironments(instance *stores.Instance, flagID string, envNames []string) {
	for _, name := range envNames {
		for i := range instance.Environments {
			if instance.Environments[i].Name == name {
				instance.Environments[i].FlagIDs = append(instance.Environments[i].FlagIDs, flagID)
			}
		}
	}
}

func lookupIDs(names []string, ids map[string]string, kind string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		id, ok := ids[name]
		if !ok {
			return nil, NewPermanentError("application references unknown "+kind, nil).WithResource(name)
		}
		out = append(out, id)
	}
	return out, nil
}

func outcomeOf(created bool) string {
	if created {
		return string(OutcomeCreated)
	}
	return string(OutcomeReused)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
