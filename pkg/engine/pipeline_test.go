package engine

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/stagehand/stagehand/pkg/clients/platform"
	"github.com/stagehand/stagehand/pkg/scenario"
	"github.com/stagehand/stagehand/pkg/stores"
	"github.com/stagehand/stagehand/pkg/telemetry"
)

func pipelineScenario() *scenario.Scenario {
	s := &scenario.Scenario{
		ID:   "retail-demo",
		Name: "Retail Demo",
		Parameters: scenario.ParameterSchema{
			Properties: map[string]scenario.ParameterSpec{
				"customer": {Type: "string"},
			},
			Required: []string{"customer"},
		},
		Repositories: []scenario.RepositoryConfig{
			{Template: "templates/shop", Name: "${customer}-shop", CreateComponent: true},
		},
		Environments: []scenario.EnvironmentConfig{
			{Name: "${customer}-env", InjectSDKToken: true},
		},
		Applications: []scenario.ApplicationConfig{
			{Name: "${customer}-app", Components: []string{"${customer}-shop"}, Environments: []string{"${customer}-env"}},
		},
		Flags: []scenario.FlagConfig{
			{Name: "${customer}-beta", Type: "boolean", Environments: []string{"${customer}-env"}},
		},
	}
	return s
}

type pipelineFixture struct {
	forge    *fakeForge
	platform *fakePlatform
	store    stores.Store
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	store, err := stores.NewFileStore(filepath.Join(t.TempDir(), "instances.json"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	f := newFakeForge()
	p := newFakePlatform()

	pl := NewPipeline(PipelineConfig{
		Forge:                f,
		Platform:             p,
		Store:                store,
		Resolver:             scenario.NewResolver(),
		Logger:               testLogger(t),
		Events:               telemetry.NewEventBus(telemetry.EventsConfig{Enabled: true, BufferSize: 64}),
		ForgeOrganization:    "acme",
		PlatformOrganization: "org-1",
	})
	pl.SettleDelay = 0
	pl.provisioner.SettleDelay = 0
	pl.provisioner.Retry = quickRetry()
	pl.resources.Retry = quickRetry()

	return &pipelineFixture{forge: f, platform: p, store: store, pipeline: pl}
}

func TestPipeline_Run(t *testing.T) {
	fx := newPipelineFixture(t)

	instance, err := fx.pipeline.Run(context.Background(), pipelineScenario(), RunOptions{
		Parameters: map[string]string{"customer": "acme"},
		TTL:        time.Hour,
	})
	if err != nil {
		t.Fatalf("Expected run to succeed, got: %v", err)
	}

	if len(instance.Repositories) != 1 || instance.Repositories[0].FullName != "acme/acme-shop" {
		t.Errorf("Expected one repository record, got %+v", instance.Repositories)
	}
	if len(instance.Components) != 1 || instance.Components[0].Name != "acme-shop" {
		t.Errorf("Expected one component record, got %+v", instance.Components)
	}
	if len(instance.Environments) != 1 || instance.Environments[0].Name != "acme-env" {
		t.Errorf("Expected one environment record, got %+v", instance.Environments)
	}
	if len(instance.Applications) != 1 || instance.Applications[0].Name != "acme-app" {
		t.Errorf("Expected one application record, got %+v", instance.Applications)
	}
	if len(instance.Flags) != 1 || instance.Flags[0].Name != "acme-beta" {
		t.Errorf("Expected one flag record, got %+v", instance.Flags)
	}

	// Each record carries its organization, creation time, and links by id.
	if instance.Repositories[0].Organization != "acme" || instance.Repositories[0].CreatedAt.IsZero() {
		t.Errorf("Expected organization and creation time on repository record, got %+v", instance.Repositories[0])
	}
	comp := instance.Components[0]
	if comp.Organization != "org-1" || comp.RepositoryURL != instance.Repositories[0].HTMLURL {
		t.Errorf("Expected organization and repository url on component record, got %+v", comp)
	}
	envRec := instance.Environments[0]
	if len(envRec.FlagIDs) != 1 || envRec.FlagIDs[0] != instance.Flags[0].ID {
		t.Errorf("Expected environment linked to flag by id, got %+v", envRec.FlagIDs)
	}
	appRec := instance.Applications[0]
	if len(appRec.ComponentIDs) != 1 || appRec.ComponentIDs[0] != comp.ID {
		t.Errorf("Expected application record linked to component id, got %+v", appRec.ComponentIDs)
	}
	if len(appRec.EnvironmentIDs) != 1 || appRec.EnvironmentIDs[0] != envRec.ID {
		t.Errorf("Expected application record linked to environment id, got %+v", appRec.EnvironmentIDs)
	}

	if instance.Tenant != "org-1" {
		t.Errorf("Expected tenant 'org-1', got %q", instance.Tenant)
	}
	if instance.ExpiresAt == nil {
		t.Error("Expected expiry to be set from TTL")
	}

	// The application links the component and environment created earlier.
	app := fx.platform.services[1]
	if app.Kind != platform.ServiceKindApplication {
		t.Fatalf("Expected second service to be the application, got %s", app.Kind)
	}
	if len(app.ComponentIDs) != 1 || app.ComponentIDs[0] != instance.Components[0].ID {
		t.Errorf("Expected application linked to component, got %v", app.ComponentIDs)
	}

	// The SDK token landed in the environment's properties.
	env := fx.platform.envs[0]
	if len(env.Properties) != 1 || env.Properties[0].Name != "SDK_TOKEN" {
		t.Errorf("Expected SDK token injected, got %+v", env.Properties)
	}

	// The instance was persisted.
	saved, err := fx.store.Get(context.Background(), instance.ID)
	if err != nil {
		t.Fatalf("Expected instance persisted, got: %v", err)
	}
	if saved.ScenarioID != "retail-demo" {
		t.Errorf("Expected scenario id persisted, got %q", saved.ScenarioID)
	}
}

func TestPipeline_Run_DefaultInstanceName(t *testing.T) {
	fx := newPipelineFixture(t)

	instance, err := fx.pipeline.Run(context.Background(), pipelineScenario(), RunOptions{
		Parameters: map[string]string{"customer": "acme"},
	})
	if err != nil {
		t.Fatalf("Expected run to succeed, got: %v", err)
	}
	want := "retail-demo-" + instance.ID[:8]
	if instance.Name != want {
		t.Errorf("Expected derived name %q, got %q", want, instance.Name)
	}
	if instance.ExpiresAt != nil {
		t.Error("Expected no expiry without TTL")
	}
}

func TestPipeline_Run_ValidationFailureHasNoSideEffects(t *testing.T) {
	fx := newPipelineFixture(t)

	instance, err := fx.pipeline.Run(context.Background(), pipelineScenario(), RunOptions{})
	if err == nil {
		t.Fatal("Expected run to fail on missing required parameter")
	}
	if instance != nil {
		t.Errorf("Expected no instance on resolve failure, got %+v", instance)
	}

	var pipeErr *PipelineError
	if !errors.As(err, &pipeErr) {
		t.Fatalf("Expected *PipelineError, got %T", err)
	}
	if pipeErr.Step != StepResolve {
		t.Errorf("Expected resolve step failure, got %q", pipeErr.Step)
	}
	if len(fx.forge.calls) != 0 || len(fx.platform.calls) != 0 {
		t.Errorf("Expected zero remote calls, got forge=%v platform=%v", fx.forge.calls, fx.platform.calls)
	}
}

func TestPipeline_Run_PartialInstanceOnStepFailure(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.platform.fail["CreateEnvironment"] = &platform.APIError{StatusCode: http.StatusBadRequest, Method: "POST", Path: "/environments"}

	instance, err := fx.pipeline.Run(context.Background(), pipelineScenario(), RunOptions{
		Parameters: map[string]string{"customer": "acme"},
	})
	if err == nil {
		t.Fatal("Expected run to fail")
	}

	var pipeErr *PipelineError
	if !errors.As(err, &pipeErr) {
		t.Fatalf("Expected *PipelineError, got %T", err)
	}
	if pipeErr.Step != StepEnvironments {
		t.Errorf("Expected environments step failure, got %q", pipeErr.Step)
	}

	// The partial instance lists what was created before the failure so a
	// targeted cleanup can find it.
	if instance == nil {
		t.Fatal("Expected partial instance alongside the error")
	}
	if len(instance.Repositories) != 1 || len(instance.Components) != 1 {
		t.Errorf("Expected repository and component recorded, got %+v", instance)
	}
	if len(instance.Environments) != 0 {
		t.Errorf("Expected no environment record, got %+v", instance.Environments)
	}

	// The partial instance is persisted so cleanup can be pointed at its id.
	saved, err := fx.store.Get(context.Background(), instance.ID)
	if err != nil {
		t.Fatalf("Expected partial instance persisted, got: %v", err)
	}
	if len(saved.Repositories) != 1 || len(saved.Components) != 1 {
		t.Errorf("Expected saved instance to list created resources, got %+v", saved)
	}

	cleaner := NewCleaner(CleanerConfig{
		Store:                fx.store,
		Forge:                fx.forge,
		Platform:             fx.platform,
		Logger:               testLogger(t),
		PlatformOrganization: "org-1",
	})
	report, err := cleaner.Cleanup(context.Background(), instance.ID, false)
	if err != nil {
		t.Fatalf("Expected cleanup of failed run to succeed, got: %v", err)
	}
	if len(report.Errors) != 0 {
		t.Errorf("Expected no cleanup failures, got %+v", report.Errors)
	}
	if _, err := fx.store.Get(context.Background(), instance.ID); err == nil {
		t.Error("Expected instance removed after cleanup")
	}
}

func TestPipeline_Run_ResolveFailureIsNotPersisted(t *testing.T) {
	fx := newPipelineFixture(t)

	_, err := fx.pipeline.Run(context.Background(), pipelineScenario(), RunOptions{})
	if err == nil {
		t.Fatal("Expected run to fail on missing required parameter")
	}

	list, err := fx.store.List(context.Background())
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected empty store when nothing was created, got %d instances", len(list))
	}
}

func TestPipeline_Run_SDKTokenFailureIsAbsorbed(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.platform.fail["GetSDKKey"] = &platform.APIError{StatusCode: http.StatusBadRequest, Method: "GET", Path: "/sdk-key"}
	fx.platform.fail["GetApplicationSDKKey"] = &platform.APIError{StatusCode: http.StatusBadRequest, Method: "GET", Path: "/sdk-key"}

	instance, err := fx.pipeline.Run(context.Background(), pipelineScenario(), RunOptions{
		Parameters: map[string]string{"customer": "acme"},
	})
	if err != nil {
		t.Fatalf("Expected run to succeed despite SDK key failure, got: %v", err)
	}
	if len(instance.Flags) != 1 {
		t.Errorf("Expected flag step to run after absorbed token failure, got %+v", instance.Flags)
	}
}

func TestPipeline_Run_WaitsForApplicationSettle(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.pipeline.SettleDelay = 30 * time.Millisecond

	start := time.Now()
	if _, err := fx.pipeline.Run(context.Background(), pipelineScenario(), RunOptions{
		Parameters: map[string]string{"customer": "acme"},
	}); err != nil {
		t.Fatalf("Expected run to succeed, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Expected run to wait before fetching SDK keys, finished in %v", elapsed)
	}
}

func TestPipeline_Run_RecordsMetrics(t *testing.T) {
	fx := newPipelineFixture(t)
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "stagehand"})
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	fx.pipeline.cfg.Metrics = metrics

	if _, err := fx.pipeline.Run(context.Background(), pipelineScenario(), RunOptions{
		Parameters: map[string]string{"customer": "acme"},
	}); err != nil {
		t.Fatalf("Expected run to succeed, got: %v", err)
	}

	for _, name := range []string{
		"stagehand_runs_started_total",
		"stagehand_runs_completed_total",
		"stagehand_step_duration_seconds",
		"stagehand_resource_outcomes_total",
	} {
		n, err := testutil.GatherAndCount(metrics.Registry(), name)
		if err != nil {
			t.Fatalf("Failed to gather %s: %v", name, err)
		}
		if n == 0 {
			t.Errorf("Expected %s to be recorded", name)
		}
	}
}

func TestPipeline_Preview(t *testing.T) {
	fx := newPipelineFixture(t)

	preview, err := fx.pipeline.Preview(context.Background(), pipelineScenario(), RunOptions{
		Parameters: map[string]string{"customer": "acme"},
	})
	if err != nil {
		t.Fatalf("Expected preview to succeed, got: %v", err)
	}

	if len(preview.Repositories) != 1 || preview.Repositories[0].Name != "acme-shop" {
		t.Errorf("Expected resolved repository preview, got %+v", preview.Repositories)
	}
	if len(preview.Components) != 1 || preview.Components[0] != "acme-shop" {
		t.Errorf("Expected component preview, got %v", preview.Components)
	}
	if len(preview.Environments) != 1 || preview.Environments[0] != "acme-env" {
		t.Errorf("Expected environment preview, got %v", preview.Environments)
	}
	if len(preview.Flags) != 1 || preview.Flags[0] != "acme-beta" {
		t.Errorf("Expected flag preview, got %v", preview.Flags)
	}

	if len(fx.forge.calls) != 0 || len(fx.platform.calls) != 0 {
		t.Errorf("Expected preview to make zero remote calls, got forge=%v platform=%v", fx.forge.calls, fx.platform.calls)
	}
}

func TestPipeline_Run_PublishesProgress(t *testing.T) {
	fx := newPipelineFixture(t)
	events, unsubscribe := fx.pipeline.cfg.Events.Subscribe()
	defer unsubscribe()

	if _, err := fx.pipeline.Run(context.Background(), pipelineScenario(), RunOptions{
		Parameters: map[string]string{"customer": "acme"},
	}); err != nil {
		t.Fatalf("Expected run to succeed, got: %v", err)
	}

	seen := make(map[string]bool)
	for {
		select {
		case event := <-events:
			seen[event.Type] = true
			continue
		default:
		}
		break
	}

	for _, want := range []string{
		telemetry.EventTypeRunStarted,
		telemetry.EventTypeStepStarted,
		telemetry.EventTypeStepCompleted,
		telemetry.EventTypeResource,
		telemetry.EventTypeRunCompleted,
	} {
		if !seen[want] {
			t.Errorf("Expected %s event to be published", want)
		}
	}
}
