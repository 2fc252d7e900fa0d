package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stagehand/stagehand/pkg/clients/forge"
	"github.com/stagehand/stagehand/pkg/clients/platform"
	"github.com/stagehand/stagehand/pkg/credentials"
	"github.com/stagehand/stagehand/pkg/engine"
	"github.com/stagehand/stagehand/pkg/scenario"
	"github.com/stagehand/stagehand/pkg/stores"
	"github.com/stagehand/stagehand/pkg/telemetry"
)

const defaultForgeBaseURL = "https://api.github.com"

// runtime holds the wired service objects a command needs. Everything is
// constructed explicitly here; nothing lives in package-level state.
type runtime struct {
	logger    *telemetry.Logger
	events    *telemetry.EventBus
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
	store     stores.Store
	scenarios *scenario.Manager
	creds     *credentials.Manager
}

func newRuntime(ctx context.Context, loadScenarios bool) (*runtime, error) {
	telCfg := telemetryConfig()
	logger, err := telemetry.NewLogger(telCfg.Logging)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewMetrics(telCfg.Metrics)
	if err != nil {
		return nil, err
	}
	if err := metrics.StartServer(); err != nil {
		return nil, err
	}

	tracer, err := telemetry.NewTracer(telCfg.Tracing, telCfg.ServiceName, telCfg.ServiceVersion, telCfg.Environment)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	credsPath := credsFile
	if credsPath == "" {
		credsPath = credentials.DefaultPath()
	}
	creds, err := credentials.NewManager(credsPath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		logger:  logger,
		events:  telemetry.NewEventBus(telCfg.Events),
		metrics: metrics,
		tracer:  tracer,
		store:   store,
		creds:   creds,
	}

	if loadScenarios {
		rt.scenarios = scenario.NewManager(scenariosDir, logger)
		if err := rt.scenarios.Load(); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// telemetryConfig applies the persistent flags to the default telemetry
// configuration.
func telemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Format = "console"
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsAddr
	}
	if traceExporter != "" && traceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = traceExporter
		cfg.Tracing.Endpoint = traceEndpoint
	}
	return cfg
}

func (rt *runtime) close() {
	rt.events.Shutdown()
	_ = rt.metrics.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = rt.tracer.Shutdown(shutdownCtx)

	_ = rt.store.Close()
}

func openStore(ctx context.Context) (stores.Store, error) {
	switch storeBackend {
	case "file":
		path := stateFile
		if path == "" {
			path = filepath.Join(stagehandDir(), "instances.json")
		}
		return stores.NewFileStore(path)
	case "sqlite":
		path := stateFile
		if path == "" {
			path = filepath.Join(stagehandDir(), "instances.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		s, err := stores.NewSQLiteStore(stores.SQLiteConfig{Path: path})
		if err != nil {
			return nil, err
		}
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (expected file or sqlite)", storeBackend)
	}
}

func stagehandDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stagehand"
	}
	return filepath.Join(home, ".stagehand")
}

// buildPreviewPipeline wires a pipeline for dry-run use only. No credentials
// are required because preview never touches a remote system.
func (rt *runtime) buildPreviewPipeline() *engine.Pipeline {
	return engine.NewPipeline(engine.PipelineConfig{
		Resolver: scenario.NewResolver(),
		Logger:   rt.logger,
		Events:   rt.events,
	})
}

func runOptions(params map[string]string, envProps map[string]string, name string, ttl time.Duration) engine.RunOptions {
	return engine.RunOptions{
		InstanceName:          name,
		Parameters:            params,
		EnvironmentProperties: envProps,
		TTL:                   ttl,
	}
}

// buildPipeline wires the creation pipeline from stored credentials.
func (rt *runtime) buildPipeline() (*engine.Pipeline, error) {
	forgeCreds, platCreds, err := rt.remoteCredentials()
	if err != nil {
		return nil, err
	}

	return engine.NewPipeline(engine.PipelineConfig{
		Forge:                forge.NewClient(forgeBaseURL(forgeCreds), forgeCreds.Token),
		Platform:             platform.NewClient(platCreds.BaseURL, platCreds.Token),
		Store:                rt.store,
		Resolver:             scenario.NewResolver(),
		Logger:               rt.logger,
		Events:               rt.events,
		Metrics:              rt.metrics,
		Tracer:               rt.tracer,
		ForgeOrganization:    forgeCreds.Organization,
		PlatformOrganization: platCreds.Organization,
		Collaborator:         forgeCreds.Collaborator,
	}), nil
}

// buildCleaner wires the cleanup engine from stored credentials.
func (rt *runtime) buildCleaner() (*engine.Cleaner, error) {
	forgeCreds, platCreds, err := rt.remoteCredentials()
	if err != nil {
		return nil, err
	}

	return engine.NewCleaner(engine.CleanerConfig{
		Store:                rt.store,
		Forge:                forge.NewClient(forgeBaseURL(forgeCreds), forgeCreds.Token),
		Platform:             platform.NewClient(platCreds.BaseURL, platCreds.Token),
		Logger:               rt.logger,
		Metrics:              rt.metrics,
		Tracer:               rt.tracer,
		PlatformOrganization: platCreds.Organization,
	}), nil
}

func (rt *runtime) remoteCredentials() (*credentials.Credentials, *credentials.Credentials, error) {
	forgeCreds, err := rt.creds.Get(credentials.SystemForge)
	if err != nil {
		return nil, nil, err
	}
	platCreds, err := rt.creds.Get(credentials.SystemPlatform)
	if err != nil {
		return nil, nil, err
	}
	if platCreds.BaseURL == "" {
		return nil, nil, fmt.Errorf("platform base URL not configured, run 'stagehand credentials set platform --base-url <url>'")
	}
	if platCreds.Organization == "" {
		return nil, nil, fmt.Errorf("platform organization not configured, run 'stagehand credentials set platform --organization <id>'")
	}
	return forgeCreds, platCreds, nil
}

func forgeBaseURL(creds *credentials.Credentials) string {
	if creds.BaseURL != "" {
		return creds.BaseURL
	}
	return defaultForgeBaseURL
}

// parseParams turns repeated key=value flags into a map.
func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q (expected key=value)", pair)
		}
		params[key] = value
	}
	return params, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
