package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stagehand/stagehand/pkg/clients/platform"
	"github.com/stagehand/stagehand/pkg/stores"
	"github.com/stagehand/stagehand/pkg/telemetry"
)

// Skip reasons recorded for resources cleanup never deletes.
const (
	skipReasonFlag      = "flags may be referenced by other instances and have no single owner"
	skipReasonSharedApp = "shared applications are reused across instances"
)

// CleanupReport is the result of one cleanup run.
type CleanupReport struct {
	InstanceID string            `json:"instance_id"`
	DryRun     bool              `json:"dry_run"`
	Cleaned    []CleanedResource `json:"cleaned"`
	Skipped    []SkippedResource `json:"skipped"`
	Errors     []CleanupError    `json:"errors"`
}

// CleanedResource is one deleted (or already-gone) resource.
type CleanedResource struct {
	Kind ResourceKind `json:"kind"`
	ID   string       `json:"id,omitempty"`
	Name string       `json:"name"`
}

// SkippedResource is one resource cleanup declined to delete, with the
// reason.
type SkippedResource struct {
	Kind   ResourceKind `json:"kind"`
	ID     string       `json:"id,omitempty"`
	Name   string       `json:"name"`
	Reason string       `json:"reason"`
}

// CleanupError is one failed deletion. Failures are collected, never raised,
// so one failing resource does not block the rest.
type CleanupError struct {
	Kind    ResourceKind `json:"kind"`
	ID      string       `json:"id,omitempty"`
	Name    string       `json:"name"`
	Message string       `json:"message"`
}

// Cleaner deletes an instance's resources in the reverse of creation order:
// applications, then environments, then components, then repositories.
// Later-created objects reference earlier ones and the remote systems may
// reject deletion of a referenced object.
type Cleaner struct {
	store    stores.Store
	forge    ForgeAPI
	platform PlatformAPI
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	orgID    string
}

// CleanerConfig wires the cleaner's collaborators.
type CleanerConfig struct {
	Store    stores.Store
	Forge    ForgeAPI
	Platform PlatformAPI
	Logger   *telemetry.Logger
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer

	// PlatformOrganization is the organization id the instance's platform
	// objects live in.
	PlatformOrganization string
}

// NewCleaner creates a cleanup engine.
func NewCleaner(cfg CleanerConfig) *Cleaner {
	return &Cleaner{
		store:    cfg.Store,
		forge:    cfg.Forge,
		platform: cfg.Platform,
		logger:   cfg.Logger.WithField("component", "cleanup"),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		orgID:    cfg.PlatformOrganization,
	}
}

// Cleanup tears down one instance. Dry-run reports what would happen without
// a single remote call. On full success the instance record is deleted from
// the store; partial failure leaves it intact so a re-run can retry.
func (c *Cleaner) Cleanup(ctx context.Context, instanceID string, dryRun bool) (*CleanupReport, error) {
	instance, err := c.store.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	span := noopRunSpan
	if c.tracer != nil {
		var sp trace.Span
		ctx, sp = c.tracer.StartCleanupSpan(ctx, instanceID)
		span = spanHandle{span: sp}
	}
	defer span.end()

	log := c.logger.WithInstanceID(instanceID)
	report := &CleanupReport{
		InstanceID: instanceID,
		DryRun:     dryRun,
		Cleaned:    []CleanedResource{},
		Skipped:    []SkippedResource{},
		Errors:     []CleanupError{},
	}

	// Applications first. Shared ones are skipped.
	for _, app := range instance.Applications {
		if app.Shared {
			report.Skipped = append(report.Skipped, SkippedResource{
				Kind: KindApplication, ID: app.ID, Name: app.Name, Reason: skipReasonSharedApp,
			})
			continue
		}
		c.deleteResource(ctx, report, KindApplication, app.ID, app.Name, dryRun, func(ctx context.Context) error {
			return c.platform.DeleteService(ctx, c.orgID, app.ID)
		})
	}

	for _, env := range instance.Environments {
		c.deleteResource(ctx, report, KindEnvironment, env.ID, env.Name, dryRun, func(ctx context.Context) error {
			return c.platform.DeleteEnvironment(ctx, c.orgID, env.ID)
		})
	}

	for _, comp := range instance.Components {
		c.deleteResource(ctx, report, KindComponent, comp.ID, comp.Name, dryRun, func(ctx context.Context) error {
			return c.platform.DeleteService(ctx, c.orgID, comp.ID)
		})
	}

	for _, repo := range instance.Repositories {
		fullName := repo.FullName
		c.deleteResource(ctx, report, KindRepository, "", fullName, dryRun, func(ctx context.Context) error {
			owner, name, err := splitFullName(fullName)
			if err != nil {
				return err
			}
			return c.forge.DeleteRepository(ctx, owner, name)
		})
	}

	// Flags are never deleted.
	for _, flag := range instance.Flags {
		report.Skipped = append(report.Skipped, SkippedResource{
			Kind: KindFlag, ID: flag.ID, Name: flag.Name, Reason: skipReasonFlag,
		})
	}

	if dryRun {
		span.ok()
		return report, nil
	}

	if len(report.Errors) > 0 {
		c.recordCleanup("partial")
		span.fail(errors.New("cleanup completed with errors"))
		log.Warnf("cleanup finished with %d errors, instance record kept", len(report.Errors))
		return report, nil
	}

	if err := c.store.Delete(ctx, instanceID); err != nil {
		c.recordCleanup("partial")
		span.fail(err)
		return report, err
	}

	c.recordCleanup("completed")
	span.ok()
	log.Info("instance cleaned up")
	return report, nil
}

// CleanupExpired tears down every instance whose expiry has passed.
func (c *Cleaner) CleanupExpired(ctx context.Context, now time.Time, dryRun bool) ([]*CleanupReport, error) {
	expired, err := c.store.ListExpired(ctx, now)
	if err != nil {
		return nil, err
	}

	reports := make([]*CleanupReport, 0, len(expired))
	for _, instance := range expired {
		report, err := c.Cleanup(ctx, instance.ID, dryRun)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// deleteResource runs one deletion and files the result into the report. A
// 404 from either remote system counts as success: the resource is already
// gone.
func (c *Cleaner) deleteResource(ctx context.Context, report *CleanupReport, kind ResourceKind, id, name string, dryRun bool, del func(context.Context) error) {
	if dryRun {
		report.Cleaned = append(report.Cleaned, CleanedResource{Kind: kind, ID: id, Name: name})
		return
	}

	err := del(ctx)
	if err != nil && !deletedAlready(err) {
		report.Errors = append(report.Errors, CleanupError{
			Kind: kind, ID: id, Name: name, Message: err.Error(),
		})
		c.recordResourceCleaned(string(kind), "failed")
		c.logger.WithResource(string(kind), name).WithError(err).Error("failed to delete resource")
		return
	}

	report.Cleaned = append(report.Cleaned, CleanedResource{Kind: kind, ID: id, Name: name})
	c.recordResourceCleaned(string(kind), "deleted")
	c.logger.WithResource(string(kind), name).Info("resource deleted")
}

func deletedAlready(err error) bool {
	if isNotFound(err) {
		return true
	}
	var platErr *platform.APIError
	if errors.As(err, &platErr) {
		return platErr.IsNotFound()
	}
	return false
}

func (c *Cleaner) recordCleanup(result string) {
	if c.metrics != nil {
		c.metrics.RecordCleanup(result)
	}
}

func (c *Cleaner) recordResourceCleaned(resourceType, result string) {
	if c.metrics != nil {
		c.metrics.RecordResourceCleaned(resourceType, result)
	}
}
