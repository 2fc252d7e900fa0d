package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stagehand/stagehand/pkg/telemetry"
)

// spanHandle wraps a span so pipeline code can record outcomes without
// caring whether tracing is enabled.
type spanHandle struct {
	span trace.Span
}

var noopRunSpan = spanHandle{}

func (s spanHandle) fail(err error) {
	if s.span != nil {
		telemetry.RecordError(s.span, err)
	}
}

func (s spanHandle) ok() {
	if s.span != nil {
		telemetry.RecordSuccess(s.span)
	}
}

func (s spanHandle) end() {
	if s.span != nil {
		s.span.End()
	}
}

func (p *Pipeline) startRunSpan(ctx context.Context, runID, scenarioID string) (context.Context, spanHandle) {
	if p.cfg.Tracer == nil {
		return ctx, noopRunSpan
	}
	sctx, span := p.cfg.Tracer.StartRunSpan(ctx, runID, scenarioID)
	return sctx, spanHandle{span: span}
}

func (p *Pipeline) startStepSpan(ctx context.Context, runID, step string) (context.Context, spanHandle) {
	if p.cfg.Tracer == nil {
		return ctx, noopRunSpan
	}
	sctx, span := p.cfg.Tracer.StartStepSpan(ctx, runID, step)
	return sctx, spanHandle{span: span}
}

func (p *Pipeline) publishRunStarted(runID, scenarioID string) {
	if p.cfg.Events != nil {
		p.cfg.Events.PublishRunStarted(runID, scenarioID)
	}
}

func (p *Pipeline) publishRunCompleted(runID string, duration time.Duration) {
	if p.cfg.Events != nil {
		p.cfg.Events.PublishRunCompleted(runID, duration)
	}
}

func (p *Pipeline) publishRunFailed(runID, reason string) {
	if p.cfg.Events != nil {
		p.cfg.Events.PublishRunFailed(runID, reason)
	}
}

func (p *Pipeline) publishStep(runID, step, status, message string) {
	if p.cfg.Events != nil {
		p.cfg.Events.PublishStep(runID, step, status, message)
	}
}

func (p *Pipeline) publishResource(runID, step, resourceType, name, outcome string) {
	if p.cfg.Events != nil {
		p.cfg.Events.PublishResource(runID, step, resourceType, name, outcome)
	}
}

func (p *Pipeline) recordRunStarted(scenarioID string) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordRunStarted(scenarioID)
	}
}

func (p *Pipeline) recordRunCompleted(scenarioID, status string, duration time.Duration) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordRunCompleted(scenarioID, status, duration)
	}
}

func (p *Pipeline) recordStepDuration(step string, duration time.Duration) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordStepDuration(step, duration)
	}
}

func (p *Pipeline) recordResourceOutcome(resourceType, outcome string) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordResourceOutcome(resourceType, outcome)
	}
}
