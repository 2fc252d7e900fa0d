package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProgressEvent is a structured progress notification emitted by the creation
// pipeline and the cleanup engine. Events are purely observational: dropping
// one never affects execution correctness.
type ProgressEvent struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID identifies the pipeline or cleanup run.
	RunID string `json:"run_id,omitempty"`

	// Step is the pipeline step identifier, if applicable.
	Step string `json:"step,omitempty"`

	// Status is the step status (started, completed, failed, skipped).
	Status string `json:"status,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event type constants.
const (
	EventTypeRunStarted    = "run.started"
	EventTypeRunCompleted  = "run.completed"
	EventTypeRunFailed     = "run.failed"
	EventTypeStepStarted   = "step.started"
	EventTypeStepCompleted = "step.completed"
	EventTypeStepFailed    = "step.failed"
	EventTypeStepSkipped   = "step.skipped"
	EventTypeResource      = "resource"
	EventTypeCleanup       = "cleanup"
)

// Step status constants.
const (
	StepStatusStarted   = "started"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
	StepStatusSkipped   = "skipped"
)

// EventBus fans progress events out to subscribers. Each subscriber owns a
// bounded channel; when the channel is full the event is dropped for that
// subscriber (at-most-once delivery). With no subscribers attached, Publish
// is a no-op.
type EventBus struct {
	config EventsConfig

	mu     sync.RWMutex
	subs   map[int]chan ProgressEvent
	nextID int
	closed bool
}

// NewEventBus creates a new event bus with the given configuration.
func NewEventBus(cfg EventsConfig) *EventBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &EventBus{
		config: cfg,
		subs:   make(map[int]chan ProgressEvent),
	}
}

// Subscribe registers a new subscriber and returns its event channel along
// with an unsubscribe function. The channel is closed on unsubscribe or bus
// shutdown.
func (b *EventBus) Subscribe() (<-chan ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan ProgressEvent, b.config.BufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish delivers an event to every subscriber whose buffer has room.
func (b *EventBus) Publish(event ProgressEvent) {
	if !b.config.Enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full: drop rather than block the pipeline.
		}
	}
}

// PublishRunStarted publishes a run started event.
func (b *EventBus) PublishRunStarted(runID, scenarioID string) {
	b.Publish(ProgressEvent{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("run %s started for scenario %s", runID, scenarioID),
		Data: map[string]interface{}{
			"scenario": scenarioID,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (b *EventBus) PublishRunCompleted(runID string, duration time.Duration) {
	b.Publish(ProgressEvent{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Message: fmt.Sprintf("run %s completed", runID),
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (b *EventBus) PublishRunFailed(runID, reason string) {
	b.Publish(ProgressEvent{
		Type:    EventTypeRunFailed,
		RunID:   runID,
		Message: fmt.Sprintf("run %s failed: %s", runID, reason),
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStep publishes a step progress event.
func (b *EventBus) PublishStep(runID, step, status, message string) {
	eventType := EventTypeStepStarted
	switch status {
	case StepStatusCompleted:
		eventType = EventTypeStepCompleted
	case StepStatusFailed:
		eventType = EventTypeStepFailed
	case StepStatusSkipped:
		eventType = EventTypeStepSkipped
	}
	b.Publish(ProgressEvent{
		Type:    eventType,
		RunID:   runID,
		Step:    step,
		Status:  status,
		Message: message,
	})
}

// PublishResource publishes a resource-level progress event (created, reused,
// deleted, skipped).
func (b *EventBus) PublishResource(runID, step, resourceType, name, outcome string) {
	b.Publish(ProgressEvent{
		Type:    EventTypeResource,
		RunID:   runID,
		Step:    step,
		Message: fmt.Sprintf("%s %s: %s", resourceType, name, outcome),
		Data: map[string]interface{}{
			"resource_type": resourceType,
			"resource_name": name,
			"outcome":       outcome,
		},
	})
}

// Shutdown closes all subscriber channels. Publishing after shutdown is a
// no-op.
func (b *EventBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
