package telemetry

import (
	"testing"
	"time"
)

func TestEventBus_PublishDelivers(t *testing.T) {
	bus := NewEventBus(EventsConfig{Enabled: true, BufferSize: 4})
	defer bus.Shutdown()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.PublishRunStarted("run-1", "retail-demo")

	select {
	case event := <-ch:
		if event.Type != EventTypeRunStarted {
			t.Errorf("Expected type %q, got %q", EventTypeRunStarted, event.Type)
		}
		if event.RunID != "run-1" {
			t.Errorf("Expected run id 'run-1', got %q", event.RunID)
		}
		if event.ID == "" {
			t.Error("Expected event id to be assigned")
		}
		if event.Timestamp.IsZero() {
			t.Error("Expected timestamp to be assigned")
		}
		if event.Data["scenario"] != "retail-demo" {
			t.Errorf("Expected scenario in data, got %v", event.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestEventBus_Disabled(t *testing.T) {
	bus := NewEventBus(EventsConfig{Enabled: false, BufferSize: 4})
	defer bus.Shutdown()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(ProgressEvent{Type: EventTypeResource, Message: "ignored"})

	select {
	case event := <-ch:
		t.Fatalf("Expected no delivery on disabled bus, got %+v", event)
	default:
	}
}

func TestEventBus_DropsWhenBufferFull(t *testing.T) {
	bus := NewEventBus(EventsConfig{Enabled: true, BufferSize: 2})
	defer bus.Shutdown()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for i := 0; i < 5; i++ {
		bus.PublishStep("run-1", "environments", StepStatusStarted, "working")
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received != 2 {
		t.Errorf("Expected 2 buffered events, got %d", received)
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(EventsConfig{Enabled: true, BufferSize: 4})
	defer bus.Shutdown()

	ch1, unsub1 := bus.Subscribe()
	defer unsub1()
	ch2, unsub2 := bus.Subscribe()
	defer unsub2()

	bus.PublishResource("run-1", "repositories", "repository", "acme-shop", "created")

	for _, ch := range []<-chan ProgressEvent{ch1, ch2} {
		select {
		case event := <-ch:
			if event.Data["resource_name"] != "acme-shop" {
				t.Errorf("Expected resource_name 'acme-shop', got %v", event.Data)
			}
			if event.Data["outcome"] != "created" {
				t.Errorf("Expected outcome 'created', got %v", event.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for event")
		}
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(EventsConfig{Enabled: true, BufferSize: 4})
	defer bus.Shutdown()

	ch, unsubscribe := bus.Subscribe()
	unsubscribe()

	if _, open := <-ch; open {
		t.Error("Expected channel to be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.PublishRunCompleted("run-1", time.Second)
}

func TestEventBus_Shutdown(t *testing.T) {
	bus := NewEventBus(EventsConfig{Enabled: true, BufferSize: 4})

	ch, _ := bus.Subscribe()
	bus.Shutdown()

	if _, open := <-ch; open {
		t.Error("Expected channel to be closed after shutdown")
	}

	bus.PublishRunFailed("run-1", "boom")

	chAfter, _ := bus.Subscribe()
	if _, open := <-chAfter; open {
		t.Error("Expected subscription after shutdown to return a closed channel")
	}
}

func TestEventBus_StepStatusTypes(t *testing.T) {
	tests := []struct {
		status   string
		wantType string
	}{
		{StepStatusStarted, EventTypeStepStarted},
		{StepStatusCompleted, EventTypeStepCompleted},
		{StepStatusFailed, EventTypeStepFailed},
		{StepStatusSkipped, EventTypeStepSkipped},
	}

	bus := NewEventBus(EventsConfig{Enabled: true, BufferSize: 8})
	defer bus.Shutdown()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for _, tt := range tests {
		bus.PublishStep("run-1", "flags", tt.status, "msg")
		event := <-ch
		if event.Type != tt.wantType {
			t.Errorf("Status %q: expected type %q, got %q", tt.status, tt.wantType, event.Type)
		}
	}
}
