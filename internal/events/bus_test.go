package events

import (
	"testing"
)

func TestSubscribeAndEmit(t *testing.T) {
	bus := NewBus()

	var got []Event
	bus.Subscribe(nil, func(e Event) { got = append(got, e) })

	bus.Emit(SyncSuccess, map[string]any{"id": "op-1"})

	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	if got[0].Type != SyncSuccess {
		t.Errorf("Expected sync_success, got %s", got[0].Type)
	}
	if got[0].Payload["id"] != "op-1" {
		t.Errorf("Payload not delivered: %v", got[0].Payload)
	}
	if got[0].At.IsZero() {
		t.Error("Event timestamp not set")
	}
}

func TestTypeFilterSelectsEvents(t *testing.T) {
	bus := NewBus()

	var errorsSeen int
	bus.Subscribe(TypeFilter(SyncError), func(Event) { errorsSeen++ })

	bus.Emit(SyncSuccess, nil)
	bus.Emit(SyncError, nil)
	bus.Emit(WeatherUpdated, nil)

	if errorsSeen != 1 {
		t.Errorf("Filter let through %d events, want 1", errorsSeen)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	var seen int
	unsubscribe := bus.Subscribe(nil, func(Event) { seen++ })

	bus.Emit(FreshData, nil)
	unsubscribe()
	bus.Emit(FreshData, nil)

	if seen != 1 {
		t.Errorf("Expected 1 delivery after unsubscribe, got %d", seen)
	}
}

func TestPanickingHandlerDoesNotBreakOthers(t *testing.T) {
	bus := NewBus()

	var delivered bool
	bus.Subscribe(nil, func(Event) { panic("bad consumer") })
	bus.Subscribe(nil, func(Event) { delivered = true })

	bus.Emit(SyncSuccess, nil)

	if !delivered {
		t.Error("A panicking handler starved the other subscribers")
	}
}
