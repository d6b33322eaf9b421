// Package events provides the in-process notification channel that decouples
// the sync engine from anything presenting state to a user.
package events

import (
	"sync"
	"time"
)

type Type string

const (
	SyncSuccess    Type = "sync_success"
	SyncError      Type = "sync_error"
	TriggerSync    Type = "trigger_sync"
	FreshData      Type = "fresh_data"
	WeatherUpdated Type = "weather_updated"
)

// Event is broadcast-only and never persisted.
type Event struct {
	Type    Type           `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

type Handler func(Event)

// Filter selects which events a subscriber receives. A nil filter matches
// every event.
type Filter func(Event) bool

// TypeFilter matches events of a single type.
func TypeFilter(t Type) Filter {
	return func(e Event) bool { return e.Type == t }
}

type subscription struct {
	filter  Filter
	handler Handler
}

type Bus struct {
	mu   sync.RWMutex
	subs map[int]subscription
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers a handler and returns its unsubscribe function.
func (b *Bus) Subscribe(filter Filter, handler Handler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscription{filter: filter, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Emit broadcasts an event to all matching subscribers. A panicking
// handler is recovered so one bad consumer cannot break the channel.
func (b *Bus) Emit(t Type, payload map[string]any) {
	event := Event{Type: t, Payload: payload, At: time.Now().UTC()}

	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter == nil || sub.filter(event) {
			matched = append(matched, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		func() {
			defer func() { recover() }()
			h(event)
		}()
	}
}
