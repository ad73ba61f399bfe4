// Package events provides a lightweight in-process publish/subscribe bus for
// acquisition lifecycle events. The HTTP layer and CLI attach listeners for
// logging; components emit without knowing who listens.
package events

import (
	"log"
	"sync"
	"time"
)

// EventType identifies a class of lifecycle event.
type EventType string

const (
	// Task lifecycle events.
	EventTaskSubmitted EventType = "task_submitted"
	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"

	// Strategy ladder events.
	EventStrategyAttempt   EventType = "strategy_attempt"
	EventStrategyFailed    EventType = "strategy_failed"
	EventStrategySucceeded EventType = "strategy_succeeded"

	// Cache events.
	EventCacheHit     EventType = "cache_hit"
	EventCacheMiss    EventType = "cache_miss"
	EventCacheEvicted EventType = "cache_evicted"
	EventCacheCleared EventType = "cache_cleared"

	// File lifecycle events.
	EventFileServed  EventType = "file_served"
	EventFileDeleted EventType = "file_deleted"
)

// Event is one lifecycle notification.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TaskID    string         `json:"task_id,omitempty"`
	URL       string         `json:"url,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Listener handles delivered events. Listeners run synchronously on the
// emitting goroutine and must not block.
type Listener func(Event)

// Emitter fans events out to registered listeners. The zero value is not
// usable; construct with NewEmitter.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[EventType][]Listener
	all       []Listener
	closed    bool
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{
		listeners: make(map[EventType][]Listener),
	}
}

// On registers a listener for one event type.
func (e *Emitter) On(t EventType, l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	e.listeners[t] = append(e.listeners[t], l)
}

// OnAll registers a listener for every event type. Useful for logging.
func (e *Emitter) OnAll(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	e.all = append(e.all, l)
}

// Emit delivers the event to listeners for its type, then to catch-all
// listeners. A panicking listener is logged and does not stop delivery.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}

	targets := make([]Listener, 0, len(e.listeners[event.Type])+len(e.all))
	targets = append(targets, e.listeners[event.Type]...)
	targets = append(targets, e.all...)
	e.mu.RUnlock()

	for _, l := range targets {
		deliver(l, event)
	}
}

func deliver(l Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Warning: event listener panic on %s: %v", event.Type, r)
		}
	}()

	l(event)
}

// ListenerCount returns how many listeners are registered for a type,
// excluding catch-all listeners.
func (e *Emitter) ListenerCount(t EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.listeners[t])
}

// RemoveAll drops every listener for the given types, or all listeners when
// no type is given.
func (e *Emitter) RemoveAll(types ...EventType) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(types) == 0 {
		e.listeners = make(map[EventType][]Listener)
		e.all = nil
		return
	}

	for _, t := range types {
		delete(e.listeners, t)
	}
}

// Close drops all listeners and ignores further registrations and emits.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	e.listeners = make(map[EventType][]Listener)
	e.all = nil
}
