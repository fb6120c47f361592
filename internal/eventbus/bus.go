// Package eventbus implements the in-process publish/subscribe bus that
// every other component reacts through instead of calling each other
// directly (§4.A). Grounded on the buffered-channel broker shape in
// other_examples/cb369555_cuemby-warren__pkg-events-doc.go.go and the
// handler-slice-snapshot broadcast pattern in
// other_examples/72a5c814_LiranCohen-dex__internal-realtime-broadcaster.go.go.
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/metrics"
)

// EventKind is a closed enum of every event the platform emits.
type EventKind string

const (
	AgentCreated     EventKind = "AGENT_CREATED"
	AgentUpdated     EventKind = "AGENT_UPDATED"
	AgentDeleted     EventKind = "AGENT_DELETED"
	RunCreated       EventKind = "RUN_CREATED"
	RunRunning       EventKind = "RUN_RUNNING"
	RunFinished      EventKind = "RUN_FINISHED"
	ThreadMessage    EventKind = "THREAD_MESSAGE"
	WorkflowStarted  EventKind = "WORKFLOW_STARTED"
	WorkflowFinished EventKind = "WORKFLOW_FINISHED"
	NodeStateChanged EventKind = "NODE_STATE_CHANGED"
	WorkerStarted    EventKind = "WORKER_STARTED"
	WorkerToolCall   EventKind = "WORKER_TOOL_STARTED"
	WorkerFinished   EventKind = "WORKER_FINISHED"
	TriggerFired     EventKind = "TRIGGER_FIRED"
)

// Event is one message published on the bus.
type Event struct {
	Kind      EventKind
	Payload   interface{}
	Timestamp time.Time
}

// Handler reacts to an Event. A panicking handler never stops the other
// subscribers on the same kind or a re-entrant publish from within a
// handler (§4.A contract).
type Handler func(Event)

// Bus is the in-process pub/sub hub. Zero value is unusable; use New.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventKind][]Handler
	logger   *zap.Logger
}

// New builds an empty Bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventKind][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for a kind. Returns an unsubscribe func.
func (b *Bus) Subscribe(kind EventKind, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[kind] = append(b.handlers[kind], h)
	idx := len(b.handlers[kind]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[kind]
		if idx < 0 || idx >= len(hs) {
			return
		}
		b.handlers[kind] = append(hs[:idx], hs[idx+1:]...)
	}
}

// Publish snapshots the current handler slice for kind and invokes each
// serially, in registration order, recovering and logging any panic so one
// bad handler never prevents the rest from running. Because the slice is
// copied before iteration, a handler may safely call Publish again
// (including on its own kind) without deadlocking on b.mu.
func (b *Bus) Publish(kind EventKind, payload interface{}) {
	b.mu.RLock()
	snapshot := make([]Handler, len(b.handlers[kind]))
	copy(snapshot, b.handlers[kind])
	b.mu.RUnlock()

	evt := Event{Kind: kind, Payload: payload, Timestamp: time.Now()}

	for _, h := range snapshot {
		b.invoke(h, evt)
	}
}

func (b *Bus) invoke(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.EventsPublished.WithLabelValues(string(evt.Kind), "panic").Inc()
			if b.logger != nil {
				b.logger.Error("event handler panicked",
					zap.String("kind", string(evt.Kind)),
					zap.Any("recovered", r),
				)
			}
			return
		}
		metrics.EventsPublished.WithLabelValues(string(evt.Kind), "ok").Inc()
	}()
	h(evt)
}
