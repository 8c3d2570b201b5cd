// Package eventbus is the observability fan-out for orchestrator state
// changes. The orchestrator publishes stamina level transitions to it; the
// admin CLI and the TUI do not subscribe. It is deliberately
// not on the C4->C7 hot path: that handoff goes through queue.FlushListener
// directly so a slow or absent observability subscriber can never stall a
// flush.
package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is a single published occurrence.
type Event interface {
	Type() string
	Timestamp() time.Time
	Payload() any
}

// BaseEvent is the default Event implementation.
type BaseEvent struct {
	EventType      string
	EventTimestamp time.Time
	EventPayload   any
}

func (e *BaseEvent) Type() string         { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTimestamp }
func (e *BaseEvent) Payload() any         { return e.EventPayload }

// NewEvent stamps the current time. now is injected so callers in tests
// can avoid real wall-clock dependence if needed.
func NewEvent(eventType string, payload any, now time.Time) *BaseEvent {
	return &BaseEvent{EventType: eventType, EventTimestamp: now, EventPayload: payload}
}

// Handler processes one event. Panics are recovered per-handler.
type Handler func(ctx context.Context, event Event)

// Bus is a buffered, non-blocking pub/sub fan-out.
type Bus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType string, handler Handler)
	Unsubscribe(eventType string, handler Handler)
	Close()
}

// InMemoryBus dispatches events to subscribers on a background goroutine.
// Publish never blocks the caller; a full buffer drops the event.
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	eventChan chan eventWrapper
	closed    bool
	logger    *zap.Logger
	wg        sync.WaitGroup
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// NewInMemoryBus starts the dispatch loop immediately.
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	bus := &InMemoryBus{
		handlers:  make(map[string][]Handler),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger.With(zap.String("component", "eventbus")),
	}
	bus.wg.Add(1)
	go bus.dispatch()
	return bus
}

// Publish is non-blocking: a full buffer drops the event with a warning.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
	default:
		b.logger.Warn("event buffer full, dropping event", zap.String("type", event.Type()))
	}
}

// Subscribe registers handler for eventType, or for every event when
// eventType is "*".
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Unsubscribe removes the most recently registered handler for eventType.
// Go has no function-pointer equality, so the handler argument only
// disambiguates intent; the last registration is dropped.
func (b *InMemoryBus) Unsubscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := b.handlers[eventType]
	if len(handlers) == 0 {
		return
	}
	handlers = handlers[:len(handlers)-1]
	if len(handlers) == 0 {
		delete(b.handlers, eventType)
	} else {
		b.handlers[eventType] = handlers
	}
}

// Close stops accepting new events and waits for the dispatch loop to
// drain what's already buffered.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("eventbus closed")
}

func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()
	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type()])+len(b.handlers["*"]))
	handlers = append(handlers, b.handlers[event.Type()]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", zap.String("type", event.Type()), zap.Any("panic", r))
				}
			}()
			h(ctx, event)
		}(handler)
	}
	wg.Wait()
}

// Event types of the observability vocabulary. The orchestrator publishes
// only EventStaminaLevelChanged; the others are not published.
const (
	EventCredentialBlocked   = "credential_blocked"
	EventCredentialUnblocked = "credential_unblocked"
	EventStaminaLevelChanged = "stamina_level_changed"
	EventTaskDeadLettered    = "task_dead_lettered"
	EventCorrelationEvicted  = "correlation_evicted"
	EventQueueFlushed        = "queue_flushed"
)

// CredentialStatePayload accompanies EventCredentialBlocked/Unblocked.
type CredentialStatePayload struct {
	CredentialID string
	Reason       string
}

// StaminaLevelPayload accompanies EventStaminaLevelChanged.
type StaminaLevelPayload struct {
	Level   string
	Current float64
	Max     float64
}

// TaskDeadLetterPayload accompanies EventTaskDeadLettered.
type TaskDeadLetterPayload struct {
	Kind           string
	PayloadSummary string
	Err            string
	Attempts       int
}

// CorrelationEvictedPayload accompanies EventCorrelationEvicted.
type CorrelationEvictedPayload struct {
	InboundMessageID string
	ContextID        string
}

// QueueFlushedPayload accompanies EventQueueFlushed, mirroring queue.FlushResult
// for consumers that only care about the headline numbers.
type QueueFlushedPayload struct {
	ContextID string
	Reason    string
	BatchSize int
}
