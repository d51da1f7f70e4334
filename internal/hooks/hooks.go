// Package hooks lets embedders observe realtime session lifecycle events.
package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/logging"
)

// Event names for the hook system.
const (
	EventSessionStart       = "session_start"
	EventSocketOpen         = "socket_open"
	EventSocketClose        = "socket_close"
	EventReconnectScheduled = "reconnect_scheduled"
	EventSessionTerminal    = "session_terminal"
	EventSessionComplete    = "session_complete"
	EventSessionEnd         = "session_end"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventSessionStart,
	EventSocketOpen,
	EventSocketClose,
	EventReconnectScheduled,
	EventSessionTerminal,
	EventSessionComplete,
	EventSessionEnd,
}

// Payload carries event data to hook handlers.
type Payload struct {
	Event     string             `json:"event"`
	SessionID string             `json:"sessionId,omitempty"`
	Kind      domain.SessionKind `json:"kind,omitempty"`
	At        time.Time          `json:"at"`
	Data      map[string]any     `json:"data,omitempty"`
}

// Handler is a function that handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event.
// The name identifies the handler for logging and debugging.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// OnAll registers one handler for every known event.
func (m *Manager) OnAll(name string, handler Handler) {
	for _, ev := range AllEvents {
		m.On(ev, name, handler)
	}
}

// Off removes all handlers with the given name from the event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handlers := m.handlers[event]
	filtered := make([]namedHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	m.handlers[event] = filtered
}

// Emit dispatches an event for a session to all registered handlers
// synchronously, in registration order. Handler errors and panics are logged
// and do not prevent subsequent handlers from running.
func (m *Manager) Emit(ctx context.Context, event string, sess domain.Session, data map[string]any) {
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}
	p := newPayload(event, sess, data)
	for _, h := range handlers {
		m.call(ctx, h, p)
	}
}

// EmitAsync dispatches an event to all registered handlers concurrently.
// Returns immediately; handler errors are logged.
func (m *Manager) EmitAsync(ctx context.Context, event string, sess domain.Session, data map[string]any) {
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}
	p := newPayload(event, sess, data)
	for _, h := range handlers {
		go m.call(ctx, h, p)
	}
}

func newPayload(event string, sess domain.Session, data map[string]any) Payload {
	return Payload{
		Event:     event,
		SessionID: sess.ID,
		Kind:      sess.Kind,
		At:        time.Now(),
		Data:      data,
	}
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handlers := make([]namedHandler, len(m.handlers[event]))
	copy(handlers, m.handlers[event])
	return handlers
}

func (m *Manager) call(ctx context.Context, h namedHandler, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("event", p.Event).
				Str("handler", h.name).
				Str("panic", fmt.Sprint(r)).
				Msg("hook handler panicked")
		}
	}()
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Msg("hook handler error")
	}
}

// Count returns the number of handlers registered for an event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the list of events that have at least one handler registered.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	return events
}

// LogHandler returns a handler that writes each event to log at debug level.
func LogHandler(log *logging.Logger) Handler {
	return func(_ context.Context, p Payload) error {
		ev := log.Debug().Str("event", p.Event).Str("session", p.SessionID).Str("kind", string(p.Kind))
		if len(p.Data) > 0 {
			ev = ev.Fields(p.Data)
		}
		ev.Msg("session event")
		return nil
	}
}
