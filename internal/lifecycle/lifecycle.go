// Package lifecycle provides event hooks for browserd sessions and shutdown.
package lifecycle

import (
	"sync"

	"github.com/neboloop/browserd/internal/logging"
)

// Event types for lifecycle hooks
type Event string

const (
	// Server lifecycle events
	EventServerStarted   Event = "server_started"
	EventShutdownStarted Event = "shutdown_started"

	// Session lifecycle events
	EventSessionNew    Event = "session_new"
	EventSessionClosed Event = "session_closed"
	EventSessionReaped Event = "session_reaped"

	// Browser tree events
	EventBrowserLaunched  Event = "browser_launched"
	EventBrowserClosed    Event = "browser_closed"
	EventBrowserCrashed   Event = "browser_crashed"
	EventContextCreated   Event = "context_created"
	EventContextClosed    Event = "context_closed"
	EventPageOpened       Event = "page_opened"
	EventPageClosed       Event = "page_closed"
	EventPageNavigated    Event = "page_navigated"
	EventActivePageChange Event = "active_page_changed"
)

// Handler is a function that handles a lifecycle event
type Handler func(event Event, data any)

// SessionEventData is the payload of every session and browser tree event.
type SessionEventData struct {
	SessionID string `json:"sessionId"`
	BrowserID string `json:"browserId,omitempty"`
	Engine    string `json:"engine,omitempty"`
	ContextID string `json:"contextId,omitempty"`
	PageID    string `json:"pageId,omitempty"`
	Index     int    `json:"index,omitempty"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Manager manages lifecycle event subscriptions and dispatching
type Manager struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
	any      map[int]Handler
	nextID   int
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{
		handlers: make(map[Event][]Handler),
		any:      make(map[int]Handler),
	}
}

// Global lifecycle manager
var global = NewManager()

// Default returns the process-wide manager.
func Default() *Manager {
	return global
}

// On registers a handler for a lifecycle event
func On(event Event, handler Handler) {
	global.On(event, handler)
}

// Emit dispatches an event to all registered handlers
func Emit(event Event, data any) {
	global.Emit(event, data)
}

// On registers a handler for a lifecycle event
func (m *Manager) On(event Event, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

// Subscribe registers a handler for every event and returns a func that removes it.
func (m *Manager) Subscribe(handler Handler) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.any[id] = handler
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.any, id)
			m.mu.Unlock()
		})
	}
}

// Emit dispatches an event to all registered handlers.
// Handlers run synchronously and must not block.
func (m *Manager) Emit(event Event, data any) {
	m.mu.RLock()
	handlers := append([]Handler(nil), m.handlers[event]...)
	for _, h := range m.any {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	logging.Debugf("[lifecycle] Emitting event: %s", event)
	for _, h := range handlers {
		h(event, data)
	}
}

// OnServerStarted is a convenience function to register a server started handler
func OnServerStarted(handler func()) {
	On(EventServerStarted, func(e Event, data any) {
		handler()
	})
}

// OnShutdown is a convenience function to register a shutdown handler
func OnShutdown(handler func()) {
	On(EventShutdownStarted, func(e Event, data any) {
		handler()
	})
}

// OnBrowserCrashed registers a handler for crashed browser processes.
func (m *Manager) OnBrowserCrashed(handler func(data SessionEventData)) {
	m.On(EventBrowserCrashed, func(e Event, data any) {
		if d, ok := data.(SessionEventData); ok {
			handler(d)
		}
	})
}
