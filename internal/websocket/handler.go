package websocket

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/dispatch"
	"github.com/neboloop/browserd/internal/lifecycle"
	"github.com/neboloop/browserd/internal/logging"
	"github.com/neboloop/browserd/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// browserd listens on localhost by default; remote callers authenticate with a token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks live connections and fans session events out to them.
type Hub struct {
	dispatcher  *dispatch.Dispatcher
	connections prometheus.Gauge

	mu      sync.Mutex
	clients map[*Client]struct{}
	wg      sync.WaitGroup

	unsubscribe func()
}

// NewHub returns a hub dispatching through d and pushing events from events.
// connections may be nil.
func NewHub(d *dispatch.Dispatcher, events *lifecycle.Manager, connections prometheus.Gauge) *Hub {
	h := &Hub{
		dispatcher:  d,
		connections: connections,
		clients:     make(map[*Client]struct{}),
	}
	h.unsubscribe = events.Subscribe(h.broadcast)
	return h
}

// Handler returns an HTTP handler function for WebSocket upgrades. The
// session comes from the "session" query parameter.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session")
		if sessionID == "" {
			sessionID = browser.DefaultSessionID
		}
		ctx := r.Context()
		if !middleware.SessionAllowed(ctx, sessionID) {
			http.Error(w, "token is not valid for this session", http.StatusForbidden)
			return
		}

		clientID := r.URL.Query().Get("clientId")
		if clientID == "" {
			clientID = "client-" + uuid.New().String()[:8]
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Errorf("WebSocket upgrade error: %v", err)
			return
		}
		logging.Infof("Serving WebSocket for clientID: %s, session: %s", clientID, sessionID)

		allowed := func(id string) bool { return middleware.SessionAllowed(ctx, id) }
		c := newClient(conn, h, clientID, sessionID, allowed)
		h.register(c)

		go c.writePump()
		go c.readPump()
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	h.wg.Add(2) // read and write pumps
	if h.connections != nil {
		h.connections.Inc()
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if h.connections != nil {
		h.connections.Dec()
	}
}

// broadcast pushes session events to the clients bound to that session.
func (h *Hub) broadcast(event lifecycle.Event, data any) {
	ev, ok := data.(lifecycle.SessionEventData)
	if !ok {
		return
	}

	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.SessionID == ev.SessionID {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.SendMessage(&Message{Type: TypeEvent, Event: string(event), Session: ev.SessionID, Data: ev}); err != nil {
			logging.Debugf("dropping %s event for %s: %v", event, c.ID, err)
		}
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops receiving events.
func (h *Hub) Close() {
	h.unsubscribe()

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.wg.Wait()
}
