package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/dispatch"
	"github.com/neboloop/browserd/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10 // must stay below pongWait
	maxFrameSize   = 32 << 10
	sendBufferSize = 256
)

var (
	ErrClientSendBufferFull = errors.New("websocket: send buffer full")
	ErrClientClosed         = errors.New("websocket: client closed")
)

// Frame is an inbound command. Session overrides the connection's session.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Session string          `json:"session,omitempty"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is an outbound frame: a command response, an error or a pushed event.
type Message struct {
	Type    string           `json:"type"`
	ID      string           `json:"id,omitempty"`
	Log     string           `json:"log,omitempty"`
	Result  *dispatch.Result `json:"result,omitempty"`
	Error   *ErrorBody       `json:"error,omitempty"`
	Event   string           `json:"event,omitempty"`
	Session string           `json:"session,omitempty"`
	Data    any              `json:"data,omitempty"`
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const (
	TypeResponse = "response"
	TypeError    = "error"
	TypeEvent    = "event"
)

// Client is one WebSocket connection bound to a session. Frames are
// dispatched in arrival order; responses and pushed events share one
// outbound queue drained by writePump.
type Client struct {
	ID        string
	SessionID string

	conn *websocket.Conn
	hub  *Hub
	out  chan []byte

	// allowed gates per-frame session overrides.
	allowed func(sessionID string) bool

	// ctx is cancelled by Close. It bounds in-flight commands and stops
	// writePump; out is never closed.
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, hub *Hub, id, sessionID string, allowed func(string) bool) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:        id,
		SessionID: sessionID,
		conn:      conn,
		hub:       hub,
		out:       make(chan []byte, sendBufferSize),
		allowed:   allowed,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Close()
		c.hub.wg.Done()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warnf("[ws] client %s: %v", c.ID, err)
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data := <-c.out:
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ping.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		case <-c.ctx.Done():
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.reply(errorMessage("", "", string(browser.KindMalformedPayload), "frame is not valid JSON: "+err.Error()))
		return
	}

	session := c.SessionID
	if frame.Session != "" {
		if !c.allowed(frame.Session) {
			c.reply(errorMessage(frame.ID, "", "Forbidden", "token is not valid for session "+frame.Session))
			return
		}
		session = frame.Session
	}

	resp, err := c.hub.dispatcher.Dispatch(c.ctx, session, dispatch.Request{
		Command: frame.Command,
		Payload: frame.Payload,
	})
	if err != nil {
		c.reply(errorMessage(frame.ID, session, string(browser.KindOf(err)), err.Error()))
		return
	}
	c.reply(&Message{
		Type:    TypeResponse,
		ID:      frame.ID,
		Session: session,
		Log:     resp.Log,
		Result:  resp.Result,
	})
}

func errorMessage(id, session, kind, msg string) *Message {
	return &Message{
		Type:    TypeError,
		ID:      id,
		Session: session,
		Error:   &ErrorBody{Kind: kind, Message: msg},
	}
}

// reply queues a command response, waiting for room rather than dropping it.
// Only the client going away stops it.
func (c *Client) reply(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Errorf("[ws] client %s: encode reply %s: %v", c.ID, msg.ID, err)
		return
	}
	select {
	case c.out <- data:
	case <-c.ctx.Done():
		logging.Debugf("[ws] client %s gone before reply %s", c.ID, msg.ID)
	}
}

// SendMessage queues a pushed event without blocking. A full queue drops it.
func (c *Client) SendMessage(msg *Message) error {
	if c.IsClosed() {
		return ErrClientClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientClosed
	default:
		return ErrClientSendBufferFull
	}
}

func (c *Client) IsClosed() bool {
	return c.ctx.Err() != nil
}

// Close cancels in-flight commands and tells writePump to say goodbye.
// The connection itself is closed by writePump so the close frame is not
// raced by a concurrent Close on the socket.
func (c *Client) Close() {
	c.closeOnce.Do(c.cancel)
}
