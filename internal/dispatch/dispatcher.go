package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/crashlog"
	"github.com/neboloop/browserd/internal/logging"
)

// Request is one named command with its JSON payload.
type Request struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the log line plus the command's result.
type Response struct {
	Log    string  `json:"log"`
	Result *Result `json:"result,omitempty"`
}

// Result carries the identifiers a command produced or touched.
type Result struct {
	BrowserID    string         `json:"browserId,omitempty"`
	Engine       string         `json:"engine,omitempty"`
	ContextID    string         `json:"contextId,omitempty"`
	PageID       string         `json:"pageId,omitempty"`
	Index        *int           `json:"index,omitempty"`
	URL          string         `json:"url,omitempty"`
	AutoActivate *bool          `json:"autoActivate,omitempty"`
	Closed       *bool          `json:"closed,omitempty"`
	Crashed      bool           `json:"crashed,omitempty"`
	State        *browser.State `json:"state,omitempty"`
}

// Sessions resolves a session id. *browser.Manager implements it.
type Sessions interface {
	Session(id string) (*browser.Session, error)
}

// Entry is what a Recorder receives for every dispatched command.
type Entry struct {
	SessionID string
	Command   string
	Payload   json.RawMessage
	Log       string
	Kind      browser.Kind
	Err       error
	Duration  time.Duration
	At        time.Time
}

// Recorder persists dispatched commands. Record must not block for long.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Observer receives per-command outcomes, e.g. for metrics.
type Observer interface {
	Observe(command string, kind browser.Kind, d time.Duration)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// Dispatcher validates commands and routes them to sessions. It holds no
// session state of its own.
type Dispatcher struct {
	sessions Sessions
	recorder Recorder
	observer Observer
	log      *zap.Logger
}

func New(sessions Sessions, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sessions: sessions,
		log:      logging.Named("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs req against the session named sessionID. Unknown commands
// and malformed payloads fail before the session is touched.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, req Request) (resp *Response, err error) {
	if sessionID == "" {
		sessionID = browser.DefaultSessionID
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			crashlog.LogPanic("dispatch", r, map[string]string{
				"session": sessionID,
				"command": req.Command,
			})
			resp, err = nil, fmt.Errorf("internal error in %s: %v", req.Command, r)
		}
		d.finish(ctx, sessionID, req, resp, err, start)
	}()

	cmd, err := ParseCommand(req.Command)
	if err != nil {
		return nil, err
	}
	rt := routes[cmd]
	payload, err := decodePayload(req.Payload, rt.fields)
	if err != nil {
		return nil, err
	}
	if rt.validate != nil {
		if err := rt.validate(payload); err != nil {
			return nil, err
		}
	}

	s, err := d.sessions.Session(sessionID)
	if err != nil {
		return nil, err
	}
	r, err := rt.handle(ctx, s, payload)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (d *Dispatcher) finish(ctx context.Context, sessionID string, req Request, resp *Response, err error, start time.Time) {
	took := time.Since(start)
	kind := browser.KindOf(err)

	fields := []zap.Field{
		zap.String("session", sessionID),
		zap.String("command", req.Command),
		zap.Duration("took", took),
	}
	if err != nil {
		d.log.Warn("command failed", append(fields, zap.String("kind", string(kind)), zap.Error(err))...)
	} else {
		d.log.Debug("command ok", append(fields, zap.String("log", resp.Log))...)
	}

	if d.observer != nil {
		d.observer.Observe(req.Command, kind, took)
	}
	if d.recorder != nil {
		e := Entry{
			SessionID: sessionID,
			Command:   req.Command,
			Payload:   req.Payload,
			Kind:      kind,
			Err:       err,
			Duration:  took,
			At:        start,
		}
		if resp != nil {
			e.Log = resp.Log
		}
		d.recorder.Record(context.WithoutCancel(ctx), e)
	}
}
