package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/dispatch"
	"github.com/neboloop/browserd/internal/logging"
)

// Reply is a decoded command response.
type Reply struct {
	Log    string           `json:"log"`
	Result *dispatch.Result `json:"result,omitempty"`
}

// CallError is a failed call. It unwraps to the browser sentinel of its kind
// so browser.KindOf works on the client side.
type CallError struct {
	Command string
	Kind    browser.Kind
	Status  *status.Status
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Status.Message())
}

func (e *CallError) Unwrap() error {
	return browser.ErrorForKind(e.Kind)
}

// Client calls a browserd server and logs the log line of every response.
// Its methods are the keyword set: OpenBrowser through AutoActivatePages.
type Client struct {
	conn    *grpc.ClientConn
	session string
	token   string
}

type ClientOption func(*clientOptions)

type clientOptions struct {
	session string
	token   string
	dial    []grpc.DialOption
}

// WithSession runs every call against session id.
func WithSession(id string) ClientOption {
	return func(o *clientOptions) { o.session = id }
}

// WithToken sends token as a bearer credential.
func WithToken(token string) ClientOption {
	return func(o *clientOptions) { o.token = token }
}

// WithDialOptions appends raw gRPC dial options, e.g. a bufconn dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(o *clientOptions) { o.dial = append(o.dial, opts...) }
}

// Dial connects to target ("host:port"). The connection is established lazily.
func Dial(target string, opts ...ClientOption) (*Client, error) {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	dial := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, o.dial...)
	conn, err := grpc.NewClient(target, dial...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn, session: o.session, token: o.token}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes command with a JSON object payload (nil for none).
func (c *Client) Call(ctx context.Context, command string, payload json.RawMessage) (*Reply, error) {
	in := &structpb.Struct{}
	if len(payload) > 0 {
		if err := protojson.Unmarshal(payload, in); err != nil {
			return nil, fmt.Errorf("%w: %v", browser.ErrMalformedPayload, err)
		}
	}

	var pairs []string
	if c.session != "" {
		pairs = append(pairs, SessionKey, c.session)
	}
	if c.token != "" {
		pairs = append(pairs, "authorization", "Bearer "+c.token)
	}
	if len(pairs) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	}

	out := &structpb.Struct{}
	var trailer metadata.MD
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+command, in, out, grpc.Trailer(&trailer))
	if err != nil {
		return nil, callError(command, err, trailer)
	}

	b, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", command, err)
	}
	var reply Reply
	if err := json.Unmarshal(b, &reply); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", command, err)
	}
	logging.Info(reply.Log)
	return &reply, nil
}

func callError(command string, err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", command, err)
	}
	kind := browser.KindInternal
	if v := trailer.Get(KindKey); len(v) > 0 && v[0] != "" {
		kind = browser.Kind(v[0])
	}
	return &CallError{Command: command, Kind: kind, Status: st}
}

func (c *Client) call(ctx context.Context, command dispatch.Command, p dispatch.Payload) (*Reply, error) {
	return c.Call(ctx, string(command), p.Marshal())
}

func rawOptions(opts map[string]any) (string, error) {
	if len(opts) == 0 {
		return "", nil
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("%w: options: %v", browser.ErrMalformedPayload, err)
	}
	return string(b), nil
}

// OpenBrowser opens engine and, when url is set, navigates a new page there.
func (c *Client) OpenBrowser(ctx context.Context, url string, engine browser.Engine, headless bool) (*Reply, error) {
	return c.call(ctx, dispatch.OpenBrowser, dispatch.Payload{URL: url, Browser: string(engine), Headless: &headless})
}

// CloseBrowser closes the current browser.
func (c *Client) CloseBrowser(ctx context.Context) (*Reply, error) {
	return c.call(ctx, dispatch.CloseBrowser, dispatch.Payload{})
}

// NewBrowser launches engine with playwright launch options.
func (c *Client) NewBrowser(ctx context.Context, engine browser.Engine, opts map[string]any) (*Reply, error) {
	raw, err := rawOptions(opts)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, dispatch.NewBrowser, dispatch.Payload{Browser: string(engine), RawOptions: raw})
}

// NewContext creates a browser context with playwright context options.
func (c *Client) NewContext(ctx context.Context, opts map[string]any) (*Reply, error) {
	raw, err := rawOptions(opts)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, dispatch.NewContext, dispatch.Payload{RawOptions: raw})
}

// NewPage opens a page, navigating to url when set.
func (c *Client) NewPage(ctx context.Context, url string) (*Reply, error) {
	return c.call(ctx, dispatch.NewPage, dispatch.Payload{URL: url})
}

// SwitchActivePage activates the page at index in the current context.
func (c *Client) SwitchActivePage(ctx context.Context, index int) (*Reply, error) {
	return c.call(ctx, dispatch.SwitchActivePage, dispatch.Payload{Index: &index})
}

// AutoActivatePages toggles activating newly opened pages.
func (c *Client) AutoActivatePages(ctx context.Context) (*Reply, error) {
	return c.call(ctx, dispatch.AutoActivatePages, dispatch.Payload{})
}

// IsKind reports whether err is a call error of kind.
func IsKind(err error, kind browser.Kind) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == kind
}
