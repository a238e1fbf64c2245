package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/netutil"
	"google.golang.org/grpc"

	"github.com/neboloop/browserd/internal/handler"
	"github.com/neboloop/browserd/internal/handler/journal"
	"github.com/neboloop/browserd/internal/handler/session"
	"github.com/neboloop/browserd/internal/lifecycle"
	"github.com/neboloop/browserd/internal/logging"
	"github.com/neboloop/browserd/internal/mcp"
	"github.com/neboloop/browserd/internal/metrics"
	"github.com/neboloop/browserd/internal/middleware"
	"github.com/neboloop/browserd/internal/rpc"
	"github.com/neboloop/browserd/internal/svc"
	"github.com/neboloop/browserd/internal/websocket"
)

// ServerOptions holds optional settings for the server
type ServerOptions struct {
	Quiet bool // Suppress startup messages and request logs
}

// Server serves one ServiceContext over HTTP and gRPC.
type Server struct {
	svcCtx *svc.ServiceContext
	opts   ServerOptions

	hub     *websocket.Hub
	handler http.Handler
	grpc    *grpc.Server
}

// New builds the router and the gRPC server. Nothing listens until Serve.
func New(svcCtx *svc.ServiceContext, opts ...ServerOptions) *Server {
	var o ServerOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	s := &Server{
		svcCtx: svcCtx,
		opts:   o,
		hub:    websocket.NewHub(svcCtx.Dispatcher, svcCtx.Events, svcCtx.Metrics.WSConnections),
		grpc:   rpc.NewServer(svcCtx.Dispatcher, svcCtx.Config.Auth.AccessSecret),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	c := s.svcCtx.Config

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	if !s.opts.Quiet {
		r.Use(chimw.Logger)
	}
	r.Use(requestMetrics(s.svcCtx.Metrics))

	r.Get("/health", handler.HealthCheckHandler(s.svcCtx))
	r.Method(http.MethodGet, "/metrics", s.svcCtx.Metrics.Handler())

	// Everything that touches a session needs a token when a secret is set.
	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTMiddleware(c.Auth.AccessSecret))
		r.Use(middleware.RateLimit(c.Server.RateLimit, c.Server.RateBurst))

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/sessions/{sessionID}/commands/{command}", session.CommandHandler(s.svcCtx))
			r.Get("/sessions", session.ListSessionsHandler(s.svcCtx))
			r.Delete("/sessions/{sessionID}", session.CloseSessionHandler(s.svcCtx))
			r.Get("/journal", journal.ListJournalHandler(s.svcCtx))
		})

		r.Get("/ws", s.hub.Handler())

		mcpHandler := mcp.NewHandler(s.svcCtx.Dispatcher)
		r.Handle("/mcp", mcpHandler)
		r.Handle("/mcp/*", mcpHandler)
	})

	return r
}

// Handler returns the HTTP handler, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

// Serve serves HTTP on httpLn and gRPC on grpcLn until ctx is cancelled or a
// listener fails, then shuts both down within server.shutdownTimeout.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	c := s.svcCtx.Config
	if c.Server.MaxConns > 0 {
		httpLn = netutil.LimitListener(httpLn, c.Server.MaxConns)
	}

	// No ReadTimeout/WriteTimeout: they would cut hijacked WebSocket
	// connections. Keepalive is done with ping/pong in the hub.
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := s.grpc.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	if !s.opts.Quiet {
		fmt.Printf("HTTP ready at http://%s\n", httpLn.Addr())
		fmt.Printf("gRPC ready at %s\n", grpcLn.Addr())
	}
	logging.Infof("[server] listening http=%s grpc=%s", httpLn.Addr(), grpcLn.Addr())
	s.svcCtx.Events.Emit(lifecycle.EventServerStarted, nil)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	if !s.opts.Quiet {
		fmt.Println("\nShutting down server gracefully...")
	}
	s.svcCtx.Events.Emit(lifecycle.EventShutdownStarted, nil)

	timeout := c.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// WebSocket connections are hijacked, so http.Server.Shutdown does not
	// wait for them. Close the hub first.
	s.hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warnf("[server] http shutdown: %v", err)
		httpServer.Close()
	}
	s.stopGRPC(shutdownCtx)

	return serveErr
}

// stopGRPC drains in-flight calls, falling back to a hard stop at the deadline.
func (s *Server) stopGRPC(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("[server] grpc graceful stop timed out")
		s.grpc.Stop()
		<-done
	}
}

// Run listens on the configured ports and serves until ctx is cancelled.
func Run(ctx context.Context, svcCtx *svc.ServiceContext, opts ...ServerOptions) error {
	c := svcCtx.Config.Server

	httpAddr := net.JoinHostPort(c.Host, strconv.Itoa(c.HTTPPort))
	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("port %d is already in use: %w", c.HTTPPort, err)
	}
	grpcAddr := net.JoinHostPort(c.Host, strconv.Itoa(c.GRPCPort))
	grpcLn, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("port %d is already in use: %w", c.GRPCPort, err)
	}

	return New(svcCtx, opts...).Serve(ctx, httpLn, grpcLn)
}

// requestMetrics records every request under its chi route pattern.
func requestMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			code := ww.Status()
			if code == 0 {
				// Hijacked (WebSocket) or nothing written.
				code = http.StatusOK
			}
			m.RecordRequest(r.Method, route, strconv.Itoa(code), time.Since(start))
		})
	}
}
