package host

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"hostbridge/internal/adapter/transport"
	"hostbridge/internal/adapter/transport/proto"
	"hostbridge/internal/domain"
	"hostbridge/internal/infra/middleware"
)

const maxFrameBytes = 1 << 20

// wsConn adapts one accepted WebSocket to domain.HostConn.
type wsConn struct {
	ws        *websocket.Conn
	requests  chan domain.RequestEnvelope
	sendCh    chan *proto.Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newWSConn(ws *websocket.Conn, logger *slog.Logger) *wsConn {
	return &wsConn{
		ws:       ws,
		requests: make(chan domain.RequestEnvelope, 64),
		sendCh:   make(chan *proto.Frame, 64),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

func (c *wsConn) Requests() <-chan domain.RequestEnvelope { return c.requests }

func (c *wsConn) Reply(ctx context.Context, resp domain.ResponseEnvelope) error {
	return c.enqueue(ctx, transport.FrameFromResponse(resp))
}

func (c *wsConn) Emit(ctx context.Context, ev domain.HostEvent) error {
	return c.enqueue(ctx, transport.FrameFromEvent(ev))
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *wsConn) enqueue(ctx context.Context, f *proto.Frame) error {
	select {
	case c.sendCh <- f:
		return nil
	case <-c.done:
		return domain.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) readLoop(ctx context.Context) {
	defer close(c.requests)
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, c.ws, &frame); err != nil {
			return // connection closed or error
		}
		req, err := transport.RequestFromFrame(&frame)
		if err != nil {
			c.logger.Warn("websocket request dropped", "error", err)
			continue
		}
		select {
		case c.requests <- req:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, c.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// Server accepts embedded apps over WebSocket at /ws and serves the status
// and metrics endpoints.
type Server struct {
	shell      *Shell
	auth       Authenticator
	logger     *slog.Logger
	addr       string
	httpSrv    *http.Server
	boundAddr  string
	startTime  time.Time
	metrics    *Metrics
	httpRoutes []httpRoute // additional HTTP routes
	middleware []middleware.Middleware

	connsMu sync.Mutex
	conns   map[*wsConn]struct{}
}

// NewServer creates a WebSocket server for shell.
func NewServer(shell *Shell, auth Authenticator, addr string, metrics *Metrics, logger *slog.Logger) *Server {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Server{
		shell:   shell,
		auth:    auth,
		logger:  logger,
		addr:    addr,
		metrics: metrics,
		conns:   make(map[*wsConn]struct{}),
	}
}

// RegisterHTTPRoute adds an HTTP handler to the server's mux.
// Must be called before Start().
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Use wraps every route, including /ws, in mws. Must be called before Start().
func (s *Server) Use(mws ...middleware.Middleware) {
	s.middleware = append(s.middleware, mws...)
}

// Listen binds the server's address. Start calls it when needed.
func (s *Server) Listen() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("host listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	return listener, nil
}

// Start begins accepting connections. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener. Blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.startTime = time.Now()
	s.boundAddr = listener.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/api/v1/status", statusHandler(s.shell, s.startTime, s.metrics))
	mux.HandleFunc("/metrics", metricsHandler(s.shell, s.startTime, s.metrics))
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}
	s.httpSrv = &http.Server{Handler: middleware.Chain(mux, s.middleware...)}

	s.logger.Info("host server started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("host serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.connsMu.Lock()
	for c := range s.conns {
		c.Close()
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.conns, c)
	}
	s.connsMu.Unlock()

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Authenticate via query param.
	peer, err := s.auth.Authenticate(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	peer.Transport = "websocket"

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	conn := newWSConn(ws, s.logger)
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	ctx := r.Context()
	go conn.writeLoop()
	go conn.readLoop(ctx)

	// Blocks until the peer's request stream ends.
	if err := s.shell.Serve(ctx, conn, peer); err != nil && ctx.Err() == nil {
		s.logger.Warn("host peer session ended", "peer_id", peer.ID, "error", err)
	}

	conn.Close()
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
	ws.Close(websocket.StatusNormalClosure, "")
}
