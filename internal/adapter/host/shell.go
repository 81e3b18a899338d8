// Package host is a reference host shell. It answers the initialize
// handshake, dispatches embedded-app requests to registered handlers and
// serves peers over an in-process pipe, WebSocket or gRPC.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"hostbridge/internal/domain"
	"hostbridge/internal/infra/tracer"
)

// FuncOpenChat is the host function that opens a chat.
const FuncOpenChat = "chat.openChat"

// Handler serves one host function. A returned error becomes an
// unsuccessful response carrying err.Error() as its message.
type Handler func(ctx context.Context, peer *PeerInfo, args []json.RawMessage) (json.RawMessage, error)

// ShellConfig is what the shell declares during the handshake.
type ShellConfig struct {
	FrameContext domain.FrameContext
	HostName     string
	ClientType   string
}

// ShellOption configures a Shell.
type ShellOption func(*Shell)

// WithJournal records every handled request in r.
func WithJournal(r Recorder) ShellOption {
	return func(s *Shell) { s.journal = r }
}

type peerConn struct {
	info PeerInfo
	conn domain.HostConn
}

// Shell dispatches requests from any number of connected peers.
type Shell struct {
	cfg     ShellConfig
	bus     domain.EventBus // can be nil
	logger  *slog.Logger
	journal Recorder // can be nil

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	peersMu    sync.RWMutex
	peers      map[string]*peerConn
	peersTotal int
}

// NewShell creates a shell with the built-in chat.openChat handler registered.
func NewShell(cfg ShellConfig, bus domain.EventBus, logger *slog.Logger, opts ...ShellOption) *Shell {
	if cfg.FrameContext == "" {
		cfg.FrameContext = domain.FrameContextContent
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Shell{
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
		handlers: make(map[string]Handler),
		peers:    make(map[string]*peerConn),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.RegisterHandler(FuncOpenChat, NewOpenChatHandler(logger))
	return s
}

// Config returns the handshake declaration.
func (s *Shell) Config() ShellConfig { return s.cfg }

// RegisterHandler adds or replaces the handler for fn.
// Safe to call concurrently with active peers.
func (s *Shell) RegisterHandler(fn string, h Handler) {
	s.handlersMu.Lock()
	s.handlers[fn] = h
	s.handlersMu.Unlock()
}

// Handle produces the response for one request. The response always carries
// the request's id.
func (s *Shell) Handle(ctx context.Context, peer *PeerInfo, req domain.RequestEnvelope) domain.ResponseEnvelope {
	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "bridge.handle",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			tracer.FuncAttr(req.Func),
			tracer.CorrelationAttr(req.ID),
			tracer.PeerAttr(peer.Name),
		))

	var (
		result json.RawMessage
		err    error
	)
	if req.Func == domain.FuncInitialize {
		result, err = json.Marshal(domain.HostInfo{
			FrameContext: s.cfg.FrameContext,
			HostName:     s.cfg.HostName,
			ClientType:   s.cfg.ClientType,
		})
	} else {
		s.handlersMu.RLock()
		h, ok := s.handlers[req.Func]
		s.handlersMu.RUnlock()
		if !ok {
			err = domain.ErrRPCMethodNotFound
		} else {
			result, err = s.call(ctx, h, peer, req)
		}
	}

	resp := domain.ResponseEnvelope{ID: req.ID, Success: err == nil, Result: result}
	if err != nil {
		resp.Result = nil
		resp.Error = &domain.ErrorDetail{Message: err.Error()}
	}
	tracer.Finish(span, err)
	s.record(ctx, peer, req, resp, time.Since(start))
	return resp
}

// call runs h and turns a panic into a failed response so one bad handler
// cannot take the host down.
func (s *Shell) call(ctx context.Context, h Handler, peer *PeerInfo, req domain.RequestEnvelope) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("host handler panicked", "func", req.Func, "id", req.ID, "panic", r)
			result, err = nil, fmt.Errorf("handler %s panicked: %v", req.Func, r)
		}
	}()
	return h(ctx, peer, req.Args)
}

// Serve answers requests from conn until its request stream closes or ctx
// ends. Requests are handled concurrently; replies may leave out of order.
func (s *Shell) Serve(ctx context.Context, conn domain.HostConn, peer *PeerInfo) error {
	if peer == nil {
		peer = &PeerInfo{Name: "anonymous"}
	}
	if peer.ID == "" {
		peer.ID = ulid.Make().String()
	}

	s.addPeer(peer, conn)
	s.logger.Info("host peer connected", "peer_id", peer.ID, "peer", peer.Name, "transport", peer.Transport)
	s.publish(ctx, domain.EventPeerConnected, map[string]any{"peer_id": peer.ID, "peer": peer.Name})

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	err := s.loop(ctx, conn, peer, &wg)
	cancel()
	wg.Wait()

	s.removePeer(peer.ID)
	s.logger.Info("host peer disconnected", "peer_id", peer.ID)
	s.publish(context.WithoutCancel(ctx), domain.EventPeerDisconnected, map[string]any{"peer_id": peer.ID})
	return err
}

func (s *Shell) loop(ctx context.Context, conn domain.HostConn, peer *PeerInfo, wg *sync.WaitGroup) error {
	requests := conn.Requests()
	for {
		select {
		case req, ok := <-requests:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := s.Handle(ctx, peer, req)
				if err := conn.Reply(ctx, resp); err != nil {
					s.logger.Warn("host reply failed", "peer_id", peer.ID, "id", req.ID, "error", err)
				}
			}()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Broadcast emits ev to every connected peer and returns how many accepted it.
func (s *Shell) Broadcast(ctx context.Context, ev domain.HostEvent) int {
	s.peersMu.RLock()
	targets := make([]*peerConn, 0, len(s.peers))
	for _, p := range s.peers {
		targets = append(targets, p)
	}
	s.peersMu.RUnlock()

	sent := 0
	for _, p := range targets {
		if err := p.conn.Emit(ctx, ev); err != nil {
			s.logger.Warn("host event dropped", "peer_id", p.info.ID, "func", ev.Func, "error", err)
			continue
		}
		sent++
	}
	s.publish(ctx, domain.EventHostEvent, map[string]any{"func": ev.Func, "peers": sent})
	return sent
}

// Peers returns the connected peers.
func (s *Shell) Peers() []PeerInfo {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	out := make([]PeerInfo, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p.info)
	}
	return out
}

// PeersTotal returns how many peers have connected since the shell started.
func (s *Shell) PeersTotal() int {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	return s.peersTotal
}

func (s *Shell) addPeer(peer *PeerInfo, conn domain.HostConn) {
	s.peersMu.Lock()
	s.peers[peer.ID] = &peerConn{info: *peer, conn: conn}
	s.peersTotal++
	s.peersMu.Unlock()
}

func (s *Shell) removePeer(id string) {
	s.peersMu.Lock()
	delete(s.peers, id)
	s.peersMu.Unlock()
}

func (s *Shell) record(ctx context.Context, peer *PeerInfo, req domain.RequestEnvelope, resp domain.ResponseEnvelope, d time.Duration) {
	var errMsg string
	if resp.Error != nil {
		errMsg = resp.Error.Message
	}

	payload := map[string]any{"peer_id": peer.ID, "id": req.ID, "func": req.Func}
	if resp.Success {
		s.logger.Debug("host request handled", "peer_id", peer.ID, "id", req.ID, "func", req.Func, "duration", d)
		s.publish(ctx, domain.EventRequestHandled, payload)
	} else {
		s.logger.Info("host request failed", "peer_id", peer.ID, "id", req.ID, "func", req.Func, "error", errMsg)
		payload["error"] = errMsg
		s.publish(ctx, domain.EventRequestFailed, payload)
	}

	if s.journal == nil {
		return
	}
	args, _ := json.Marshal(req.Args)
	err := s.journal.Record(context.WithoutCancel(ctx), JournalEntry{
		PeerID:    peer.ID,
		PeerName:  peer.Name,
		RequestID: req.ID,
		Func:      req.Func,
		Args:      args,
		Success:   resp.Success,
		Error:     errMsg,
		Duration:  d,
	})
	if err != nil {
		s.logger.Warn("host journal write failed", "error", err)
	}
}

func (s *Shell) publish(ctx context.Context, t domain.EventType, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, domain.NewEvent(t, domain.SessionIDFromContext(ctx), payload))
}

// NewOpenChatHandler returns the built-in chat.openChat handler. It validates
// the request shape and acknowledges it with a null result.
func NewOpenChatHandler(logger *slog.Logger) Handler {
	schema, err := CompileArgSchema(openChatSchema)
	if err != nil {
		panic("host: open chat schema: " + err.Error())
	}
	return func(_ context.Context, peer *PeerInfo, args []json.RawMessage) (json.RawMessage, error) {
		if err := schema.Validate(args); err != nil {
			return nil, err
		}
		logger.Info("chat opened", "peer_id", peer.ID, "args", string(args[0]))
		return nil, nil
	}
}
