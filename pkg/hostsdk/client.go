// Package hostsdk is the embedded-app side of the host bridge.
//
// A Client owns one session with a host shell: it performs the initialize
// handshake, gates every call on the frame context the host declared, and
// multiplexes concurrent calls over a single transport.
//
// Example:
//
//	c, err := hostsdk.Dial(ctx, hostsdk.DialOptions{
//	    Transport: "websocket",
//	    Address:   "ws://127.0.0.1:8787/ws",
//	    Token:     token,
//	})
//	if err != nil { ... }
//	defer c.Close()
//	if _, err := c.Initialize(ctx); err != nil { ... }
//	err = c.Chat.OpenGroupChat(ctx, hostsdk.GroupChatRequest{
//	    Users:   []string{"a@contoso.com", "b@contoso.com"},
//	    Message: "standup?",
//	})
package hostsdk

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"hostbridge/internal/domain"
	"hostbridge/internal/usecase/correlation"
	"hostbridge/internal/usecase/session"
)

// DefaultSDKVersion is sent during the handshake unless WithSDKVersion overrides it.
const DefaultSDKVersion = "2.0.0"

// FrameContext is the mode the host declares the app is running in.
type FrameContext = domain.FrameContext

// HostInfo is what the host reports during the handshake.
type HostInfo = domain.HostInfo

// SessionStatus is a point-in-time view of a client's session.
type SessionStatus = session.Snapshot

// Frame contexts a host may declare.
const (
	ContextContent        = domain.FrameContextContent
	ContextSettings       = domain.FrameContextSettings
	ContextAuthentication = domain.FrameContextAuthentication
	ContextRemove         = domain.FrameContextRemove
	ContextTask           = domain.FrameContextTask
	ContextSidePanel      = domain.FrameContextSidePanel
	ContextStage          = domain.FrameContextStage
	ContextMeetingStage   = domain.FrameContextMeetingStage
)

// Errors callers can match with errors.Is.
var (
	ErrNotInitialized  = domain.ErrNotInitialized
	ErrInvalidContext  = domain.ErrInvalidContext
	ErrInvalidInput    = domain.ErrInvalidInput
	ErrHostRejected    = domain.ErrHostRejected
	ErrTransportClosed = domain.ErrTransportClosed
)

// HandlerFunc receives a host-initiated event.
type HandlerFunc func(ctx context.Context, args []json.RawMessage)

// Client is one embedding session with a host.
type Client struct {
	transport   domain.Transport
	state       *session.State
	registry    *correlation.Registry
	initializer *session.Initializer
	bus         domain.EventBus // can be nil
	logger      *slog.Logger
	sdkVersion  string

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	cancel context.CancelFunc

	// Chat opens chats in the host.
	Chat *Chat
}

// New creates a client over t and starts consuming its inbound messages.
// The client is uninitialized until Initialize succeeds.
func New(t domain.Transport, opts ...Option) *Client {
	c := &Client{
		transport:  t,
		state:      session.NewState(),
		logger:     slog.Default(),
		sdkVersion: DefaultSDKVersion,
		handlers:   make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(c)
	}

	regOpts := []correlation.Option{
		correlation.WithLogger(c.logger),
		correlation.WithEventHandler(c.dispatchEvent),
	}
	if c.bus != nil {
		regOpts = append(regOpts, correlation.WithEventBus(c.bus))
	}
	c.registry = correlation.New(t, regOpts...)
	c.initializer = session.NewInitializer(c.registry, c.state, c.sdkVersion, c.bus, c.logger)
	c.Chat = &Chat{c: c}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.registry.Start(ctx)
	return c
}

// Initialize performs the handshake. Concurrent calls share one round-trip and
// calls after success return the stored host info.
func (c *Client) Initialize(ctx context.Context) (HostInfo, error) {
	return c.initializer.Initialize(ctx)
}

// Uninitialize returns the session to its uninitialized state. Calls still
// waiting on the host are rejected with ErrNotInitialized.
func (c *Client) Uninitialize() {
	prev := c.state.ID()
	c.state.Reset()
	if n := c.registry.RejectAll(domain.ErrNotInitialized); n > 0 {
		c.logger.Debug("pending calls rejected on uninitialize", "count", n)
	}
	if c.bus != nil {
		c.bus.Publish(context.Background(), domain.NewEvent(domain.EventSessionReset, prev, nil))
	}
}

// Initialized reports whether the handshake has completed.
func (c *Client) Initialized() bool { return c.state.Initialized() }

// FrameContext returns the context declared by the host; ok is false before
// Initialize succeeds.
func (c *Client) FrameContext() (FrameContext, bool) { return c.state.FrameContext() }

// SessionID returns the current session's ULID.
func (c *Client) SessionID() string { return c.state.ID() }

// Status returns the session's phase, host info and ULID.
func (c *Client) Status() SessionStatus { return c.state.Snapshot() }

// Pending returns the number of calls awaiting a host answer.
func (c *Client) Pending() int { return c.registry.Len() }

// RegisterHandler routes host events named fn to h, replacing any previous
// handler. The returned func removes it.
func (c *Client) RegisterHandler(fn string, h HandlerFunc) func() {
	c.handlersMu.Lock()
	c.handlers[fn] = h
	c.handlersMu.Unlock()
	return func() {
		c.handlersMu.Lock()
		delete(c.handlers, fn)
		c.handlersMu.Unlock()
	}
}

// Call invokes fn on the host if the session's frame context is in allowed.
// Uninitialized sessions and disallowed contexts fail without reaching the
// transport.
func (c *Client) Call(ctx context.Context, allowed []FrameContext, fn string, args ...any) (json.RawMessage, error) {
	if err := c.state.EnsureAllowed(allowed...); err != nil {
		return nil, err
	}
	return c.dispatch(ctx, fn, args...)
}

// Close stops the inbound pump, closes the transport, and rejects pending calls.
func (c *Client) Close() error {
	err := c.registry.Close()
	c.cancel()
	return err
}

func (c *Client) dispatch(ctx context.Context, fn string, args ...any) (json.RawMessage, error) {
	ctx = domain.ContextWithSessionID(ctx, c.state.ID())
	return c.registry.Call(ctx, fn, args...)
}

func (c *Client) dispatchEvent(ctx context.Context, ev domain.HostEvent) {
	c.handlersMu.RLock()
	h, ok := c.handlers[ev.Func]
	c.handlersMu.RUnlock()
	if !ok {
		c.logger.Debug("host event without handler", "func", ev.Func)
		return
	}
	h(ctx, ev.Args)
}
