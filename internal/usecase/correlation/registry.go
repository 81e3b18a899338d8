// Package correlation multiplexes concurrent calls over a single transport by
// tagging each request with a correlation id and matching host replies back to
// the caller that is waiting on them.
package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"hostbridge/internal/domain"
	"hostbridge/internal/infra/tracer"
)

// EventFunc receives host-initiated events.
type EventFunc func(ctx context.Context, ev domain.HostEvent)

// Registry assigns correlation ids, tracks pending completions, and resolves
// them as responses arrive from the transport.
type Registry struct {
	transport domain.Transport
	bus       domain.EventBus // can be nil
	logger    *slog.Logger
	onEvent   EventFunc // can be nil

	// sendMu serializes id allocation, registration and transport send so that
	// envelopes leave in call order and a reply can never beat its registration.
	sendMu sync.Mutex
	nextID uint64

	mu       sync.Mutex
	pending  map[uint64]*Pending
	closed   bool
	closeErr error

	startOnce sync.Once
	done      chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithEventBus publishes correlation lifecycle events on bus.
func WithEventBus(bus domain.EventBus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithEventHandler routes host-initiated events to fn.
func WithEventHandler(fn EventFunc) Option {
	return func(r *Registry) { r.onEvent = fn }
}

// New creates a registry bound to t. Call Start to begin consuming inbound messages.
func New(t domain.Transport, opts ...Option) *Registry {
	r := &Registry{
		transport: t,
		logger:    slog.Default(),
		pending:   make(map[uint64]*Pending),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the inbound pump. It returns immediately; the pump stops when
// the transport's inbound channel closes or ctx is cancelled. Safe to call twice.
func (r *Registry) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.pump(ctx)
	})
}

// Done is closed after the pump has exited and all pending calls were rejected.
func (r *Registry) Done() <-chan struct{} { return r.done }

// Send dispatches fn with args and returns the pending completion.
// No timeout is applied; use Pending.Wait with a deadline to bound the wait.
func (r *Registry) Send(ctx context.Context, fn string, args ...any) (*Pending, error) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	id := r.nextID + 1
	env, err := domain.NewRequestEnvelope(id, fn, args...)
	if err != nil {
		return nil, err
	}

	// The closed check and the insert share one critical section so that
	// shutdown either rejects this entry or this Send sees closed.
	p := newPending(r, id, fn)
	r.mu.Lock()
	if r.closed {
		err := r.closeErr
		r.mu.Unlock()
		return nil, err
	}
	r.pending[id] = p
	r.mu.Unlock()
	r.nextID = id

	if err := r.transport.Send(ctx, env); err != nil {
		r.remove(id)
		return nil, fmt.Errorf("send %s: %w", fn, err)
	}

	r.logger.Debug("bridge request sent", "id", id, "func", fn)
	r.publish(ctx, domain.EventRequestSent, map[string]any{"id": id, "func": fn})
	return p, nil
}

// Call sends fn and waits for the host's answer.
func (r *Registry) Call(ctx context.Context, fn string, args ...any) (json.RawMessage, error) {
	ctx, span := tracer.StartSpan(ctx, "bridge.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracer.FuncAttr(fn), tracer.IntAttr("bridge.args", len(args))))

	p, err := r.Send(ctx, fn, args...)
	if err != nil {
		tracer.Finish(span, err)
		return nil, err
	}
	span.SetAttributes(tracer.CorrelationAttr(p.ID()))

	result, err := p.Wait(ctx)
	tracer.Finish(span, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Resolve completes the pending call matching resp.ID. Unknown ids are dropped
// and reported as stray; Resolve returns false for them.
func (r *Registry) Resolve(ctx context.Context, resp domain.ResponseEnvelope) bool {
	p := r.remove(resp.ID)
	if p == nil {
		r.logger.Debug("bridge stray response dropped", "id", resp.ID)
		r.publish(ctx, domain.EventResponseStray, map[string]any{"id": resp.ID})
		return false
	}

	if err := resp.Err(p.fn); err != nil {
		p.complete(nil, err)
	} else {
		p.complete(resp.Result, nil)
	}
	r.publish(ctx, domain.EventResponseReceived, map[string]any{
		"id": resp.ID, "func": p.fn, "success": resp.Success,
	})
	return true
}

// Len returns the number of outstanding requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// RejectAll fails every outstanding request with err. New sends are unaffected.
func (r *Registry) RejectAll(err error) int {
	r.mu.Lock()
	drained := r.pending
	r.pending = make(map[uint64]*Pending)
	r.mu.Unlock()

	for _, p := range drained {
		p.complete(nil, err)
	}
	return len(drained)
}

// Close shuts the transport down and rejects every outstanding request.
func (r *Registry) Close() error {
	err := r.transport.Close()
	r.shutdown(domain.ErrTransportClosed)
	return err
}

func (r *Registry) pump(ctx context.Context) {
	defer close(r.done)
	in := r.transport.Inbound()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				r.logger.Warn("bridge transport inbound closed")
				r.shutdown(domain.ErrTransportClosed)
				r.publish(ctx, domain.EventTransportClosed, nil)
				return
			}
			r.handle(ctx, msg)
		case <-ctx.Done():
			r.shutdown(domain.ErrTransportClosed)
			return
		}
	}
}

func (r *Registry) handle(ctx context.Context, msg domain.Inbound) {
	switch {
	case msg.Response != nil:
		r.Resolve(ctx, *msg.Response)
	case msg.Event != nil:
		r.publish(ctx, domain.EventHostEvent, map[string]any{"func": msg.Event.Func})
		if r.onEvent != nil {
			r.onEvent(ctx, *msg.Event)
		}
	}
}

// shutdown marks the registry closed and rejects whatever is still pending.
func (r *Registry) shutdown(err error) {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		r.closeErr = err
	}
	r.mu.Unlock()
	if n := r.RejectAll(err); n > 0 {
		r.logger.Warn("bridge pending requests rejected", "count", n, "error", err)
	}
}

func (r *Registry) remove(id uint64) *Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return p
}

// abandon drops p if it is still pending. Returns false when a resolution won.
func (r *Registry) abandon(p *Pending) bool {
	r.mu.Lock()
	cur, ok := r.pending[p.id]
	if !ok || cur != p {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, p.id)
	r.mu.Unlock()

	r.logger.Debug("bridge request abandoned", "id", p.id, "func", p.fn)
	r.publish(context.Background(), domain.EventRequestAbandoned, map[string]any{"id": p.id, "func": p.fn})
	return true
}

func (r *Registry) publish(ctx context.Context, t domain.EventType, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, domain.NewEvent(t, domain.SessionIDFromContext(ctx), payload))
}
