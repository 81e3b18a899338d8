package transport

import (
	"context"
	"sync"

	"hostbridge/internal/domain"
)

// pipe is an in-process bidirectional channel pair. Both ends share it so a
// Close on either side tears the whole pipe down.
type pipe struct {
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once

	requests chan domain.RequestEnvelope
	inbound  chan domain.Inbound
}

// MemoryClient is the embedded-app end of an in-process pipe.
type MemoryClient struct{ p *pipe }

// MemoryHost is the host end of an in-process pipe.
type MemoryHost struct{ p *pipe }

// NewPipe returns connected client and host ends. buffer sizes both directions;
// 0 makes every send rendezvous with the reader.
func NewPipe(buffer int) (*MemoryClient, *MemoryHost) {
	p := &pipe{
		done:     make(chan struct{}),
		requests: make(chan domain.RequestEnvelope, buffer),
		inbound:  make(chan domain.Inbound, buffer),
	}
	return &MemoryClient{p: p}, &MemoryHost{p: p}
}

func (p *pipe) close() {
	p.once.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.closed = true
		close(p.requests)
		close(p.inbound)
		p.mu.Unlock()
	})
}

func sendOn[T any](ctx context.Context, p *pipe, ch chan T, v T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return domain.ErrTransportClosed
	}
	select {
	case ch <- v:
		return nil
	case <-p.done:
		return domain.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send implements domain.Transport.
func (c *MemoryClient) Send(ctx context.Context, req domain.RequestEnvelope) error {
	return sendOn(ctx, c.p, c.p.requests, req)
}

// Inbound implements domain.Transport.
func (c *MemoryClient) Inbound() <-chan domain.Inbound { return c.p.inbound }

// Close implements domain.Transport.
func (c *MemoryClient) Close() error {
	c.p.close()
	return nil
}

// Requests implements domain.HostConn.
func (h *MemoryHost) Requests() <-chan domain.RequestEnvelope { return h.p.requests }

// Reply implements domain.HostConn.
func (h *MemoryHost) Reply(ctx context.Context, resp domain.ResponseEnvelope) error {
	return sendOn(ctx, h.p, h.p.inbound, domain.Inbound{Response: &resp})
}

// Emit implements domain.HostConn.
func (h *MemoryHost) Emit(ctx context.Context, ev domain.HostEvent) error {
	return sendOn(ctx, h.p, h.p.inbound, domain.Inbound{Event: &ev})
}

// Close implements domain.HostConn.
func (h *MemoryHost) Close() error {
	h.p.close()
	return nil
}
