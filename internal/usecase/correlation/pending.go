package correlation

import (
	"context"
	"encoding/json"
	"sync"
)

// Pending is the completion handle for one outstanding request.
type Pending struct {
	id   uint64
	fn   string
	reg  *Registry
	once sync.Once
	done chan struct{}

	result json.RawMessage
	err    error
}

func newPending(reg *Registry, id uint64, fn string) *Pending {
	return &Pending{id: id, fn: fn, reg: reg, done: make(chan struct{})}
}

// ID returns the correlation id carried by the request envelope.
func (p *Pending) ID() uint64 { return p.id }

// Func returns the remote function name.
func (p *Pending) Func() string { return p.fn }

// Done is closed once the request has been resolved or rejected.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the host answers or ctx ends. When ctx ends first the
// request is abandoned: its entry is dropped and a late reply is treated as stray.
// Wait may be called more than once.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
	}
	if p.reg.abandon(p) {
		return nil, ctx.Err()
	}
	// Lost the race to a resolution already in flight.
	<-p.done
	return p.result, p.err
}

func (p *Pending) complete(result json.RawMessage, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}
