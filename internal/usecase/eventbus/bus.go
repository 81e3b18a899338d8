// Package eventbus fans bridge lifecycle events out to in-process subscribers.
//
// Every subscriber owns a mailbox drained by its own goroutine, so a
// subscriber sees events in the order they were published. Publish never
// blocks: when a mailbox is full the event is dropped for that subscriber
// and counted.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"hostbridge/internal/domain"
)

// DefaultMailbox is the per-subscriber queue length used unless WithMailbox overrides it.
const DefaultMailbox = 256

type delivery struct {
	ctx   context.Context
	event domain.Event
}

type subscriber struct {
	id      uint64
	typ     domain.EventType // empty matches every event
	handler domain.EventHandler
	mailbox chan delivery
}

func (s *subscriber) matches(t domain.EventType) bool {
	return s.typ == "" || s.typ == t
}

// Bus is an in-process, goroutine-safe event bus.
type Bus struct {
	logger  *slog.Logger
	mailbox int

	mu     sync.RWMutex
	subs   []*subscriber
	closed bool

	nextID  atomic.Uint64
	dropped atomic.Uint64
	workers sync.WaitGroup

	// inflight counts queued but unhandled deliveries. Flush waits on idle
	// for it to reach zero while Publish may still be adding.
	flushMu  sync.Mutex
	idle     *sync.Cond
	inflight int
}

// Option configures a Bus.
type Option func(*Bus)

// WithMailbox sets the per-subscriber queue length.
func WithMailbox(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.mailbox = n
		}
	}
}

// New creates an event bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{logger: logger, mailbox: DefaultMailbox}
	b.idle = sync.NewCond(&b.flushMu)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish queues event for every matching subscriber and returns at once.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if !s.matches(event.Type) {
			continue
		}
		b.track(1)
		select {
		case s.mailbox <- delivery{ctx: ctx, event: event}:
		default:
			b.track(-1)
			b.dropped.Add(1)
			b.logger.Warn("event dropped, subscriber mailbox full",
				"event", string(event.Type), "subscriber", s.id)
		}
	}
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add("", handler)
}

func (b *Bus) add(t domain.EventType, handler domain.EventHandler) func() {
	s := &subscriber{
		id:      b.nextID.Add(1),
		typ:     t,
		handler: handler,
		mailbox: make(chan delivery, b.mailbox),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs = append(b.subs, s)
	b.workers.Add(1)
	b.mu.Unlock()

	go b.run(s)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(s) })
	}
}

func (b *Bus) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.mailbox)
			return
		}
	}
}

// run delivers s's mailbox in order until it is closed and drained.
func (b *Bus) run(s *subscriber) {
	defer b.workers.Done()
	for d := range s.mailbox {
		b.deliver(s, d)
	}
}

func (b *Bus) deliver(s *subscriber, d delivery) {
	defer b.track(-1)
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"subscriber", s.id,
				"panic", r,
			)
		}
	}()
	s.handler(d.ctx, d.event)
}

// Dropped returns how many deliveries were discarded because a mailbox was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) track(delta int) {
	b.flushMu.Lock()
	b.inflight += delta
	if b.inflight == 0 {
		b.idle.Broadcast()
	}
	b.flushMu.Unlock()
}

// Flush blocks until no delivery is queued or running. It is safe to call
// while other goroutines publish; events they queue during the wait are
// waited for too. The bus stays open.
func (b *Bus) Flush() {
	b.flushMu.Lock()
	for b.inflight > 0 {
		b.idle.Wait()
	}
	b.flushMu.Unlock()
}

// Close stops accepting events, lets every subscriber drain its mailbox, and
// waits for them. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	for _, s := range subs {
		close(s.mailbox)
	}
	b.mu.Unlock()

	b.workers.Wait()
}
