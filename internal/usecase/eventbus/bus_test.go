package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hostbridge/internal/domain"
)

func newTestBus(opts ...Option) *Bus {
	return New(slog.New(slog.DiscardHandler), opts...)
}

func newEvent(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now()}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventRequestSent, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventRequestSent {
			got.Add(1)
		}
	})

	bus.Publish(context.Background(), newEvent(domain.EventRequestSent))
	bus.Close()
	assert.Equal(t, int32(1), got.Load())
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventRequestSent))
	bus.Publish(context.Background(), newEvent(domain.EventResponseStray))
	bus.Close()

	assert.Equal(t, int32(2), got.Load())
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	unsub := bus.Subscribe(domain.EventResponseReceived, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventResponseReceived))
	bus.Flush()
	assert.Equal(t, int32(1), got.Load())

	unsub()
	bus.Publish(context.Background(), newEvent(domain.EventResponseReceived))
	bus.Close()
	assert.Equal(t, int32(1), got.Load(), "no delivery after unsubscribe")
}

func TestPerSubscriberOrder(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	var got []domain.EventType
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	})

	want := []domain.EventType{
		domain.EventRequestSent,
		domain.EventResponseReceived,
		domain.EventRequestSent,
		domain.EventRequestAbandoned,
		domain.EventResponseStray,
	}
	for _, typ := range want {
		bus.Publish(context.Background(), newEvent(typ))
	}
	bus.Close()

	assert.Equal(t, want, got)
}

func TestFullMailboxDrops(t *testing.T) {
	bus := newTestBus(WithMailbox(1))

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var got atomic.Int32
	bus.Subscribe(domain.EventRequestSent, func(_ context.Context, _ domain.Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventRequestSent))
	<-started
	bus.Publish(context.Background(), newEvent(domain.EventRequestSent)) // queued
	bus.Publish(context.Background(), newEvent(domain.EventRequestSent)) // dropped

	close(release)
	bus.Close()
	assert.Equal(t, int32(2), got.Load())
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestSubscribeAfterClose(t *testing.T) {
	bus := newTestBus()
	bus.Close()

	unsub := bus.SubscribeAll(func(context.Context, domain.Event) { t.Error("handler ran after close") })
	bus.Publish(context.Background(), newEvent(domain.EventHostEvent))
	unsub()
	bus.Close()
}

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventRequestSent, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventRequestSent))
		}()
	}
	wg.Wait()
	bus.Close()

	assert.Equal(t, int32(100), got.Load())
}

func TestFlushWhilePublishing(t *testing.T) {
	bus := newTestBus(WithMailbox(1024))
	defer bus.Close()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	var publishers sync.WaitGroup
	stop := make(chan struct{})
	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		for {
			select {
			case <-stop:
				return
			default:
				bus.Flush()
			}
		}
	}()

	for range 8 {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for range 100 {
				bus.Publish(context.Background(), newEvent(domain.EventRequestSent))
			}
		}()
	}
	publishers.Wait()
	close(stop)

	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("Flush did not return")
	}

	bus.Flush()
	assert.Equal(t, int32(800), got.Load())
	assert.Zero(t, bus.Dropped())
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventHostEvent, func(_ context.Context, _ domain.Event) {
		panic("boom")
	})
	bus.Subscribe(domain.EventHostEvent, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventHostEvent))
	bus.Close()

	assert.Equal(t, int32(1), got.Load())
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventRequestSent, func(_ context.Context, _ domain.Event) {
		time.Sleep(50 * time.Millisecond)
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventRequestSent))
	bus.Close()
	assert.Equal(t, int32(1), got.Load())

	bus.Publish(context.Background(), newEvent(domain.EventRequestSent))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), got.Load(), "no delivery after close")
}
