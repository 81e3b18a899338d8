package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"hostbridge/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// ResilienceConfig configures the Resilient decorator.
type ResilienceConfig struct {
	// RatePerSecond caps outbound envelopes; 0 disables limiting.
	RatePerSecond float64
	Burst         int
	// MaxFailures is the number of consecutive send failures before the circuit opens.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a half-open probe.
	OpenTimeout time.Duration
	// Interval clears failure counts while closed.
	Interval time.Duration
}

// Resilient wraps a transport's Send path with a rate limiter and a circuit
// breaker. Inbound traffic passes through untouched.
type Resilient struct {
	next    domain.Transport
	limiter *rate.Limiter // nil when unlimited
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

// NewResilient decorates next. Zero-valued fields in cfg fall back to defaults.
func NewResilient(next domain.Transport, cfg ResilienceConfig, logger *slog.Logger) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	r := &Resilient{next: next, logger: logger}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	r.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "bridge-transport",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A cancelled caller says nothing about the transport's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return r
}

// Send implements domain.Transport.
func (r *Resilient) Send(ctx context.Context, req domain.RequestEnvelope) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrRateLimit, err)
		}
	}
	_, err := r.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, r.next.Send(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", domain.ErrCircuitOpen, err)
	}
	return err
}

// Inbound implements domain.Transport.
func (r *Resilient) Inbound() <-chan domain.Inbound { return r.next.Inbound() }

// Close implements domain.Transport.
func (r *Resilient) Close() error { return r.next.Close() }

// State returns the breaker state for status reporting.
func (r *Resilient) State() gobreaker.State { return r.breaker.State() }

var _ domain.Transport = (*Resilient)(nil)
