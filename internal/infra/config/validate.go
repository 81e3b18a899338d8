package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"hostbridge/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateClient(cfg, ve)
	validateHost(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateClient(cfg *Config, ve *ValidationError) {
	c := cfg.Client
	switch c.Transport {
	case "websocket":
		if c.URL != "" {
			u, err := url.Parse(c.URL)
			if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
				ve.Add("client.url %q must be a ws:// or wss:// URL", c.URL)
			}
		}
	case "grpc":
		if c.URL != "" {
			if _, _, err := net.SplitHostPort(c.URL); err != nil {
				ve.Add("client.url %q is not a valid host:port", c.URL)
			}
		}
	default:
		ve.Add("client.transport %q is invalid (want: websocket, grpc)", c.Transport)
	}
	if c.URL == "" && !c.Discover {
		ve.Add("client.url is required unless client.discover is set")
	}
	if c.SDKVersion == "" {
		ve.Add("client.sdk_version must not be empty")
	}
	if c.RateLimit < 0 {
		ve.Add("client.rate_limit must be >= 0")
	}
	if c.RateLimit > 0 && c.Burst <= 0 {
		ve.Add("client.burst must be > 0 when rate_limit is set")
	}
	if c.CallTimeout < 0 {
		ve.Add("client.call_timeout must be >= 0")
	}
	if c.CircuitBreaker.MaxFailures < 0 {
		ve.Add("client.circuit_breaker.max_failures must be >= 0")
	}
}

func validateHost(cfg *Config, ve *ValidationError) {
	h := cfg.Host
	if h.Addr == "" && h.GRPCAddr == "" {
		ve.Add("host.addr or host.grpc_addr is required")
	}
	if h.Addr != "" {
		if _, _, err := net.SplitHostPort(h.Addr); err != nil {
			ve.Add("host.addr %q is not a valid host:port", h.Addr)
		}
	}
	if h.GRPCAddr != "" {
		if _, _, err := net.SplitHostPort(h.GRPCAddr); err != nil {
			ve.Add("host.grpc_addr %q is not a valid host:port", h.GRPCAddr)
		}
	}
	if _, err := domain.ParseFrameContext(h.FrameContext); err != nil {
		ve.Add("host.frame_context %q is invalid", h.FrameContext)
	}

	seen := make(map[string]bool)
	for i, tok := range h.Tokens {
		if tok.Token == "" {
			ve.Add("host.tokens[%d].token must not be empty", i)
		}
		if tok.Name == "" {
			ve.Add("host.tokens[%d].name must not be empty", i)
			continue
		}
		if seen[tok.Name] {
			ve.Add("host.tokens[%d]: duplicate token name %q", i, tok.Name)
		}
		seen[tok.Name] = true
	}

	if h.MDNS.Enabled && h.MDNS.ServiceName == "" {
		ve.Add("host.mdns.service_name is required when mdns is enabled")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is invalid (want: stdout, noop)", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be within [0, 1]")
	}
}
