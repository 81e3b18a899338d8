package hostsdk

import (
	"log/slog"

	"hostbridge/internal/domain"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithEventBus publishes request and session lifecycle events on bus.
func WithEventBus(bus domain.EventBus) Option {
	return func(c *Client) { c.bus = bus }
}

// WithSDKVersion sets the version string sent in the initialize handshake.
func WithSDKVersion(version string) Option {
	return func(c *Client) { c.sdkVersion = version }
}
