//go:build !mdns

package main

import (
	"log/slog"

	"hostbridge/internal/adapter/discovery"
	"hostbridge/internal/infra/config"
)

const mdnsCompiled = false

func buildDiscoverer(_ config.MDNSConfig, _ *slog.Logger) discovery.Discoverer {
	return discovery.NewNoop()
}
