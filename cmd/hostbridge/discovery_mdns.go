//go:build mdns

package main

import (
	"log/slog"

	"hostbridge/internal/adapter/discovery"
	"hostbridge/internal/infra/config"
)

const mdnsCompiled = true

func buildDiscoverer(cfg config.MDNSConfig, logger *slog.Logger) discovery.Discoverer {
	return discovery.NewMDNS(cfg.ServiceName, cfg.Domain, logger)
}
