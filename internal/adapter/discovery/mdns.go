//go:build mdns

package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"hostbridge/internal/domain"
)

const defaultScanTimeout = 3 * time.Second

// MDNS advertises and browses host shells with DNS-SD over multicast DNS.
type MDNS struct {
	service     string
	domain      string
	scanTimeout time.Duration
	logger      *slog.Logger
}

// NewMDNS creates an MDNS discoverer. Empty service or domain fall back to
// the defaults.
func NewMDNS(service, dom string, logger *slog.Logger) *MDNS {
	if service == "" {
		service = DefaultService
	}
	if dom == "" {
		dom = DefaultDomain
	}
	return &MDNS{service: service, domain: dom, scanTimeout: defaultScanTimeout, logger: logger}
}

// Browse collects host shells answering within the scan window.
func (d *MDNS) Browse(ctx context.Context) ([]HostRecord, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: resolver: %w", domain.ErrDiscoveryFailed, err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu      sync.Mutex
		records []HostRecord
		wg      sync.WaitGroup
	)

	scanCtx, cancel := context.WithTimeout(ctx, d.scanTimeout)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			rec, ok := entryToRecord(entry)
			if !ok {
				continue
			}
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			d.logger.Debug("mdns discovered host", "instance", rec.Instance, "host", rec.Host, "port", rec.Port)
		}
	}()

	if err := resolver.Browse(scanCtx, d.service, d.domain, entries); err != nil {
		cancel()
		wg.Wait()
		return nil, fmt.Errorf("%w: browse: %w", domain.ErrDiscoveryFailed, err)
	}

	<-scanCtx.Done()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return records, nil
}

// Advertise registers the host shell and blocks until ctx is done.
func (d *MDNS) Advertise(ctx context.Context, ad Advertisement) error {
	server, err := zeroconf.Register(ad.Instance, d.service, d.domain, ad.Port, ad.TXT(), nil)
	if err != nil {
		return fmt.Errorf("%w: register: %w", domain.ErrDiscoveryFailed, err)
	}
	d.logger.Info("mdns advertising", "instance", ad.Instance, "port", ad.Port, "service", d.service)

	<-ctx.Done()
	server.Shutdown()
	return nil
}

func entryToRecord(entry *zeroconf.ServiceEntry) (HostRecord, bool) {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return HostRecord{}, false
	}
	return HostRecord{
		Instance: entry.Instance,
		Host:     host,
		Port:     entry.Port,
		Metadata: parseTXTRecords(entry.Text),
	}, true
}
