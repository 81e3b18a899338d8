package discovery

import (
	"context"
	"fmt"

	"hostbridge/internal/domain"
)

// Noop is used when mDNS support is not compiled in.
type Noop struct{}

// NewNoop creates a Noop discoverer.
func NewNoop() *Noop { return &Noop{} }

// Advertise waits for ctx without publishing anything.
func (Noop) Advertise(ctx context.Context, _ Advertisement) error {
	<-ctx.Done()
	return nil
}

// Browse always fails: there is nothing to browse with.
func (Noop) Browse(context.Context) ([]HostRecord, error) {
	return nil, fmt.Errorf("%w: built without mdns support", domain.ErrDiscoveryFailed)
}
