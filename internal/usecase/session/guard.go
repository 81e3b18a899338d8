package session

import (
	"slices"

	"hostbridge/internal/domain"
)

// EnsureAllowed is the context guard. It fails with ErrNotInitialized before
// the handshake, regardless of allowed, and with an *InvalidContextError when
// the declared frame context is not in allowed. It never touches the transport.
func (s *State) EnsureAllowed(allowed ...domain.FrameContext) error {
	current, ok := s.FrameContext()
	if !ok {
		return domain.ErrNotInitialized
	}
	if !slices.Contains(allowed, current) {
		return &domain.InvalidContextError{Allowed: slices.Clone(allowed), Current: current}
	}
	return nil
}
