// Package session holds the per-embedding initialization state, the context
// guard consulted before every host call, and the initialize handshake.
package session

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"hostbridge/internal/domain"
)

// Phase is the lifecycle position of a session.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitialized
)

func (p Phase) String() string {
	if p == PhaseInitialized {
		return "initialized"
	}
	return "uninitialized"
}

// State tracks whether the host handshake has completed and which frame
// context the host declared. One State exists per embedding session; the
// frame context changes only through MarkInitialized and Reset.
type State struct {
	mu            sync.RWMutex
	id            string
	phase         Phase
	host          domain.HostInfo
	initializedAt time.Time
}

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	ID            string          `json:"id"`
	Phase         string          `json:"phase"`
	Host          domain.HostInfo `json:"host"`
	InitializedAt time.Time       `json:"initialized_at,omitzero"`
}

// NewState returns an uninitialized session with a fresh ULID.
func NewState() *State {
	return &State{id: generateULID(time.Now())}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ID returns the session's ULID.
func (s *State) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Initialized reports whether the handshake has completed.
func (s *State) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase == PhaseInitialized
}

// FrameContext returns the declared frame context. ok is false before the
// handshake completes.
func (s *State) FrameContext() (fc domain.FrameContext, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.phase != PhaseInitialized {
		return "", false
	}
	return s.host.FrameContext, true
}

// Host returns the host info recorded by the handshake.
func (s *State) Host() domain.HostInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.host
}

// MarkInitialized records a completed handshake. It fails if info carries an
// unknown frame context or the session is already initialized.
func (s *State) MarkInitialized(info domain.HostInfo) error {
	if !info.FrameContext.Valid() {
		return domain.NewSubSystemError("session", "session.MarkInitialized", domain.ErrUnknownContext,
			string(info.FrameContext))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseInitialized {
		return domain.NewDomainError("session.MarkInitialized", domain.ErrInvalidInput, "already initialized")
	}
	s.phase = PhaseInitialized
	s.host = info
	s.initializedAt = time.Now()
	return nil
}

// Reset returns the session to uninitialized and rotates its id.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseUninitialized
	s.host = domain.HostInfo{}
	s.initializedAt = time.Time{}
	s.id = generateULID(time.Now())
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:            s.id,
		Phase:         s.phase.String(),
		Host:          s.host,
		InitializedAt: s.initializedAt,
	}
}
