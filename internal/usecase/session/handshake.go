package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"hostbridge/internal/domain"
)

// Caller performs one correlated round-trip with the host.
type Caller interface {
	Call(ctx context.Context, fn string, args ...any) (json.RawMessage, error)
}

// Handshake sends the initialize request and records the host's answer in
// state. The host may answer with a HostInfo object or a bare context string.
func Handshake(ctx context.Context, caller Caller, state *State, sdkVersion string) (domain.HostInfo, error) {
	raw, err := caller.Call(ctx, domain.FuncInitialize, sdkVersion)
	if err != nil {
		return domain.HostInfo{}, domain.WrapOp("session.Handshake", err)
	}

	info, err := decodeHostInfo(raw)
	if err != nil {
		return domain.HostInfo{}, err
	}
	if _, err := domain.ParseFrameContext(string(info.FrameContext)); err != nil {
		return domain.HostInfo{}, fmt.Errorf("session.Handshake: %w: %w", domain.ErrInvalidInput, err)
	}
	if err := state.MarkInitialized(info); err != nil {
		return domain.HostInfo{}, err
	}
	return info, nil
}

func decodeHostInfo(raw json.RawMessage) (domain.HostInfo, error) {
	var info domain.HostInfo
	if err := json.Unmarshal(raw, &info); err == nil {
		return info, nil
	}
	var bare string
	if err := json.Unmarshal(raw, &bare); err != nil {
		return domain.HostInfo{}, domain.NewDomainError("session.Handshake", domain.ErrHandshakeMalformed, err.Error())
	}
	return domain.HostInfo{FrameContext: domain.FrameContext(bare)}, nil
}

// Initializer runs the handshake at most once per session. Concurrent
// callers share the in-flight round-trip; later callers get the stored result.
type Initializer struct {
	caller     Caller
	state      *State
	sdkVersion string
	bus        domain.EventBus // can be nil
	logger     *slog.Logger

	group singleflight.Group
}

// NewInitializer creates an Initializer. bus may be nil.
func NewInitializer(caller Caller, state *State, sdkVersion string, bus domain.EventBus, logger *slog.Logger) *Initializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Initializer{caller: caller, state: state, sdkVersion: sdkVersion, bus: bus, logger: logger}
}

// Initialize completes the handshake if it has not happened yet. The first
// caller's ctx bounds the shared round-trip; every caller stops waiting when
// its own ctx ends.
func (i *Initializer) Initialize(ctx context.Context) (domain.HostInfo, error) {
	if i.state.Initialized() {
		return i.state.Host(), nil
	}
	ch := i.group.DoChan(domain.FuncInitialize, func() (any, error) {
		if i.state.Initialized() {
			return i.state.Host(), nil
		}
		return i.handshake(ctx)
	})
	select {
	case r := <-ch:
		info, _ := r.Val.(domain.HostInfo)
		return info, r.Err
	case <-ctx.Done():
		return domain.HostInfo{}, ctx.Err()
	}
}

func (i *Initializer) handshake(ctx context.Context) (domain.HostInfo, error) {
	info, err := Handshake(domain.ContextWithSessionID(ctx, i.state.ID()), i.caller, i.state, i.sdkVersion)
	if err != nil {
		i.logger.Warn("host handshake failed", "error", err)
		return info, err
	}
	i.logger.Info("host handshake complete",
		"session_id", i.state.ID(),
		"frame_context", string(info.FrameContext),
		"host", info.HostName,
	)
	if i.bus != nil {
		i.bus.Publish(ctx, domain.NewEvent(domain.EventSessionInitialized, i.state.ID(), info))
	}
	return info, nil
}
