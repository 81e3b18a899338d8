package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostbridge/internal/adapter/host"
	"hostbridge/internal/domain"
	"hostbridge/internal/infra/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startHost serves a shell declaring fc and returns a client config pointing at it.
func startHost(t *testing.T, fc domain.FrameContext) *config.Config {
	t.Helper()
	shell := host.NewShell(host.ShellConfig{FrameContext: fc, HostName: "test-host"}, nil, quietLogger())
	auth := host.NewStaticTokenAuth([]host.TokenEntry{{Token: "secret", Name: "cli"}})
	srv := host.NewServer(shell, auth, "127.0.0.1:0", nil, quietLogger())
	lis, err := srv.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, lis)

	cfg := config.Defaults()
	cfg.Client.URL = "ws://" + srv.BoundAddr() + "/ws"
	cfg.Client.Token = "secret"
	cfg.Client.CallTimeout = 5 * time.Second
	return cfg
}

func TestRunChatSingle(t *testing.T) {
	cfg := startHost(t, domain.FrameContextContent)

	var out bytes.Buffer
	err := runChat(context.Background(), cfg, quietLogger(),
		&chatOptions{user: "alice", message: "hi", extras: map[string]string{"source": "cli"}}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "connected to test-host (context content")
	assert.Contains(t, out.String(), "chat opened")
}

func TestRunChatGroup(t *testing.T) {
	cfg := startHost(t, domain.FrameContextContent)

	var out bytes.Buffer
	err := runChat(context.Background(), cfg, quietLogger(),
		&chatOptions{users: []string{"alice", "bob"}, topic: "standup"}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "chat opened")
}

func TestRunChatWrongContext(t *testing.T) {
	cfg := startHost(t, domain.FrameContextSettings)

	err := runChat(context.Background(), cfg, quietLogger(),
		&chatOptions{user: "alice", message: "hi"}, io.Discard)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidContext)
	assert.Contains(t, err.Error(), "[INVALID_CONTEXT]")
}

func TestRunChatMissingUser(t *testing.T) {
	cfg := startHost(t, domain.FrameContextContent)

	err := runChat(context.Background(), cfg, quietLogger(), &chatOptions{message: "hi"}, io.Discard)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "[MISSING_FIELD]")
}

func TestRunChatBadToken(t *testing.T) {
	cfg := startHost(t, domain.FrameContextContent)
	cfg.Client.Token = "wrong"

	err := runChat(context.Background(), cfg, quietLogger(), &chatOptions{user: "alice", message: "hi"}, io.Discard)
	assert.Error(t, err)
}

func TestResolveHostAddr(t *testing.T) {
	cfg := config.Defaults()

	addr, err := resolveHostAddr(context.Background(), cfg, quietLogger(), &chatOptions{url: "ws://10.0.0.1:1/ws"})
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.1:1/ws", addr)

	addr, err = resolveHostAddr(context.Background(), cfg, quietLogger(), &chatOptions{})
	require.NoError(t, err)
	assert.Equal(t, cfg.Client.URL, addr)
}

func TestToAny(t *testing.T) {
	assert.Nil(t, toAny(nil))
	assert.Equal(t, map[string]any{"a": "1"}, toAny(map[string]string{"a": "1"}))
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"host", "chat", "doctor"})

	chat, _, err := root.Find([]string{"chat"})
	require.NoError(t, err)
	for _, flag := range []string{"user", "users", "message", "topic", "extra", "url", "discover"} {
		assert.NotNil(t, chat.Flags().Lookup(flag), flag)
	}
}
