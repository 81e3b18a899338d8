package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostbridge/internal/adapter/host"
	"hostbridge/internal/infra/config"
)

func TestRunHostStartsAndStops(t *testing.T) {
	cfg := config.Defaults()
	cfg.Host.Addr = "127.0.0.1:0"
	cfg.Host.GRPCAddr = "127.0.0.1:0"
	cfg.Host.JournalPath = filepath.Join(t.TempDir(), "data", "journal.db")
	cfg.Host.Tokens = []config.TokenConfig{{Name: "cli", Token: "secret"}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runHost(ctx, cfg, quietLogger()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runHost did not return after cancel")
	}
	assert.FileExists(t, cfg.Host.JournalPath)
}

func TestRunHostRejectsBadFrameContext(t *testing.T) {
	cfg := config.Defaults()
	cfg.Host.FrameContext = "lobby"
	assert.Error(t, runHost(context.Background(), cfg, quietLogger()))
}

func TestRunHostBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := config.Defaults()
	cfg.Host.Addr = "127.0.0.1:0"
	cfg.Host.GRPCAddr = busy.Addr().String()
	cfg.Host.JournalPath = ""

	assert.Error(t, runHost(context.Background(), cfg, quietLogger()))
}

func TestBuildAuth(t *testing.T) {
	open := buildAuth(nil, quietLogger())
	_, isOpen := open.(host.OpenAuth)
	assert.True(t, isOpen)

	static := buildAuth([]config.TokenConfig{{Name: "cli", Token: "secret"}}, quietLogger())
	peer, err := static.Authenticate("secret")
	require.NoError(t, err)
	assert.Equal(t, "cli", peer.Name)
	_, err = static.Authenticate("nope")
	assert.Error(t, err)
}

func TestListenerPort(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	assert.Positive(t, listenerPort(lis))
}
