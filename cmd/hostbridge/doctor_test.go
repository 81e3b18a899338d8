package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostbridge/internal/adapter/host"
	"hostbridge/internal/infra/config"
)

func TestCheckConfigFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "config.yaml")
	assert.Equal(t, StatusWarn, checkConfigFile(missing, nil)(nil).Status)

	bad := checkConfigFile(missing, errors.New("host.frame_context invalid"))(nil)
	assert.Equal(t, StatusFail, bad.Status)
	assert.NotEmpty(t, bad.Fix)

	present := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(present, []byte("logger:\n  level: info\n"), 0600))
	assert.Equal(t, StatusPass, checkConfigFile(present, nil)(nil).Status)
}

func TestChecksWithoutConfig(t *testing.T) {
	for name, fn := range map[string]func(*config.Config) CheckResult{
		"frame":    checkFrameContext,
		"auth":     checkHostAuth,
		"listener": checkHostListener,
		"journal":  checkJournal,
		"endpoint": checkClientEndpoint,
		"mdns":     checkMDNS,
	} {
		assert.Equal(t, StatusFail, fn(nil).Status, name)
	}
}

func TestCheckFrameContext(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, StatusPass, checkFrameContext(cfg).Status)

	cfg.Host.FrameContext = "settings"
	assert.Equal(t, StatusWarn, checkFrameContext(cfg).Status)

	cfg.Host.FrameContext = "lobby"
	assert.Equal(t, StatusFail, checkFrameContext(cfg).Status)
}

func TestCheckHostAuth(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, StatusWarn, checkHostAuth(cfg).Status)

	cfg.Host.Tokens = []config.TokenConfig{{Name: "cli", Token: "x"}}
	assert.Equal(t, StatusWarn, checkHostAuth(cfg).Status)

	cfg.Client.Token = "x"
	assert.Equal(t, StatusPass, checkHostAuth(cfg).Status)
}

func TestCheckHostListener(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := config.Defaults()
	cfg.Host.Addr = "127.0.0.1:0"
	assert.Equal(t, StatusPass, checkHostListener(cfg).Status)

	cfg.Host.GRPCAddr = busy.Addr().String()
	assert.Equal(t, StatusWarn, checkHostListener(cfg).Status)
}

func TestCheckJournal(t *testing.T) {
	cfg := config.Defaults()
	cfg.Host.JournalPath = ""
	assert.Equal(t, StatusPass, checkJournal(cfg).Status)

	dir := t.TempDir()
	cfg.Host.JournalPath = filepath.Join(dir, "journal.db")
	assert.Equal(t, StatusPass, checkJournal(cfg).Status)

	cfg.Host.JournalPath = filepath.Join(dir, "not-yet", "journal.db")
	assert.Equal(t, StatusPass, checkJournal(cfg).Status)

	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, nil, 0600))
	cfg.Host.JournalPath = filepath.Join(file, "journal.db")
	assert.Equal(t, StatusFail, checkJournal(cfg).Status)
}

func TestCheckJournalCountsRequests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	journal, err := host.NewSQLiteJournal(path)
	require.NoError(t, err)
	require.NoError(t, journal.Record(context.Background(), host.JournalEntry{
		PeerID: "p1", RequestID: 1, Func: "chat.openChat", Success: true,
	}))
	require.NoError(t, journal.Close())

	cfg := config.Defaults()
	cfg.Host.JournalPath = path
	res := checkJournal(cfg)
	assert.Equal(t, StatusPass, res.Status)
	assert.Contains(t, res.Message, "(1 requests)")
}

func TestCheckClientEndpoint(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Client.URL = "ws://" + lis.Addr().String() + "/ws"
	assert.Equal(t, StatusPass, checkClientEndpoint(cfg).Status)

	lis.Close()
	assert.Equal(t, StatusWarn, checkClientEndpoint(cfg).Status)

	cfg.Client.URL = ""
	assert.Equal(t, StatusPass, checkClientEndpoint(cfg).Status)
}

func TestCheckMDNS(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, StatusPass, checkMDNS(cfg).Status)

	cfg.Host.MDNS.Enabled = true
	want := StatusFail
	if mdnsCompiled {
		want = StatusPass
	}
	assert.Equal(t, want, checkMDNS(cfg).Status)
}

func TestRunDoctorReportsFailures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host:\n  frame_context: lobby\n"), 0600))

	var out bytes.Buffer
	err := runDoctor(path, &out)
	require.Error(t, err)
	assert.Contains(t, out.String(), "[FAIL] Config file")
	assert.Contains(t, out.String(), "Results:")
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "[PASS]", statusIcon(StatusPass))
	assert.Equal(t, "[WARN]", statusIcon(StatusWarn))
	assert.Equal(t, "[FAIL]", statusIcon(StatusFail))
	assert.Equal(t, "[????]", statusIcon("other"))
}
