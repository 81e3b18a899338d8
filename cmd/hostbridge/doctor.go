package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hostbridge/internal/adapter/host"
	"hostbridge/internal/domain"
	"hostbridge/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

func newDoctorCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run health checks on your setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(g.configPath, cmd.OutOrStdout())
		},
	}
}

// runDoctor executes all health checks and reports results.
func runDoctor(cfgPath string, out io.Writer) error {
	// Some checks work without a loaded config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Frame context", Fn: checkFrameContext},
		{Name: "Host auth", Fn: checkHostAuth},
		{Name: "Host listener", Fn: checkHostListener},
		{Name: "Journal", Fn: checkJournal},
		{Name: "Host reachable", Fn: checkClientEndpoint},
		{Name: "mDNS", Fn: checkMDNS},
	}

	fmt.Fprintln(out, "hostbridge doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

var errNoConfig = CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}

// checkConfigFile reports whether the config file exists and loads.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Fix the listed fields in " + cfgPath,
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s; using defaults", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: "config loaded from " + cfgPath}
	}
}

func checkFrameContext(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	fc, err := domain.ParseFrameContext(cfg.Host.FrameContext)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Set host.frame_context to one of: content, settings, authentication, remove, task, sidePanel, stage, meetingStage",
		}
	}
	if fc != domain.FrameContextContent {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("host declares %q; chat.openChat only works in \"content\"", fc),
		}
	}
	return CheckResult{Status: StatusPass, Message: "host declares \"content\""}
}

func checkHostAuth(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	if len(cfg.Host.Tokens) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no host tokens; any local process can connect",
			Fix:     "Add host.tokens or set HOSTBRIDGE_HOST_TOKENS",
		}
	}
	if cfg.Client.Token == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d host token(s) configured but client.token is empty", len(cfg.Host.Tokens)),
			Fix:     "Set client.token or HOSTBRIDGE_CLIENT_TOKEN",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d host token(s) configured", len(cfg.Host.Tokens))}
}

// checkHostListener binds the host addresses briefly to see whether they are free.
func checkHostListener(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	var busy []string
	for _, addr := range []string{cfg.Host.Addr, cfg.Host.GRPCAddr} {
		if addr == "" {
			continue
		}
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			busy = append(busy, addr)
			continue
		}
		lis.Close()
	}
	if len(busy) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "address in use: " + strings.Join(busy, ", ") + " (a host may already be running)",
		}
	}
	return CheckResult{Status: StatusPass, Message: "host addresses are free"}
}

func checkJournal(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	if cfg.Host.JournalPath == "" {
		return CheckResult{Status: StatusPass, Message: "journal disabled"}
	}
	dir := filepath.Dir(cfg.Host.JournalPath)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return CheckResult{Status: StatusPass, Message: dir + " will be created on first run"}
	}
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: dir + " is not a directory",
			Fix:     "Point host.journal_path at a writable location",
		}
	}
	probe, err := os.CreateTemp(dir, ".hostbridge-doctor-*")
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: dir + " is not writable",
			Fix:     "Fix permissions or change host.journal_path",
		}
	}
	probe.Close()
	os.Remove(probe.Name())

	if _, err := os.Stat(cfg.Host.JournalPath); err != nil {
		return CheckResult{Status: StatusPass, Message: "journal at " + cfg.Host.JournalPath}
	}
	journal, err := host.NewSQLiteJournal(cfg.Host.JournalPath)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("journal unreadable: %v", err),
			Fix:     "Move the damaged file aside; a new journal is created on next start",
		}
	}
	defer journal.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := journal.Count(ctx)
	if err != nil {
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("journal count failed: %v", err)}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("journal at %s (%d requests)", cfg.Host.JournalPath, n)}
}

// checkClientEndpoint dials the configured client URL.
func checkClientEndpoint(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	if cfg.Client.URL == "" {
		return CheckResult{Status: StatusPass, Message: "client uses discovery; nothing to dial"}
	}
	addr := cfg.Client.URL
	if u, err := url.Parse(cfg.Client.URL); err == nil && u.Host != "" {
		addr = u.Host
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no host answering at " + addr,
			Fix:     "Start one with 'hostbridge host'",
		}
	}
	conn.Close()
	return CheckResult{Status: StatusPass, Message: "host reachable at " + addr}
}

func checkMDNS(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	wanted := cfg.Host.MDNS.Enabled || cfg.Client.Discover
	switch {
	case wanted && !mdnsCompiled:
		return CheckResult{
			Status:  StatusFail,
			Message: "mDNS requested but this binary was built without it",
			Fix:     "Rebuild with -tags mdns",
		}
	case !wanted:
		return CheckResult{Status: StatusPass, Message: "not used"}
	default:
		return CheckResult{Status: StatusPass, Message: "advertising as " + cfg.Host.MDNS.ServiceName}
	}
}
