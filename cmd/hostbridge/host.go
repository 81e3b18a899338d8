package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"hostbridge/internal/adapter/discovery"
	"hostbridge/internal/adapter/host"
	"hostbridge/internal/domain"
	"hostbridge/internal/infra/config"
	"hostbridge/internal/infra/middleware"
	"hostbridge/internal/infra/tracer"
	"hostbridge/internal/usecase/eventbus"
	"hostbridge/pkg/hostsdk"
)

func newHostCmd(g *globalOptions) *cobra.Command {
	var frameContext string
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Serve the reference host shell over WebSocket and gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), g.configPath, tracer.RoleHost)
			if err != nil {
				return err
			}
			defer a.Close()
			if frameContext != "" {
				a.cfg.Host.FrameContext = frameContext
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runHost(ctx, a.cfg, a.log)
		},
	}
	cmd.Flags().StringVar(&frameContext, "frame-context", "", "frame context declared in the handshake (overrides host.frame_context)")
	return cmd
}

func runHost(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	fc, err := domain.ParseFrameContext(cfg.Host.FrameContext)
	if err != nil {
		return err
	}

	bus := eventbus.New(log, eventbus.WithMailbox(1024))
	defer func() {
		bus.Close()
		if n := bus.Dropped(); n > 0 {
			log.Warn("host events dropped", "count", n)
		}
	}()
	metrics := &host.Metrics{}
	defer metrics.Observe(bus)()

	var (
		shellOpts []host.ShellOption
		journal   *host.SQLiteJournal
	)
	if cfg.Host.JournalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Host.JournalPath), 0o700); err != nil {
			return fmt.Errorf("journal dir: %w", err)
		}
		journal, err = host.NewSQLiteJournal(cfg.Host.JournalPath)
		if err != nil {
			return err
		}
		defer journal.Close()
		shellOpts = append(shellOpts, host.WithJournal(journal))
	}

	shell := host.NewShell(host.ShellConfig{
		FrameContext: fc,
		HostName:     cfg.Host.HostName,
		ClientType:   cfg.Host.ClientType,
	}, bus, log, shellOpts...)

	auth := buildAuth(cfg.Host.Tokens, log)

	// Bind every listener before serving so a bind failure leaves nothing running.
	var (
		serve     []func(context.Context) error
		listeners []net.Listener
	)
	closeAll := func() {
		for _, l := range listeners {
			l.Close()
		}
	}
	ad := discovery.Advertisement{
		Instance:     cfg.Host.HostName,
		HostName:     cfg.Host.HostName,
		FrameContext: string(fc),
		Version:      hostsdk.DefaultSDKVersion,
	}

	if cfg.Host.Addr != "" {
		srv := host.NewServer(shell, auth, cfg.Host.Addr, metrics, log)
		srv.Use(
			middleware.SecurityHeaders,
			middleware.PerClientRateLimit(ctx, middleware.RateLimitConfig{RequestsPerMin: 600, Burst: 60, Logger: log}),
		)
		srv.RegisterHTTPRoute("/api/v1/broadcast", host.BroadcastHandler(shell, auth))
		if journal != nil {
			srv.RegisterHTTPRoute("/api/v1/journal", host.JournalHandler(journal))
		}
		lis, err := srv.Listen()
		if err != nil {
			return err
		}
		listeners = append(listeners, lis)
		ad.Port = listenerPort(lis)
		serve = append(serve, func(ctx context.Context) error { return srv.Serve(ctx, lis) })
	}

	if cfg.Host.GRPCAddr != "" {
		gs := host.NewGRPCServer(shell, auth, cfg.Host.GRPCAddr, log)
		lis, err := net.Listen("tcp", cfg.Host.GRPCAddr)
		if err != nil {
			closeAll()
			return fmt.Errorf("grpc listen: %w", err)
		}
		ad.GRPCPort = listenerPort(lis)
		if ad.Port == 0 {
			ad.Port = ad.GRPCPort
		}
		serve = append(serve, func(ctx context.Context) error { return gs.Serve(ctx, lis) })
	}

	grp, ctx := errgroup.WithContext(ctx)
	for _, fn := range serve {
		grp.Go(func() error { return fn(ctx) })
	}

	if cfg.Host.MDNS.Enabled {
		d := buildDiscoverer(cfg.Host.MDNS, log)
		grp.Go(func() error {
			if err := d.Advertise(ctx, ad); err != nil {
				// Advertising is best effort; the servers keep running.
				log.Warn("mdns advertise failed", "error", err)
			}
			return nil
		})
	}

	log.Info("hostbridge host starting",
		"frame_context", fc,
		"ws_addr", cfg.Host.Addr,
		"grpc_addr", cfg.Host.GRPCAddr,
		"journal", journal != nil,
		"auth_tokens", len(cfg.Host.Tokens),
	)
	return grp.Wait()
}

// buildAuth uses static tokens when any are configured, open auth otherwise.
func buildAuth(tokens []config.TokenConfig, log *slog.Logger) host.Authenticator {
	if len(tokens) == 0 {
		log.Warn("no host tokens configured; accepting unauthenticated peers")
		return host.OpenAuth{}
	}
	entries := make([]host.TokenEntry, len(tokens))
	for i, t := range tokens {
		entries[i] = host.TokenEntry{Token: t.Token, Name: t.Name}
	}
	return host.NewStaticTokenAuth(entries)
}

func listenerPort(lis net.Listener) int {
	_, port, err := net.SplitHostPort(lis.Addr().String())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}
