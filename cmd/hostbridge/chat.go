package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"hostbridge/internal/adapter/discovery"
	"hostbridge/internal/domain"
	"hostbridge/internal/infra/config"
	"hostbridge/internal/infra/tracer"
	"hostbridge/pkg/hostsdk"
)

type chatOptions struct {
	user     string
	users    []string
	message  string
	topic    string
	extras   map[string]string
	url      string
	discover bool
}

func newChatCmd(g *globalOptions) *cobra.Command {
	o := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask a running host to open a 1:1 or group chat",
		Long: `Connects to a host shell, performs the handshake and sends chat.openChat.

With --user a single chat is opened; with --users a group chat.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), g.configPath, tracer.RoleClient)
			if err != nil {
				return err
			}
			defer a.Close()
			return runChat(cmd.Context(), a.cfg, a.log, o, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.user, "user", "", "recipient of a 1:1 chat")
	f.StringSliceVar(&o.users, "users", nil, "members of a group chat (comma separated)")
	f.StringVar(&o.message, "message", "", "draft message")
	f.StringVar(&o.topic, "topic", "", "group chat topic")
	f.StringToStringVar(&o.extras, "extra", nil, "additional key=value fields for a 1:1 chat")
	f.StringVar(&o.url, "url", "", "host address (overrides client.url)")
	f.BoolVar(&o.discover, "discover", false, "find the host with mDNS instead of client.url")
	cmd.MarkFlagsMutuallyExclusive("user", "users")
	cmd.MarkFlagsMutuallyExclusive("extra", "users")
	cmd.MarkFlagsMutuallyExclusive("topic", "user")
	return cmd
}

func runChat(ctx context.Context, cfg *config.Config, log *slog.Logger, o *chatOptions, out io.Writer) error {
	addr, err := resolveHostAddr(ctx, cfg, log, o)
	if err != nil {
		return err
	}

	client, err := hostsdk.Dial(ctx, hostsdk.DialOptions{
		Transport:     cfg.Client.Transport,
		Address:       addr,
		Token:         cfg.Client.Token,
		RatePerSecond: cfg.Client.RateLimit,
		Burst:         cfg.Client.Burst,
		MaxFailures:   uint32(cfg.Client.CircuitBreaker.MaxFailures),
		OpenTimeout:   cfg.Client.CircuitBreaker.Timeout,
		Interval:      cfg.Client.CircuitBreaker.Interval,
		Logger:        log,
	}, hostsdk.WithSDKVersion(cfg.Client.SDKVersion))
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer client.Close()

	if cfg.Client.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Client.CallTimeout)
		defer cancel()
	}

	info, err := client.Initialize(ctx)
	if err != nil {
		return describe(err)
	}
	st := client.Status()
	fmt.Fprintf(out, "connected to %s (context %s, session %s)\n", hostLabel(info), st.Host.FrameContext, st.ID)

	if len(o.users) > 0 {
		err = client.Chat.OpenGroupChat(ctx, hostsdk.GroupChatRequest{Users: o.users, Message: o.message, Topic: o.topic})
	} else {
		err = client.Chat.OpenSingleChat(ctx, hostsdk.SingleChatRequest{User: o.user, Message: o.message, Extras: toAny(o.extras)})
	}
	if err != nil {
		return describe(err)
	}
	fmt.Fprintln(out, "chat opened")
	return nil
}

// resolveHostAddr picks the flag, then mDNS when asked, then client.url.
func resolveHostAddr(ctx context.Context, cfg *config.Config, log *slog.Logger, o *chatOptions) (string, error) {
	if o.url != "" {
		return o.url, nil
	}
	if !o.discover && !cfg.Client.Discover {
		return cfg.Client.URL, nil
	}

	rec, err := discovery.First(ctx, buildDiscoverer(cfg.Host.MDNS, log))
	if err != nil {
		return "", err
	}
	if cfg.Client.Transport == hostsdk.TransportGRPC {
		if addr := rec.GRPCAddr(); addr != "" {
			return addr, nil
		}
		return "", fmt.Errorf("%w: host %q does not serve grpc", domain.ErrDiscoveryFailed, rec.Instance)
	}
	return rec.WebSocketURL(), nil
}

// describe prefixes err with its machine-readable code.
func describe(err error) error {
	return fmt.Errorf("[%s] %w", domain.ErrorCodeOf(err), err)
}

func hostLabel(info hostsdk.HostInfo) string {
	if info.HostName == "" {
		return "host"
	}
	return info.HostName
}

func toAny(m map[string]string) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
