// Command hostbridge runs the reference host shell and a small client for
// exercising it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"hostbridge/internal/domain"
	"hostbridge/internal/infra/config"
	"hostbridge/internal/infra/logger"
	"hostbridge/internal/infra/tracer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hostbridge: %v\n", err)
		os.Exit(1)
	}
}

type globalOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:   "hostbridge",
		Short: "Request/response bridge between embedded apps and their host shell",
		Long: `hostbridge - Request/response bridge between embedded apps and their host shell

CONFIGURATION:
    Config file: ./config.yaml (override with --config or HOSTBRIDGE_CONFIG)
    Environment: HOSTBRIDGE_* variables override config
    Secrets:     values prefixed "enc:" are decrypted with HOSTBRIDGE_CONFIG_KEY`,
		Example: `    hostbridge host                                # Serve the host shell
    hostbridge chat --user alice --message hi      # Open a 1:1 chat
    hostbridge chat --users alice,bob --topic ops  # Open a group chat
    hostbridge doctor                              # Check your setup`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", defaultConfigPath(), "config file path")
	root.AddCommand(newHostCmd(g), newChatCmd(g), newDoctorCmd(g))
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("HOSTBRIDGE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// app holds what every subcommand needs once config is loaded.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	closeLog func() error
	shutdown func(context.Context) error
}

func bootstrap(ctx context.Context, path, role string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	shutdown, err := tracer.Setup(ctx, cfg.Tracer, role)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("tracer: %w", err)
	}

	return &app{cfg: cfg, log: log, closeLog: closeLog, shutdown: shutdown}, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn("tracer shutdown", "error", err)
	}
	a.closeLog()
}
