package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/boristopalov/envd/pkg/config"
	"github.com/boristopalov/envd/pkg/environment"
	"github.com/boristopalov/envd/pkg/memory"
	"github.com/boristopalov/envd/pkg/messaging"
	"github.com/boristopalov/envd/pkg/mission"
	"github.com/boristopalov/envd/pkg/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve one mission session over HTTP (and NATS with --nats)",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8000)")
	cmd.Flags().Int("max-steps", 0, "steps per episode before it is cut off")
	cmd.Flags().String("tool-policy", "", "pass_through or strict")
	cmd.Flags().String("session-id", "", "session id reported in health and events")
	cmd.Flags().Bool("verbose", false, "log every operation")
	cmd.Flags().Bool("nats", false, "also serve on NATS subjects")
	cmd.Flags().String("nats-url", "", "NATS server URL")
	cmd.Flags().String("nats-prefix", "", "subject prefix, e.g. envd -> envd.reset")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logs, err := setupLogging(cfg.Logging)
	if err != nil {
		return err
	}
	defer logs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := env.Close(); err != nil {
			log.Printf("Error closing environment: %v", err)
		}
	}()

	opts := []server.Option{
		server.WithHistory(memory.NewMemory[messaging.Event](cfg.Server.HistorySize)),
		server.WithVerbose(cfg.Server.Verbose || cfg.Logging.Debug()),
	}
	if cfg.Server.SessionID != "" {
		opts = append(opts, server.WithSessionID(cfg.Server.SessionID))
	}
	srv := server.New(env, opts...)

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("envd-"+srv.SessionID()))
		if err != nil {
			return fmt.Errorf("connecting to NATS at %s: %w", cfg.NATS.URL, err)
		}
		defer nc.Close()
		go func() {
			if err := srv.ServeNATS(ctx, nc, cfg.NATS.Prefix); err != nil {
				log.Printf("NATS serving stopped: %v", err)
			}
		}()
	}

	if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		return fmt.Errorf("serving http: %w", err)
	}
	log.Printf("Session %s shut down", srv.SessionID())
	return nil
}

func newEnvironment(cfg *config.Config) (*environment.Environment, error) {
	policy, err := environment.ParseToolPolicy(cfg.Server.ToolPolicy)
	if err != nil {
		return nil, err
	}
	return environment.New(
		mission.New(cfg.Mission),
		environment.WithMaxSteps(cfg.Server.MaxSteps),
		environment.WithToolPolicy(policy),
	), nil
}
