package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/boristopalov/envd/pkg/agent"
	"github.com/boristopalov/envd/pkg/client"
	"github.com/boristopalov/envd/pkg/config"
	"github.com/boristopalov/envd/pkg/core"
	"github.com/boristopalov/envd/pkg/experiment"
	"github.com/boristopalov/envd/pkg/provision"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play episodes against a session with a random or LLM agent",
		Long: "Play episodes against a session. With --url the session must already be running; " +
			"with --image it is started in a container; otherwise a local `envd serve` process is spawned.",
		RunE: runEpisodes,
	}
	cmd.Flags().String("url", "", "base URL of a running session")
	cmd.Flags().String("image", "", "container image serving the session")
	cmd.Flags().String("runtime", "", "container runtime (docker or podman)")
	cmd.Flags().Bool("nats", false, "talk to an already running session over NATS")
	cmd.Flags().String("nats-url", "", "NATS server URL")
	cmd.Flags().String("nats-prefix", "", "subject prefix of the session")
	cmd.Flags().String("agent", "", "random, openai or gemini")
	cmd.Flags().String("model", "", "model id for LLM agents")
	cmd.Flags().Int("episodes", 0, "number of episodes")
	cmd.Flags().Int64("seed", 0, "seed of the first episode")
	cmd.Flags().Duration("timeout", 0, "per-request timeout")
	cmd.Flags().String("stats-dir", "", "directory for the per-episode CSV")
	return cmd
}

func runEpisodes(cmd *cobra.Command, args []string) error {
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

	configPath, _ := cmd.Flags().GetString("config")
	c, err := connect(ctx, cfg, configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(context.Background()); err != nil {
			log.Printf("Error closing session %s: %v", c.Target(), err)
		}
	}()

	controller, err := newController(ctx, cfg)
	if err != nil {
		return err
	}

	runner := experiment.NewRunner(c, controller,
		experiment.WithEpisodes(cfg.Run.Episodes),
		experiment.WithSeed(cfg.Run.Seed),
		experiment.WithStepHook(printStep),
	)
	if cfg.Run.StatsDir != "" {
		if err := os.MkdirAll(cfg.Run.StatsDir, 0755); err != nil {
			return fmt.Errorf("failed to create stats directory: %w", err)
		}
		path, err := runner.CreateStatsFile(cfg.Run.StatsDir)
		if err != nil {
			return err
		}
		log.Printf("Writing episode stats to %s", path)
	}

	stats, err := runner.Run(ctx)
	printSummary(stats)
	return err
}

// connect picks the session source: NATS, a fixed URL, a container image, or a spawned
// local process, in that order.
func connect(ctx context.Context, cfg *config.Config, configPath string) (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(cfg.Run.Timeout)}

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("envd-run"))
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.NATS.URL, err)
		}
		return client.NewNATS(nc, cfg.NATS.Prefix, opts...), nil
	}

	var provider provision.Provider
	switch {
	case cfg.Run.URL != "":
		provider = provision.Static(cfg.Run.URL)
	case cfg.Run.Image != "":
		provider = &provision.Container{Image: cfg.Run.Image, Runtime: cfg.Run.Runtime}
	default:
		p := &provision.Process{}
		if configPath != "" {
			p.Args = []string{"--config", configPath}
		}
		provider = p
	}
	return client.Launch(ctx, provider, opts...)
}

func newController(ctx context.Context, cfg *config.Config) (agent.Controller, error) {
	if cfg.Agent.Provider == "random" {
		return agent.NewRandomAgent(cfg.Run.Seed), nil
	}
	return agent.NewLLMAgent(ctx,
		agent.WithProvider(cfg.Agent.Provider),
		agent.WithModel(agent.ModelInfo{Id: cfg.Agent.Model, Config: map[string]any{}}),
		agent.WithAPIBaseURL(cfg.Agent.BaseURL),
		agent.WithAPIKey(cfg.Agent.APIKey),
		agent.WithMemorySize(cfg.Agent.MemorySize),
	)
}

func printStep(episode int, action core.Action, result core.StepResult) {
	reward := color.GreenString("%+.2f", result.Reward)
	if result.Reward < 0 {
		reward = color.RedString("%+.2f", result.Reward)
	}
	line := fmt.Sprintf("%s %s -> %s", color.HiBlackString("[episode %d]", episode), action, reward)
	if errMsg, ok := result.Observation.CurrentStateData["last_error"]; ok {
		line += " " + color.YellowString("%v", errMsg)
	}
	if result.Done {
		line += " " + color.CyanString("done")
	}
	fmt.Println(line)
}

func printSummary(stats []experiment.EpisodeStats) {
	s := experiment.Summarize(stats)
	headline := color.GreenString("%d/%d episodes completed", s.Completed, s.Episodes)
	if s.Completed < s.Episodes {
		headline = color.YellowString("%d/%d episodes completed", s.Completed, s.Episodes)
	}
	fmt.Printf("%s, mean reward %.2f\n", headline, s.MeanReward)
}
