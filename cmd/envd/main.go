package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/boristopalov/envd/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "envd",
		Short:         "envd serves tool-calling environments over HTTP and NATS and drives agents against them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "info or debug")
	rootCmd.PersistentFlags().String("log-path", "", "also write logs to this file")

	rootCmd.AddCommand(newServeCmd(), newRunCmd(), newToolsCmd())

	for _, envFile := range []string{
		".env",
		"../../.env",
		"../../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	if err := rootCmd.Execute(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

// loadConfig reads --config and the environment, then applies any flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	set := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	setInt := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
	set("log-level", &cfg.Logging.Level)
	set("log-path", &cfg.Logging.Path)
	set("addr", &cfg.Server.Addr)
	set("tool-policy", &cfg.Server.ToolPolicy)
	set("session-id", &cfg.Server.SessionID)
	set("nats-url", &cfg.NATS.URL)
	set("nats-prefix", &cfg.NATS.Prefix)
	set("url", &cfg.Run.URL)
	set("image", &cfg.Run.Image)
	set("runtime", &cfg.Run.Runtime)
	set("agent", &cfg.Agent.Provider)
	set("model", &cfg.Agent.Model)
	set("stats-dir", &cfg.Run.StatsDir)
	setInt("max-steps", &cfg.Server.MaxSteps)
	setInt("episodes", &cfg.Run.Episodes)
	if flags.Changed("nats") {
		cfg.NATS.Enabled, _ = flags.GetBool("nats")
	}
	if flags.Changed("seed") {
		cfg.Run.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("timeout") {
		cfg.Run.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("verbose") {
		cfg.Server.Verbose, _ = flags.GetBool("verbose")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging points the standard logger at stderr and, if configured, a log file.
// The returned closer releases the file.
func setupLogging(lc config.LogConfig) (io.Closer, error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if lc.Debug() {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
	if lc.Path == "" {
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(lc.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(lc.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}
