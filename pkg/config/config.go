package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/boristopalov/envd/pkg/environment"
	"github.com/boristopalov/envd/pkg/mission"
)

// EnvPrefix prefixes every environment override, e.g. ENVD_SERVER_ADDR.
const EnvPrefix = "ENVD_"

type Config struct {
	Server  ServerConfig   `yaml:"server"`
	NATS    NATSConfig     `yaml:"nats"`
	Mission mission.Config `yaml:"mission"`
	Agent   AgentConfig    `yaml:"agent"`
	Run     RunConfig      `yaml:"run"`
	Logging LogConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxSteps    int    `yaml:"max_steps"`
	ToolPolicy  string `yaml:"tool_policy"`
	SessionID   string `yaml:"session_id"`
	HistorySize int    `yaml:"history_size"`
	Verbose     bool   `yaml:"verbose"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Prefix  string `yaml:"prefix"`
}

type AgentConfig struct {
	Provider   string `yaml:"provider"` // random, openai or gemini
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	MemorySize int    `yaml:"memory_size"`
}

// RunConfig describes how `envd run` acquires its session and how many episodes it plays.
// URL wins over Image; with neither set a local `envd serve` process is spawned.
type RunConfig struct {
	Episodes int           `yaml:"episodes"`
	Seed     int64         `yaml:"seed"`
	StatsDir string        `yaml:"stats_dir"`
	Timeout  time.Duration `yaml:"timeout"`
	URL      string        `yaml:"url"`
	Image    string        `yaml:"image"`
	Runtime  string        `yaml:"runtime"`
}

type LogConfig struct {
	Level string `yaml:"level"` // "debug" logs every session event
	Path  string `yaml:"path"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        "127.0.0.1:8000",
			MaxSteps:    environment.DefaultMaxSteps,
			ToolPolicy:  string(environment.ToolPolicyPassThrough),
			HistorySize: 256,
		},
		NATS: NATSConfig{
			URL:    "nats://127.0.0.1:4222",
			Prefix: "envd",
		},
		Mission: mission.DefaultConfig(),
		Agent: AgentConfig{
			Provider:   "random",
			Model:      "gpt-4o-mini",
			MemorySize: 20,
		},
		Run: RunConfig{
			Episodes: 1,
			Seed:     1,
			StatsDir: "logs",
			Timeout:  60 * time.Second,
		},
		Logging: LogConfig{Level: "info"},
	}
}

// LoadConfig reads the YAML file at path over the defaults and then applies ENVD_*
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ENVD_* variables that are set and non-empty.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"SERVER_ADDR":        &c.Server.Addr,
		"SERVER_TOOL_POLICY": &c.Server.ToolPolicy,
		"SERVER_SESSION_ID":  &c.Server.SessionID,
		"NATS_URL":           &c.NATS.URL,
		"NATS_PREFIX":        &c.NATS.Prefix,
		"AGENT_PROVIDER":     &c.Agent.Provider,
		"AGENT_MODEL":        &c.Agent.Model,
		"AGENT_BASE_URL":     &c.Agent.BaseURL,
		"AGENT_API_KEY":      &c.Agent.APIKey,
		"RUN_STATS_DIR":      &c.Run.StatsDir,
		"RUN_URL":            &c.Run.URL,
		"RUN_IMAGE":          &c.Run.Image,
		"RUNTIME":            &c.Run.Runtime,
		"LOG_LEVEL":          &c.Logging.Level,
		"LOG_PATH":           &c.Logging.Path,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SERVER_MAX_STEPS":    &c.Server.MaxSteps,
		"SERVER_HISTORY_SIZE": &c.Server.HistorySize,
		"AGENT_MEMORY_SIZE":   &c.Agent.MemorySize,
		"RUN_EPISODES":        &c.Run.Episodes,
		"MISSION_SIZE":        &c.Mission.Size,
		"MISSION_TARGETS":     &c.Mission.Targets,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"SERVER_VERBOSE": &c.Server.Verbose,
		"NATS_ENABLED":   &c.NATS.Enabled,
	}
	for key, dst := range bools {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}

	if v, ok := lookup("RUN_SEED"); ok {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sRUN_SEED: %w", EnvPrefix, err)
		}
		c.Run.Seed = seed
	}
	if v, ok := lookup("RUN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sRUN_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Run.Timeout = d
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.MaxSteps < 1 {
		return fmt.Errorf("server.max_steps must be positive, got %d", c.Server.MaxSteps)
	}
	if _, err := environment.ParseToolPolicy(c.Server.ToolPolicy); err != nil {
		return err
	}
	if c.Run.Episodes < 1 {
		return fmt.Errorf("run.episodes must be positive, got %d", c.Run.Episodes)
	}
	switch strings.ToLower(c.Agent.Provider) {
	case "random", "openai", "gemini":
	default:
		return fmt.Errorf("unknown agent provider %q", c.Agent.Provider)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	if c.Mission.Size < 2 || c.Mission.Targets < 0 {
		return fmt.Errorf("mission needs size >= 2 and targets >= 0, got %d/%d", c.Mission.Size, c.Mission.Targets)
	}
	return nil
}

// Debug reports whether the log level asks for per-event logging.
func (l LogConfig) Debug() bool {
	return strings.EqualFold(l.Level, "debug")
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	return v, v != ""
}
