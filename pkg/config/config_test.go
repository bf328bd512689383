package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/envd/pkg/environment"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "envd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, environment.DefaultMaxSteps, cfg.Server.MaxSteps)
	assert.Equal(t, "pass_through", cfg.Server.ToolPolicy)
	assert.Equal(t, "envd", cfg.NATS.Prefix)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "random", cfg.Agent.Provider)
	assert.Equal(t, 1, cfg.Run.Episodes)
	assert.Equal(t, 60*time.Second, cfg.Run.Timeout)
	assert.Equal(t, 5, cfg.Mission.Size)
	assert.False(t, cfg.Logging.Debug())
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 0.0.0.0:9000
  max_steps: 25
  tool_policy: strict
mission:
  size: 7
  targets: 3
run:
  episodes: 4
  timeout: 5s
logging:
  level: debug
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, 25, cfg.Server.MaxSteps)
	assert.Equal(t, "strict", cfg.Server.ToolPolicy)
	assert.Equal(t, 7, cfg.Mission.Size)
	assert.Equal(t, 3, cfg.Mission.Targets)
	assert.Equal(t, 100.0, cfg.Mission.Battery, "unset fields keep defaults")
	assert.Equal(t, 4, cfg.Run.Episodes)
	assert.Equal(t, 5*time.Second, cfg.Run.Timeout)
	assert.True(t, cfg.Logging.Debug())
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "server: [unclosed"))
		assert.Error(t, err)
	})

	t.Run("bad tool policy", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "server:\n  tool_policy: lenient\n"))
		assert.Error(t, err)
	})

	t.Run("zero max steps", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "server:\n  max_steps: 0\n"))
		assert.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "agent:\n  provider: claude\n"))
		assert.ErrorContains(t, err, "unknown agent provider")
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ENVD_SERVER_ADDR", "127.0.0.1:9999")
	t.Setenv("ENVD_SERVER_MAX_STEPS", "3")
	t.Setenv("ENVD_NATS_ENABLED", "true")
	t.Setenv("ENVD_RUN_SEED", "42")
	t.Setenv("ENVD_RUN_TIMEOUT", "1m")
	t.Setenv("ENVD_AGENT_PROVIDER", "openai")
	t.Setenv("ENVD_RUNTIME", "podman")

	path := writeConfig(t, "server:\n  max_steps: 50\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Server.MaxSteps, "environment wins over the file")
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, int64(42), cfg.Run.Seed)
	assert.Equal(t, time.Minute, cfg.Run.Timeout)
	assert.Equal(t, "openai", cfg.Agent.Provider)
	assert.Equal(t, "podman", cfg.Run.Runtime)
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	for key, value := range map[string]string{
		"ENVD_SERVER_MAX_STEPS": "ten",
		"ENVD_NATS_ENABLED":     "maybe",
		"ENVD_RUN_SEED":         "x",
		"ENVD_RUN_TIMEOUT":      "soon",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			err := Default().ApplyEnv()
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestApplyEnvIgnoresEmpty(t *testing.T) {
	t.Setenv("ENVD_SERVER_ADDR", "  ")
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
}
