package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/envd/pkg/config"
)

func TestMissionPhases(t *testing.T) {
	phases, err := missionPhases(context.Background(), config.Default())
	require.NoError(t, err)
	require.Len(t, phases, 2)

	assert.Equal(t, "preflight", phases[0].Phase)
	require.Len(t, phases[0].Tools, 1)
	assert.Equal(t, "takeoff", phases[0].Tools[0].Name)

	assert.Equal(t, "airborne", phases[1].Phase)
	var names []string
	for _, tool := range phases[1].Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "move")
	assert.Contains(t, names, "scan")
	assert.Contains(t, names, "land")
}

func TestNewEnvironmentRejectsUnknownPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Server.ToolPolicy = "lenient"
	_, err := newEnvironment(cfg)
	assert.Error(t, err)
}
