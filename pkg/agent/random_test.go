package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/envd/pkg/core"
)

func TestRandomAgent(t *testing.T) {
	obs := core.Observation{AvailableTools: []core.ToolDefinition{{
		Name: "configure",
		Parameters: []core.ToolParameter{
			core.NewParameter("direction", core.TypeString, ""),
			core.NewParameter("altitude", core.TypeNumber, ""),
			core.NewParameter("armed", core.TypeBoolean, ""),
			core.NewParameter("waypoints", core.TypeArray, ""),
			core.NewParameter("speed", core.TypeNumber, "").Optional(2.5),
			core.NewParameter("note", core.TypeString, "").Optional(nil),
		},
	}}}

	a := NewRandomAgent(1)
	action, err := a.Act(context.Background(), obs)
	require.NoError(t, err)
	assert.Equal(t, "configure", action.ToolName)
	assert.Contains(t, compass, action.Parameters["direction"])
	assert.IsType(t, 0.0, action.Parameters["altitude"])
	assert.IsType(t, true, action.Parameters["armed"])
	assert.Equal(t, []any{}, action.Parameters["waypoints"])
	assert.Equal(t, 2.5, action.Parameters["speed"])
	assert.NotContains(t, action.Parameters, "note")
}

func TestRandomAgentIsSeeded(t *testing.T) {
	obs := core.Observation{AvailableTools: []core.ToolDefinition{
		{Name: "move"}, {Name: "scan"}, {Name: "land"},
	}}
	a, b := NewRandomAgent(9), NewRandomAgent(9)
	for i := 0; i < 20; i++ {
		x, err := a.Act(context.Background(), obs)
		require.NoError(t, err)
		y, err := b.Act(context.Background(), obs)
		require.NoError(t, err)
		assert.Equal(t, x, y)
	}
}

func TestRandomAgentNoTools(t *testing.T) {
	_, err := NewRandomAgent(1).Act(context.Background(), core.Observation{})
	assert.ErrorIs(t, err, ErrNoTools)
}
