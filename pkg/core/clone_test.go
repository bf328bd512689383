package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneDataIsDeep(t *testing.T) {
	orig := map[string]any{
		"position": []int{1, 2},
		"drone":    map[string]any{"sensors": []any{"lidar", map[string]any{"on": true}}},
		"battery":  80.0,
		"cells":    map[string][]float64{"a": {1.5}},
		"missing":  nil,
	}
	c := CloneData(orig)
	assert.Equal(t, orig, c)

	c["position"].([]int)[0] = 9
	c["drone"].(map[string]any)["sensors"].([]any)[1].(map[string]any)["on"] = false
	c["cells"].(map[string][]float64)["a"][0] = 0
	c["battery"] = 1.0

	assert.Equal(t, []int{1, 2}, orig["position"])
	assert.Equal(t, true, orig["drone"].(map[string]any)["sensors"].([]any)[1].(map[string]any)["on"])
	assert.Equal(t, 1.5, orig["cells"].(map[string][]float64)["a"][0])
	assert.Equal(t, 80.0, orig["battery"])
}

func TestCloneDataNil(t *testing.T) {
	c := CloneData(nil)
	require.NotNil(t, c)
	assert.Empty(t, c)
}

func TestEpisodeStateCloneCopiesDefaults(t *testing.T) {
	s := EpisodeState{
		AvailableTools: []ToolDefinition{{
			Name:       "survey",
			Parameters: []ToolParameter{NewParameter("area", TypeArray, "cells").Optional([]any{"a1"})},
		}},
	}
	c := s.Clone()
	c.AvailableTools[0].Parameters[0].Default.([]any)[0] = "z9"
	assert.Equal(t, []any{"a1"}, s.AvailableTools[0].Parameters[0].Default)
}

func TestCheckFinite(t *testing.T) {
	assert.NoError(t, CheckFinite("obs", map[string]any{"x": 1.0, "path": []any{2.0}}))

	err := CheckFinite("obs", map[string]any{"path": []any{1.0, math.Inf(-1)}})
	assert.ErrorContains(t, err, "obs.path[1] is -Inf")

	assert.ErrorContains(t, CheckFinite("reward", math.NaN()), "reward is NaN")
	assert.ErrorContains(t, CheckFinite("v", []float64{math.Inf(1)}), "v[0] is +Inf")
}
