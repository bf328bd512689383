package environment

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/envd/pkg/core"
)

// scriptedSim is a Simulation whose outcomes are controlled by the test.
type scriptedSim struct {
	resets     int
	steps      int
	closes     int
	payloads   []map[string]any
	terminated func(step int) bool
	truncated  func(step int) bool
	resetErr   error
	stepErr    error
	stepPanic  any
	nanReward  bool
	tools      []core.ToolSchema
}

func moveSchema() core.ToolSchema {
	return core.ToSchema(core.ToolDefinition{
		Name:        "move",
		Description: "Move one cell",
		Parameters: []core.ToolParameter{
			core.NewParameter("direction", core.TypeString, "compass direction"),
		},
	})
}

func newScriptedSim() *scriptedSim {
	return &scriptedSim{tools: []core.ToolSchema{moveSchema()}}
}

func (s *scriptedSim) Reset(ctx context.Context, seed *int64) (core.RawObservation, error) {
	s.resets++
	s.steps = 0
	if s.resetErr != nil {
		return core.RawObservation{}, s.resetErr
	}
	return core.RawObservation{
		StateName: "start",
		Payload:   map[string]any{"position": []any{0.0, 0.0}},
		Tools:     s.tools,
	}, nil
}

func (s *scriptedSim) Step(ctx context.Context, payload map[string]any) (core.StepOutcome, error) {
	if s.stepPanic != nil {
		panic(s.stepPanic)
	}
	if s.stepErr != nil {
		return core.StepOutcome{}, s.stepErr
	}
	s.steps++
	s.payloads = append(s.payloads, payload)
	out := core.StepOutcome{
		Observation: core.RawObservation{
			StateName: "moving",
			Payload:   map[string]any{"steps": float64(s.steps)},
			Tools:     s.tools,
		},
		Reward: 0.5,
	}
	if s.nanReward {
		out.Reward = math.NaN()
	}
	if s.terminated != nil {
		out.Terminated = s.terminated(s.steps)
	}
	if s.truncated != nil {
		out.Truncated = s.truncated(s.steps)
	}
	return out, nil
}

func (s *scriptedSim) Close() error {
	s.closes++
	return nil
}

func moveNorth() core.Action {
	return core.NewAction("move", map[string]any{"direction": "north"})
}

func TestResetStartsFreshEpisode(t *testing.T) {
	ctx := context.Background()
	env := New(newScriptedSim())

	obs, err := env.Reset(ctx, nil)
	require.NoError(t, err)
	assert.False(t, obs.Done)
	assert.Zero(t, obs.Reward)
	require.Len(t, obs.AvailableTools, 1)
	assert.Equal(t, "move", obs.AvailableTools[0].Name)
	assert.True(t, obs.AvailableTools[0].Parameters[0].Required)

	first := env.State()
	assert.NotEmpty(t, first.EpisodeID)
	assert.Zero(t, first.StepCount)
	assert.Equal(t, "start", first.CurrentStateName)

	_, err = env.Step(ctx, moveNorth())
	require.NoError(t, err)

	_, err = env.Reset(ctx, nil)
	require.NoError(t, err)
	second := env.State()
	assert.NotEqual(t, first.EpisodeID, second.EpisodeID)
	assert.Zero(t, second.StepCount)
	assert.Equal(t, PhaseReady, env.Phase())
}

func TestStepBeforeReset(t *testing.T) {
	env := New(newScriptedSim())

	_, err := env.Step(context.Background(), moveNorth())
	assert.ErrorIs(t, err, core.ErrNotInitialized)
}

func TestStepCountsAndForwardsPayload(t *testing.T) {
	ctx := context.Background()
	sim := newScriptedSim()
	env := New(sim, WithMaxSteps(100))
	_, err := env.Reset(ctx, nil)
	require.NoError(t, err)

	for i := 1; i <= 7; i++ {
		obs, err := env.Step(ctx, moveNorth())
		require.NoError(t, err)
		assert.False(t, obs.Done)
		assert.Equal(t, 0.5, obs.Reward)
		assert.Equal(t, i, env.State().StepCount)
	}

	require.Len(t, sim.payloads, 7)
	assert.Equal(t, map[string]any{
		"tool_name":  "move",
		"parameters": map[string]any{"direction": "north"},
	}, sim.payloads[0])
	assert.Equal(t, "moving", env.State().CurrentStateName)
	assert.Equal(t, map[string]any{"steps": 7.0}, env.State().CurrentStateData)
}

func TestStepBudgetForcesDone(t *testing.T) {
	ctx := context.Background()
	env := New(newScriptedSim())
	_, err := env.Reset(ctx, nil)
	require.NoError(t, err)

	for i := 1; i < DefaultMaxSteps; i++ {
		obs, err := env.Step(ctx, moveNorth())
		require.NoError(t, err)
		require.False(t, obs.Done, "step %d", i)
	}

	obs, err := env.Step(ctx, moveNorth())
	require.NoError(t, err)
	assert.True(t, obs.Done)
	assert.Equal(t, DefaultMaxSteps, env.State().StepCount)
	assert.Equal(t, PhaseTerminal, env.Phase())

	_, err = env.Step(ctx, moveNorth())
	assert.ErrorIs(t, err, core.ErrEpisodeFinished)
	assert.Equal(t, DefaultMaxSteps, env.State().StepCount)
}

func TestTerminationSignals(t *testing.T) {
	tests := []struct {
		name       string
		terminated func(int) bool
		truncated  func(int) bool
		doneAt     int
	}{
		{"terminated", func(n int) bool { return n == 3 }, nil, 3},
		{"truncated", nil, func(n int) bool { return n == 2 }, 2},
		{"both", func(n int) bool { return n == 4 }, func(n int) bool { return n == 4 }, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			sim := newScriptedSim()
			sim.terminated = tt.terminated
			sim.truncated = tt.truncated
			env := New(sim)
			_, err := env.Reset(ctx, nil)
			require.NoError(t, err)

			var obs core.Observation
			for i := 0; i < tt.doneAt; i++ {
				obs, err = env.Step(ctx, moveNorth())
				require.NoError(t, err)
			}
			assert.True(t, obs.Done)
			assert.Equal(t, tt.doneAt, env.State().StepCount)

			_, err = env.Step(ctx, moveNorth())
			assert.ErrorIs(t, err, core.ErrEpisodeFinished)

			_, err = env.Reset(ctx, nil)
			require.NoError(t, err)
			_, err = env.Step(ctx, moveNorth())
			assert.NoError(t, err)
		})
	}
}

func TestUpstreamFailuresAreTyped(t *testing.T) {
	ctx := context.Background()

	t.Run("error", func(t *testing.T) {
		sim := newScriptedSim()
		env := New(sim)
		_, err := env.Reset(ctx, nil)
		require.NoError(t, err)

		sim.stepErr = errors.New("rotor failure")
		_, err = env.Step(ctx, moveNorth())
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrUpstreamSimulation)
		assert.Contains(t, err.Error(), "rotor failure")
		assert.Zero(t, env.State().StepCount)
		assert.Equal(t, PhaseReady, env.Phase())
	})

	t.Run("panic", func(t *testing.T) {
		sim := newScriptedSim()
		env := New(sim)
		_, err := env.Reset(ctx, nil)
		require.NoError(t, err)

		sim.stepPanic = "index out of range"
		_, err = env.Step(ctx, moveNorth())
		assert.ErrorIs(t, err, core.ErrUpstreamSimulation)
		assert.Contains(t, err.Error(), "index out of range")
	})

	t.Run("malformed tools", func(t *testing.T) {
		sim := newScriptedSim()
		sim.tools = []core.ToolSchema{{Name: ""}}
		env := New(sim)
		_, err := env.Reset(ctx, nil)
		assert.ErrorIs(t, err, core.ErrMalformedSchema)
		assert.Equal(t, PhaseUninitialized, env.Phase())
	})
}

func TestActionValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("empty tool name", func(t *testing.T) {
		env := New(newScriptedSim())
		_, err := env.Reset(ctx, nil)
		require.NoError(t, err)
		_, err = env.Step(ctx, core.Action{})
		assert.ErrorIs(t, err, core.ErrTypeMismatch)
	})

	t.Run("pass through unknown tool", func(t *testing.T) {
		sim := newScriptedSim()
		env := New(sim)
		_, err := env.Reset(ctx, nil)
		require.NoError(t, err)
		_, err = env.Step(ctx, core.NewAction("teleport", nil))
		assert.NoError(t, err)
		assert.Equal(t, 1, sim.steps)
	})

	t.Run("strict rejects unknown tool", func(t *testing.T) {
		sim := newScriptedSim()
		env := New(sim, WithToolPolicy(ToolPolicyStrict))
		_, err := env.Reset(ctx, nil)
		require.NoError(t, err)
		_, err = env.Step(ctx, core.NewAction("teleport", nil))
		assert.ErrorIs(t, err, core.ErrInvalidAction)
		assert.Zero(t, sim.steps)
		assert.Zero(t, env.State().StepCount)
	})
}

func TestCloseIsIdempotent(t *testing.T) {
	sim := newScriptedSim()
	env := New(sim)

	require.NoError(t, env.Close())
	require.NoError(t, env.Close())
	assert.Equal(t, 1, sim.closes)

	_, err := env.Reset(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrSessionClosed)
}

func TestStateIsACopy(t *testing.T) {
	env := New(newScriptedSim(), WithIDGenerator(func() string { return "fixed" }))
	_, err := env.Reset(context.Background(), nil)
	require.NoError(t, err)

	s := env.State()
	s.CurrentStateData["position"].([]any)[0] = 99.0
	s.AvailableTools[0].Name = "tampered"

	again := env.State()
	assert.Equal(t, "fixed", again.EpisodeID)
	assert.Equal(t, []any{0.0, 0.0}, again.CurrentStateData["position"])
	assert.Equal(t, "move", again.AvailableTools[0].Name)

	s.CurrentStateData["position"] = "tampered"
	assert.Equal(t, []any{0.0, 0.0}, env.State().CurrentStateData["position"])
}

func TestFailedResetDiscardsPreviousEpisode(t *testing.T) {
	ctx := context.Background()
	sim := newScriptedSim()
	env := New(sim)
	_, err := env.Reset(ctx, nil)
	require.NoError(t, err)
	_, err = env.Step(ctx, moveNorth())
	require.NoError(t, err)

	sim.resetErr = errors.New("map server unreachable")
	_, err = env.Reset(ctx, nil)
	assert.ErrorIs(t, err, core.ErrUpstreamSimulation)

	st := env.State()
	assert.Empty(t, st.EpisodeID)
	assert.Zero(t, st.StepCount)
	assert.Empty(t, st.CurrentStateData)
	assert.Empty(t, st.AvailableTools)
	assert.Equal(t, PhaseUninitialized, env.Phase())

	_, err = env.Step(ctx, moveNorth())
	assert.ErrorIs(t, err, core.ErrNotInitialized)
}

func TestUnusableStepResultEndsEpisode(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed tools", func(t *testing.T) {
		sim := newScriptedSim()
		env := New(sim)
		_, err := env.Reset(ctx, nil)
		require.NoError(t, err)

		sim.tools = []core.ToolSchema{{Name: ""}}
		_, err = env.Step(ctx, moveNorth())
		assert.ErrorIs(t, err, core.ErrMalformedSchema)
		assert.Equal(t, 1, env.State().StepCount)
		assert.Equal(t, PhaseTerminal, env.Phase())
		assert.Equal(t, "start", env.State().CurrentStateName, "previous observation is kept")

		_, err = env.Step(ctx, moveNorth())
		assert.ErrorIs(t, err, core.ErrEpisodeFinished)
	})

	t.Run("non-finite reward", func(t *testing.T) {
		sim := newScriptedSim()
		env := New(sim)
		_, err := env.Reset(ctx, nil)
		require.NoError(t, err)

		sim.nanReward = true
		_, err = env.Step(ctx, moveNorth())
		assert.ErrorIs(t, err, core.ErrUpstreamSimulation)
		assert.Contains(t, err.Error(), "reward is NaN")
		assert.Equal(t, 1, env.State().StepCount)
		assert.Equal(t, PhaseTerminal, env.Phase())
	})
}

func TestParseToolPolicy(t *testing.T) {
	p, err := ParseToolPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ToolPolicyPassThrough, p)

	p, err = ParseToolPolicy("strict")
	require.NoError(t, err)
	assert.Equal(t, ToolPolicyStrict, p)

	_, err = ParseToolPolicy("lenient")
	assert.Error(t, err)
}
