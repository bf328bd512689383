package experiment

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/envd/pkg/agent"
	"github.com/boristopalov/envd/pkg/client"
	"github.com/boristopalov/envd/pkg/core"
	"github.com/boristopalov/envd/pkg/environment"
	"github.com/boristopalov/envd/pkg/mission"
	"github.com/boristopalov/envd/pkg/server"
)

func missionSession(t *testing.T) *client.Client {
	t.Helper()
	srv := server.New(environment.New(mission.New(mission.DefaultConfig())))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return client.New(ts.URL)
}

func TestRunnerPlaysEpisodes(t *testing.T) {
	var buf bytes.Buffer
	steps := 0
	r := NewRunner(missionSession(t), agent.NewRandomAgent(7),
		WithEpisodes(3),
		WithSeed(100),
		WithStatsWriter(&buf),
		WithStepHook(func(int, core.Action, core.StepResult) { steps++ }),
	)

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 3)

	total := 0
	ids := map[string]bool{}
	for i, s := range stats {
		assert.Equal(t, i+1, s.Episode)
		assert.True(t, s.Done)
		assert.Empty(t, s.Error)
		assert.LessOrEqual(t, s.Steps, environment.DefaultMaxSteps)
		assert.Positive(t, s.Steps)
		ids[s.EpisodeID] = true
		total += s.Steps
	}
	assert.Len(t, ids, 3)
	assert.Equal(t, total, steps)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, stats[0].EpisodeID, rows[1][1])
	assert.Equal(t, "true", rows[1][4])
}

// stuckController fails after a fixed number of actions.
type stuckController struct {
	budget   int
	resets   int
	observed int
}

func (c *stuckController) Act(ctx context.Context, obs core.Observation) (core.Action, error) {
	if c.budget == 0 {
		return core.Action{}, errors.New("out of ideas")
	}
	c.budget--
	return core.NewAction(obs.AvailableTools[0].Name, nil), nil
}

func (c *stuckController) Observe(core.Action, core.StepResult) { c.observed++ }

func (c *stuckController) Reset() { c.resets++ }

func TestRunnerRecordsControllerFailure(t *testing.T) {
	ctrl := &stuckController{budget: 2}
	r := NewRunner(missionSession(t), ctrl, WithEpisodes(2))

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 2, stats[0].Steps)
	assert.False(t, stats[0].Done)
	assert.Equal(t, "out of ideas", stats[0].Error)
	assert.Zero(t, stats[1].Steps)
	assert.Equal(t, 2, ctrl.resets)
	assert.Equal(t, 2, ctrl.observed)
}

type brokenSession struct{}

func (brokenSession) Reset(ctx context.Context, seed *int64) (core.Observation, error) {
	return core.Observation{}, core.Errorf(core.KindUpstreamSimulation, "simulator offline")
}

func (brokenSession) Step(ctx context.Context, action core.Action) (core.StepResult, error) {
	return core.StepResult{}, nil
}

func (brokenSession) State(ctx context.Context) (core.EpisodeState, error) {
	return core.EpisodeState{}, nil
}

func TestRunnerAbortsOnSessionFailure(t *testing.T) {
	r := NewRunner(brokenSession{}, agent.NewRandomAgent(1), WithEpisodes(3))
	stats, err := r.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrUpstreamSimulation)
	assert.Empty(t, stats)
}

func TestCreateStatsFile(t *testing.T) {
	r := NewRunner(missionSession(t), agent.NewRandomAgent(1))
	path, err := r.CreateStatsFile(t.TempDir())
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Episode,EpisodeID,Steps")
}

func TestSummarize(t *testing.T) {
	s := Summarize([]EpisodeStats{
		{TotalReward: 1, Steps: 4, Done: true},
		{TotalReward: 3, Steps: 6, Done: false},
	})
	assert.Equal(t, 2, s.Episodes)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 2.0, s.MeanReward)
	assert.Equal(t, 1.0, s.StdDevReward)
	assert.Equal(t, 5.0, s.MeanSteps)

	assert.Zero(t, Summarize(nil).MeanReward)
}
