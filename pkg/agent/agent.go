package agent

import (
	"context"
	"errors"

	"github.com/boristopalov/envd/pkg/core"
)

// ErrNoTools is returned when an observation offers nothing to do.
var ErrNoTools = errors.New("observation offers no tools")

// Controller chooses the next action from an observation.
type Controller interface {
	Act(ctx context.Context, obs core.Observation) (core.Action, error)
}

// Observer is implemented by controllers that learn from step results.
type Observer interface {
	Observe(action core.Action, result core.StepResult)
}

// Resetter is implemented by controllers that keep per-episode state.
type Resetter interface {
	Reset()
}

type ModelInfo struct {
	Id     string         // e.g. "gpt-4o-mini"
	Config map[string]any // model-specific configuration
}
