package agent

import (
	"context"
	"math/rand"

	"github.com/boristopalov/envd/pkg/core"
)

var compass = []string{"north", "south", "east", "west"}

// RandomAgent picks a uniformly random tool each step and fills its parameters
// with defaults or type-appropriate samples. It is the baseline controller.
type RandomAgent struct {
	rng *rand.Rand
}

func NewRandomAgent(seed int64) *RandomAgent {
	return &RandomAgent{rng: rand.New(rand.NewSource(seed))}
}

func (a *RandomAgent) Act(ctx context.Context, obs core.Observation) (core.Action, error) {
	if len(obs.AvailableTools) == 0 {
		return core.Action{}, ErrNoTools
	}
	tool := obs.AvailableTools[a.rng.Intn(len(obs.AvailableTools))]

	params := make(map[string]any, len(tool.Parameters))
	for _, p := range tool.Parameters {
		if !p.Required {
			if p.Default != nil {
				params[p.Name] = p.Default
			}
			continue
		}
		params[p.Name] = a.sample(p)
	}
	return core.NewAction(tool.Name, params), nil
}

func (a *RandomAgent) sample(p core.ToolParameter) any {
	if p.Default != nil {
		return p.Default
	}
	switch p.Type {
	case core.TypeNumber:
		return float64(a.rng.Intn(100))
	case core.TypeBoolean:
		return a.rng.Intn(2) == 1
	case core.TypeObject:
		return map[string]any{}
	case core.TypeArray:
		return []any{}
	}
	if p.Name == "direction" {
		return compass[a.rng.Intn(len(compass))]
	}
	return ""
}
