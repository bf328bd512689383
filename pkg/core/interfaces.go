package core

import (
	"context"
)

// Environment is the capability set every session exposes over the wire.
type Environment interface {
	// Reset starts a new episode and returns its first observation
	Reset(ctx context.Context, seed *int64) (Observation, error)
	// Step applies one action to the current episode
	Step(ctx context.Context, action Action) (Observation, error)
	// State returns the current episode state without side effects
	State() EpisodeState
	// Close releases the underlying simulation; safe to call more than once
	Close() error
}

// RawObservation is what a simulation reports after reset or step.
type RawObservation struct {
	StateName string
	Payload   map[string]any
	// Tools describes the action space at this observation.
	Tools []ToolSchema
}

// StepOutcome is the result of one simulation step.
type StepOutcome struct {
	Observation RawObservation
	Reward      float64
	Terminated  bool // task success or failure
	Truncated   bool // external cutoff such as a time or battery limit
	Info        map[string]any
}

// Simulation is the concrete world plugged in behind an Environment.
type Simulation interface {
	Reset(ctx context.Context, seed *int64) (RawObservation, error)
	// Step receives the action's {tool_name, parameters} payload
	Step(ctx context.Context, payload map[string]any) (StepOutcome, error)
	Close() error
}
