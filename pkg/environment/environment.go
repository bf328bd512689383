package environment

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/boristopalov/envd/pkg/core"
)

// DefaultMaxSteps is the protocol-level step budget of an episode.
const DefaultMaxSteps = 10

// Phase is the lifecycle position of an Environment.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseReady
	PhaseTerminal
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseReady:
		return "ready"
	case PhaseTerminal:
		return "terminal"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ToolPolicy decides what happens to an action naming a tool the last observation did not offer.
type ToolPolicy string

const (
	// ToolPolicyPassThrough forwards the action and lets the simulation judge it.
	ToolPolicyPassThrough ToolPolicy = "pass_through"
	// ToolPolicyStrict rejects the action with InvalidActionError before it reaches the simulation.
	ToolPolicyStrict ToolPolicy = "strict"
)

// ParseToolPolicy accepts "", "pass_through" and "strict".
func ParseToolPolicy(s string) (ToolPolicy, error) {
	switch ToolPolicy(s) {
	case "", ToolPolicyPassThrough:
		return ToolPolicyPassThrough, nil
	case ToolPolicyStrict:
		return ToolPolicyStrict, nil
	}
	return "", fmt.Errorf("unknown tool policy %q", s)
}

// Environment mediates between the network boundary and one Simulation instance. It owns
// episode bookkeeping and termination. Callers must serialize access.
type Environment struct {
	sim      core.Simulation
	maxSteps int
	policy   ToolPolicy
	newID    func() string

	phase Phase
	state core.EpisodeState

	closeOnce sync.Once
	closeErr  error
}

type Option func(*Environment)

// WithMaxSteps sets the step budget; values below 1 are ignored.
func WithMaxSteps(n int) Option {
	return func(e *Environment) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

func WithToolPolicy(p ToolPolicy) Option {
	return func(e *Environment) {
		e.policy = p
	}
}

// WithIDGenerator replaces the episode id generator.
func WithIDGenerator(f func() string) Option {
	return func(e *Environment) {
		if f != nil {
			e.newID = f
		}
	}
}

// New wraps sim in the episode contract.
func New(sim core.Simulation, opts ...Option) *Environment {
	e := &Environment{
		sim:      sim,
		maxSteps: DefaultMaxSteps,
		policy:   ToolPolicyPassThrough,
		newID:    uuid.NewString,
		phase:    PhaseUninitialized,
		state: core.EpisodeState{
			CurrentStateData: map[string]any{},
			AvailableTools:   []core.ToolDefinition{},
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Phase returns the current lifecycle phase.
func (e *Environment) Phase() Phase {
	return e.phase
}

// MaxSteps returns the configured step budget.
func (e *Environment) MaxSteps() int {
	return e.maxSteps
}

// Reset discards any in-progress episode and starts a new one.
func (e *Environment) Reset(ctx context.Context, seed *int64) (core.Observation, error) {
	if e.phase == PhaseClosed {
		return core.Observation{}, core.Errorf(core.KindSessionClosed, "environment is closed")
	}
	e.phase = PhaseUninitialized
	e.state = core.EpisodeState{
		CurrentStateData: map[string]any{},
		AvailableTools:   []core.ToolDefinition{},
	}

	var raw core.RawObservation
	err := guard("reset", func() error {
		var err error
		raw, err = e.sim.Reset(ctx, seed)
		return err
	})
	if err != nil {
		return core.Observation{}, err
	}

	tools, err := core.FromSchemas(raw.Tools)
	if err != nil {
		return core.Observation{}, err
	}
	if err := core.CheckFinite("observation", raw.Payload); err != nil {
		return core.Observation{}, core.Wrap(core.KindUpstreamSimulation, err, "simulation reset")
	}

	e.state = core.EpisodeState{
		EpisodeID:        e.newID(),
		StepCount:        0,
		CurrentStateName: raw.StateName,
		CurrentStateData: payloadOf(raw),
		AvailableTools:   tools,
	}
	e.phase = PhaseReady
	log.Printf("Episode %s reset: state=%q tools=%v", e.state.EpisodeID, raw.StateName, toolNames(tools))

	return e.observation(false, 0), nil
}

// Step applies action to the current episode. done is the OR of the simulation's
// terminated and truncated flags and the step budget.
func (e *Environment) Step(ctx context.Context, action core.Action) (core.Observation, error) {
	switch e.phase {
	case PhaseUninitialized:
		return core.Observation{}, core.Errorf(core.KindNotInitialized, "step called before reset")
	case PhaseTerminal:
		return core.Observation{}, core.Errorf(core.KindEpisodeFinished, "episode %s is finished; reset first", e.state.EpisodeID)
	case PhaseClosed:
		return core.Observation{}, core.Errorf(core.KindSessionClosed, "environment is closed")
	}
	if action.ToolName == "" {
		return core.Observation{}, core.Errorf(core.KindTypeMismatch, "action has no tool_name")
	}
	if e.policy == ToolPolicyStrict && !slices.Contains(toolNames(e.state.AvailableTools), action.ToolName) {
		return core.Observation{}, core.Errorf(core.KindInvalidAction, "tool %q is not available; offered %v", action.ToolName, toolNames(e.state.AvailableTools))
	}

	var outcome core.StepOutcome
	err := guard("step", func() error {
		var err error
		outcome, err = e.sim.Step(ctx, action.Payload())
		return err
	})
	if err != nil {
		return core.Observation{}, err
	}

	// The simulation has advanced even when its result is unusable. Such a step still
	// counts and ends the episode, keeping the previous observation.
	tools, err := core.FromSchemas(outcome.Observation.Tools)
	if err == nil {
		err = checkOutcome(outcome)
	}
	if err != nil {
		e.state.StepCount++
		e.phase = PhaseTerminal
		log.Printf("Episode %s ended by an unusable step result: %v", e.state.EpisodeID, err)
		return core.Observation{}, err
	}

	e.state.StepCount++
	e.state.CurrentStateName = outcome.Observation.StateName
	e.state.CurrentStateData = payloadOf(outcome.Observation)
	e.state.AvailableTools = tools

	budgetExceeded := e.state.StepCount >= e.maxSteps
	done := outcome.Terminated || outcome.Truncated || budgetExceeded
	if done {
		e.phase = PhaseTerminal
		log.Printf("Episode %s finished after %d steps (terminated=%t truncated=%t budget=%t)",
			e.state.EpisodeID, e.state.StepCount, outcome.Terminated, outcome.Truncated, budgetExceeded)
	}

	return e.observation(done, outcome.Reward), nil
}

// State returns a copy of the current episode state.
func (e *Environment) State() core.EpisodeState {
	return e.state.Clone()
}

// Close releases the simulation. Only the first call reaches it.
func (e *Environment) Close() error {
	e.closeOnce.Do(func() {
		e.phase = PhaseClosed
		if err := e.sim.Close(); err != nil {
			e.closeErr = core.Wrap(core.KindUpstreamSimulation, err, "simulation close")
		}
	})
	return e.closeErr
}

func (e *Environment) observation(done bool, reward float64) core.Observation {
	s := e.state.Clone()
	return core.Observation{
		CurrentStateData: s.CurrentStateData,
		AvailableTools:   s.AvailableTools,
		Done:             done,
		Reward:           reward,
	}
}

// guard runs a simulation call, converting both returned errors and panics into
// UpstreamSimulationError.
func guard(op string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.Errorf(core.KindUpstreamSimulation, "simulation %s panicked: %v", op, r)
		}
	}()
	if err := f(); err != nil {
		return core.Wrap(core.KindUpstreamSimulation, err, "simulation %s", op)
	}
	return nil
}

func payloadOf(raw core.RawObservation) map[string]any {
	return core.CloneData(raw.Payload)
}

func checkOutcome(outcome core.StepOutcome) error {
	if err := core.CheckFinite("reward", outcome.Reward); err != nil {
		return core.Wrap(core.KindUpstreamSimulation, err, "simulation step")
	}
	if err := core.CheckFinite("observation", outcome.Observation.Payload); err != nil {
		return core.Wrap(core.KindUpstreamSimulation, err, "simulation step")
	}
	return nil
}

func toolNames(tools []core.ToolDefinition) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}
