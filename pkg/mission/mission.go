package mission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"

	"github.com/boristopalov/envd/pkg/core"
)

// Mission phases, reported as the environment's current state name.
const (
	PhasePreflight = "preflight"
	PhaseAirborne  = "airborne"
	PhaseLanded    = "landed"
)

// DefaultSeed is used when reset is called without a seed.
const DefaultSeed int64 = 42

const (
	invalidActionPenalty = -0.1
	targetReward         = 1.0
	missionBonus         = 2.0
	maxAltitude          = 120.0
)

var ErrClosed = errors.New("mission simulation is closed")

// Config describes the mission area and the drone's energy budget.
type Config struct {
	Size     int     `yaml:"size"`      // the grid is Size x Size, base at (0,0)
	Targets  int     `yaml:"targets"`   // number of hidden inspection targets
	Battery  float64 `yaml:"battery"`   // initial charge
	MoveCost float64 `yaml:"move_cost"` // charge spent per cell travelled or takeoff
	ScanCost float64 `yaml:"scan_cost"`
}

func DefaultConfig() Config {
	return Config{
		Size:     5,
		Targets:  2,
		Battery:  100,
		MoveCost: 5,
		ScanCost: 2,
	}
}

type cell [2]int

// Simulation is a seeded UAV inspection mission. The drone takes off from base,
// searches the grid for hidden targets by scanning cells and lands. Which tools are
// legal depends on the mission phase.
type Simulation struct {
	cfg Config
	rng *rand.Rand

	phase    string
	pos      cell
	altitude float64
	battery  float64
	targets  map[cell]bool // target cell -> found
	visited  map[cell]bool
	lastErr  string
	closed   bool
	mu       sync.Mutex
}

// New creates a mission simulation; zero fields of cfg take their defaults.
func New(cfg Config) *Simulation {
	def := DefaultConfig()
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.Targets <= 0 {
		cfg.Targets = def.Targets
	}
	if limit := cfg.Size*cfg.Size - 1; cfg.Targets > limit {
		cfg.Targets = limit
	}
	if cfg.Battery <= 0 {
		cfg.Battery = def.Battery
	}
	if cfg.MoveCost <= 0 {
		cfg.MoveCost = def.MoveCost
	}
	if cfg.ScanCost <= 0 {
		cfg.ScanCost = def.ScanCost
	}
	return &Simulation{cfg: cfg, phase: PhasePreflight, targets: map[cell]bool{}, visited: map[cell]bool{}}
}

// Reset places the targets for seed and puts the drone on the ground at base.
func (s *Simulation) Reset(ctx context.Context, seed *int64) (core.RawObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.RawObservation{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return core.RawObservation{}, err
	}

	sd := DefaultSeed
	if seed != nil {
		sd = *seed
	}
	s.rng = rand.New(rand.NewSource(sd))
	s.phase = PhasePreflight
	s.pos = cell{0, 0}
	s.altitude = 0
	s.battery = s.cfg.Battery
	s.lastErr = ""
	s.visited = map[cell]bool{s.pos: true}
	s.targets = make(map[cell]bool, s.cfg.Targets)
	for len(s.targets) < s.cfg.Targets {
		c := cell{s.rng.Intn(s.cfg.Size), s.rng.Intn(s.cfg.Size)}
		if c == (cell{0, 0}) {
			continue
		}
		s.targets[c] = false
	}
	log.Printf("Mission reset with seed %d: %dx%d grid, %d targets", sd, s.cfg.Size, s.cfg.Size, s.cfg.Targets)

	return s.observe(), nil
}

// Step applies a {tool_name, parameters} payload.
func (s *Simulation) Step(ctx context.Context, payload map[string]any) (core.StepOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.StepOutcome{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return core.StepOutcome{}, err
	}
	if s.rng == nil {
		return core.StepOutcome{}, errors.New("mission not started")
	}

	tool, _ := payload["tool_name"].(string)
	params, _ := payload["parameters"].(map[string]any)

	s.lastErr = ""
	reward, err := s.apply(tool, params)
	if err != nil {
		s.lastErr = err.Error()
		reward = invalidActionPenalty
	}

	terminated := s.phase == PhaseLanded
	truncated := false
	if s.battery <= 0 && !terminated {
		s.battery = 0
		truncated = true
	}

	return core.StepOutcome{
		Observation: s.observe(),
		Reward:      reward,
		Terminated:  terminated,
		Truncated:   truncated,
		Info: map[string]any{
			"action_valid":  err == nil,
			"targets_found": s.found(),
		},
	}, nil
}

// Close is idempotent.
func (s *Simulation) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Simulation) apply(tool string, params map[string]any) (float64, error) {
	if !s.offers(tool) {
		return 0, fmt.Errorf("tool %q is not available during %s", tool, s.phase)
	}

	switch tool {
	case "takeoff":
		altitude := 10.0
		if v, ok := params["altitude"]; ok {
			f, ok := toFloat(v)
			if !ok || f <= 0 || f > maxAltitude {
				return 0, fmt.Errorf("altitude must be a number in (0, %.0f]", maxAltitude)
			}
			altitude = f
		}
		s.altitude = altitude
		s.battery -= s.cfg.MoveCost
		s.phase = PhaseAirborne
		return 0, nil

	case "move":
		dir, _ := params["direction"].(string)
		next, err := s.neighbour(dir)
		if err != nil {
			return 0, err
		}
		s.pos = next
		s.visited[next] = true
		s.battery -= s.cfg.MoveCost
		return 0, nil

	case "scan":
		s.battery -= s.cfg.ScanCost
		if found, ok := s.targets[s.pos]; ok && !found {
			s.targets[s.pos] = true
			return targetReward, nil
		}
		return 0, nil

	case "return_to_base":
		s.battery -= s.cfg.MoveCost * float64(abs(s.pos[0])+abs(s.pos[1]))
		s.pos = cell{0, 0}
		return 0, nil

	case "land":
		s.phase = PhaseLanded
		s.altitude = 0
		if s.pos == (cell{0, 0}) && s.found() == len(s.targets) {
			return missionBonus, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unknown tool %q", tool)
}

func (s *Simulation) neighbour(dir string) (cell, error) {
	next := s.pos
	switch dir {
	case "north":
		next[1]++
	case "south":
		next[1]--
	case "east":
		next[0]++
	case "west":
		next[0]--
	default:
		return s.pos, fmt.Errorf("direction must be north, south, east or west, got %q", dir)
	}
	if next[0] < 0 || next[1] < 0 || next[0] >= s.cfg.Size || next[1] >= s.cfg.Size {
		return s.pos, fmt.Errorf("moving %s leaves the mission area", dir)
	}
	return next, nil
}

func (s *Simulation) offers(tool string) bool {
	for _, t := range s.tools() {
		if t.Name == tool {
			return true
		}
	}
	return false
}

// tools is the action space of the current phase.
func (s *Simulation) tools() []core.ToolDefinition {
	switch s.phase {
	case PhasePreflight:
		return []core.ToolDefinition{{
			Name:        "takeoff",
			Description: "Take off from base and climb to the given altitude in metres.",
			Parameters: []core.ToolParameter{
				core.NewParameter("altitude", core.TypeNumber, "Target altitude in metres").Optional(10.0),
			},
		}}
	case PhaseAirborne:
		tools := []core.ToolDefinition{
			{
				Name:        "move",
				Description: "Fly one cell in a compass direction.",
				Parameters: []core.ToolParameter{
					core.NewParameter("direction", core.TypeString, "One of north, south, east, west"),
				},
			},
			{Name: "scan", Description: "Scan the current cell for an inspection target.", Parameters: []core.ToolParameter{}},
		}
		if s.pos != (cell{0, 0}) {
			tools = append(tools, core.ToolDefinition{
				Name:        "return_to_base",
				Description: "Fly straight back to base.",
				Parameters:  []core.ToolParameter{},
			})
		}
		return append(tools, core.ToolDefinition{
			Name:        "land",
			Description: "Land at the current position and end the mission.",
			Parameters:  []core.ToolParameter{},
		})
	}
	return nil
}

func (s *Simulation) observe() core.RawObservation {
	payload := map[string]any{
		"phase":                   s.phase,
		"position":                []int{s.pos[0], s.pos[1]},
		"altitude":                s.altitude,
		"battery":                 s.battery,
		"targets_found":           s.found(),
		"targets_total":           len(s.targets),
		"grid_size":               s.cfg.Size,
		"visited":                 len(s.visited),
		"nearest_target_distance": s.nearestTarget(),
	}
	if s.lastErr != "" {
		payload["last_error"] = s.lastErr
	}
	return core.RawObservation{
		StateName: s.phase,
		Payload:   payload,
		Tools:     core.ToSchemas(s.tools()),
	}
}

func (s *Simulation) found() int {
	n := 0
	for _, f := range s.targets {
		if f {
			n++
		}
	}
	return n
}

// nearestTarget is the Manhattan distance to the closest unfound target, or -1.
func (s *Simulation) nearestTarget() int {
	best := -1
	for c, f := range s.targets {
		if f {
			continue
		}
		d := abs(c[0]-s.pos[0]) + abs(c[1]-s.pos[1])
		if best < 0 || d < best {
			best = d
		}
	}
	return best
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
