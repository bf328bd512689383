package experiment

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/boristopalov/envd/pkg/agent"
	"github.com/boristopalov/envd/pkg/core"
)

// Session is the remote side of an episode; *client.Client implements it.
type Session interface {
	Reset(ctx context.Context, seed *int64) (core.Observation, error)
	Step(ctx context.Context, action core.Action) (core.StepResult, error)
	State(ctx context.Context) (core.EpisodeState, error)
}

// EpisodeStats summarises one episode.
type EpisodeStats struct {
	Episode     int
	EpisodeID   string
	Steps       int
	TotalReward float64
	Done        bool
	Error       string // controller failure that ended the episode early
	Duration    time.Duration
}

var csvHeader = []string{"Episode", "EpisodeID", "Steps", "TotalReward", "Done", "Error", "DurationMs"}

// Runner drives a controller through a number of episodes on one session.
type Runner struct {
	session    Session
	controller agent.Controller
	episodes   int
	seed       *int64
	stats      *csv.Writer
	statsFile  *os.File
	onStep     func(episode int, action core.Action, result core.StepResult)
}

type Option func(*Runner)

func WithEpisodes(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.episodes = n
		}
	}
}

// WithSeed seeds episode i with seed+i-1.
func WithSeed(seed int64) Option {
	return func(r *Runner) {
		r.seed = &seed
	}
}

// WithStatsWriter writes one CSV row per episode to w.
func WithStatsWriter(w io.Writer) Option {
	return func(r *Runner) {
		if w != nil {
			r.stats = csv.NewWriter(w)
		}
	}
}

// WithStepHook is called after every successful step.
func WithStepHook(f func(episode int, action core.Action, result core.StepResult)) Option {
	return func(r *Runner) {
		r.onStep = f
	}
}

func NewRunner(session Session, controller agent.Controller, opts ...Option) *Runner {
	r := &Runner{
		session:    session,
		controller: controller,
		episodes:   1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateStatsFile opens a timestamped CSV file in dir and attaches it to the runner.
// Run closes it.
func (r *Runner) CreateStatsFile(dir string) (string, error) {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	path := filepath.Join(dir, fmt.Sprintf("episode_stats_%s.csv", timestamp))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create stats file: %w", err)
	}
	r.statsFile = f
	r.stats = csv.NewWriter(f)
	return path, nil
}

// Run plays every episode. Controller failures end only the current episode; session
// failures abort the run and return the stats gathered so far.
func (r *Runner) Run(ctx context.Context) ([]EpisodeStats, error) {
	defer r.closeStats()
	if r.stats != nil {
		if err := r.stats.Write(csvHeader); err != nil {
			log.Printf("Warning: Failed to write to stats file: %v", err)
		}
	}

	all := make([]EpisodeStats, 0, r.episodes)
	for ep := 1; ep <= r.episodes; ep++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		log.Printf("Starting episode %d/%d", ep, r.episodes)

		stats, err := r.runEpisode(ctx, ep)
		if err != nil {
			return all, fmt.Errorf("episode %d: %w", ep, err)
		}
		all = append(all, stats)
		r.writeStats(stats)
		log.Printf("Episode %d (%s) finished: steps=%d reward=%.2f done=%t",
			ep, stats.EpisodeID, stats.Steps, stats.TotalReward, stats.Done)
	}
	PrintSummary(all)
	return all, nil
}

func (r *Runner) runEpisode(ctx context.Context, ep int) (EpisodeStats, error) {
	start := time.Now()
	stats := EpisodeStats{Episode: ep}

	var seed *int64
	if r.seed != nil {
		s := *r.seed + int64(ep-1)
		seed = &s
	}
	if resetter, ok := r.controller.(agent.Resetter); ok {
		resetter.Reset()
	}

	obs, err := r.session.Reset(ctx, seed)
	if err != nil {
		return stats, err
	}
	state, err := r.session.State(ctx)
	if err != nil {
		return stats, err
	}
	stats.EpisodeID = state.EpisodeID

	for !obs.Done {
		action, err := r.controller.Act(ctx, obs)
		if err != nil {
			log.Printf("Controller failed in episode %d: %v", ep, err)
			stats.Error = err.Error()
			break
		}

		result, err := r.session.Step(ctx, action)
		if err != nil {
			return stats, err
		}
		stats.Steps++
		stats.TotalReward += result.Reward
		if observer, ok := r.controller.(agent.Observer); ok {
			observer.Observe(action, result)
		}
		if r.onStep != nil {
			r.onStep(ep, action, result)
		}
		obs = result.Observation
		obs.Done = result.Done
	}
	stats.Done = obs.Done
	stats.Duration = time.Since(start)
	return stats, nil
}

func (r *Runner) writeStats(s EpisodeStats) {
	if r.stats == nil {
		return
	}
	row := []string{
		strconv.Itoa(s.Episode),
		s.EpisodeID,
		strconv.Itoa(s.Steps),
		strconv.FormatFloat(s.TotalReward, 'f', 2, 64),
		strconv.FormatBool(s.Done),
		s.Error,
		strconv.FormatInt(s.Duration.Milliseconds(), 10),
	}
	if err := r.stats.Write(row); err != nil {
		log.Printf("Warning: Failed to write to stats file: %v", err)
	}
	r.stats.Flush()
}

func (r *Runner) closeStats() {
	if r.stats != nil {
		r.stats.Flush()
	}
	if r.statsFile != nil {
		r.statsFile.Close()
		r.statsFile = nil
	}
}

// Summary aggregates episode stats.
type Summary struct {
	Episodes     int
	Completed    int
	TotalReward  float64
	MeanReward   float64
	StdDevReward float64
	MeanSteps    float64
}

func Summarize(stats []EpisodeStats) Summary {
	s := Summary{Episodes: len(stats)}
	if len(stats) == 0 {
		return s
	}
	var steps int
	for _, ep := range stats {
		s.TotalReward += ep.TotalReward
		steps += ep.Steps
		if ep.Done {
			s.Completed++
		}
	}
	s.MeanReward = s.TotalReward / float64(len(stats))
	s.MeanSteps = float64(steps) / float64(len(stats))

	var sumSquares float64
	for _, ep := range stats {
		diff := ep.TotalReward - s.MeanReward
		sumSquares += diff * diff
	}
	s.StdDevReward = math.Sqrt(sumSquares / float64(len(stats)))
	return s
}

func PrintSummary(stats []EpisodeStats) {
	s := Summarize(stats)
	log.Printf("=== Run Statistics ===")
	log.Printf("  Episodes: %d (%d completed)", s.Episodes, s.Completed)
	log.Printf("  Total Reward: %.2f", s.TotalReward)
	log.Printf("  Average Reward: %.2f", s.MeanReward)
	log.Printf("  Standard Deviation: %.2f", s.StdDevReward)
	log.Printf("  Average Steps: %.1f", s.MeanSteps)
	log.Printf("======================")
}
