package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boristopalov/envd/pkg/config"
	"github.com/boristopalov/envd/pkg/core"
)

type phaseTools struct {
	Phase string            `json:"phase"`
	Tools []core.ToolSchema `json:"tools"`
}

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the mission's tool schemas for each phase as JSON",
		RunE:  printTools,
	}
	cmd.Flags().Int64("seed", 0, "mission seed")
	return cmd
}

func printTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	phases, err := missionPhases(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(phases, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// missionPhases walks a fresh mission through takeoff to collect both action spaces.
func missionPhases(ctx context.Context, cfg *config.Config) ([]phaseTools, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := newEnvironment(cfg)
	if err != nil {
		return nil, err
	}
	defer env.Close()

	seed := cfg.Run.Seed
	obs, err := env.Reset(ctx, &seed)
	if err != nil {
		return nil, err
	}
	phases := []phaseTools{collect(obs)}

	obs, err = env.Step(ctx, core.NewAction("takeoff", nil))
	if err != nil {
		return nil, err
	}
	return append(phases, collect(obs)), nil
}

func collect(obs core.Observation) phaseTools {
	return phaseTools{
		Phase: fmt.Sprint(obs.CurrentStateData["phase"]),
		Tools: core.ToSchemas(obs.AvailableTools),
	}
}
