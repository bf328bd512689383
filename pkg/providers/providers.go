package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/boristopalov/envd/pkg/core"
)

// ToolRequest asks a model to pick exactly one of Tools.
type ToolRequest struct {
	System  string
	Prompt  string
	History []string
	Tools   []core.ToolDefinition
}

// ToolCaller is a model backend with function calling.
type ToolCaller interface {
	CallTool(ctx context.Context, model string, req ToolRequest) (core.Action, error)
}

type ProviderParams struct {
	BaseURL string
	APIKey  string
}

type ProviderOption func(*ProviderParams)

func WithBaseURL(baseURL string) ProviderOption {
	return func(p *ProviderParams) {
		p.BaseURL = baseURL
	}
}

func WithAPIKey(apiKey string) ProviderOption {
	return func(p *ProviderParams) {
		p.APIKey = apiKey
	}
}

func buildParams(opts []ProviderOption) ProviderParams {
	params := ProviderParams{}
	for _, opt := range opts {
		opt(&params)
	}
	return params
}

func userPrompt(req ToolRequest) string {
	if len(req.History) == 0 {
		return req.Prompt
	}
	return "Previous steps:\n" + strings.Join(req.History, "\n") + "\n\n" + req.Prompt
}

// parseArguments decodes a function-call argument string. An empty string means no arguments.
func parseArguments(tool, raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", tool, err)
	}
	return args, nil
}

// parametersMap renders a tool's parameters schema as a plain JSON object.
func parametersMap(t core.ToolDefinition) (map[string]any, error) {
	data, err := json.Marshal(core.ToSchema(t).Parameters)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
