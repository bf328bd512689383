package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/boristopalov/envd/pkg/core"
	"github.com/boristopalov/envd/pkg/memory"
	"github.com/boristopalov/envd/pkg/providers"
)

const (
	SYSTEM_PROMPT = `You control an agent inside a simulated environment. Each turn you receive the current state and a list of tools. The tools change from turn to turn: only the tools offered right now are valid. Choose the next action by calling exactly one of them with well-formed arguments. Try to maximise the total reward of the episode.`

	ACT_PROMPT_TEMPLATE = `Step %d.
Current state:
%s

Available tools: %s
Call exactly one tool.`

	RETRY_PROMPT_TEMPLATE = `You called %q, which is not available right now. Available tools: %s. Call exactly one of them.`
)

// LLMAgent asks a function-calling model for each action. It remembers a bounded
// window of its own past steps and includes them in the prompt.
type LLMAgent struct {
	id     string
	model  ModelInfo
	caller providers.ToolCaller
	memory *memory.Memory[string]
	step   int
}

type AgentParams struct {
	Provider   string // "openai" or "gemini"
	APIBaseUrl string
	APIKey     string
	Model      ModelInfo
	AgentID    string
	MemorySize int
	Caller     providers.ToolCaller
}

type AgentOption func(*AgentParams)

func WithProvider(name string) AgentOption {
	return func(p *AgentParams) {
		p.Provider = name
	}
}

func WithAPIBaseURL(url string) AgentOption {
	return func(p *AgentParams) {
		p.APIBaseUrl = url
	}
}

func WithAPIKey(key string) AgentOption {
	return func(p *AgentParams) {
		p.APIKey = key
	}
}

func WithModel(model ModelInfo) AgentOption {
	return func(p *AgentParams) {
		p.Model = model
	}
}

func WithAgentId(id string) AgentOption {
	return func(p *AgentParams) {
		p.AgentID = id
	}
}

func WithMemorySize(n int) AgentOption {
	return func(p *AgentParams) {
		p.MemorySize = n
	}
}

// WithToolCaller bypasses provider construction.
func WithToolCaller(c providers.ToolCaller) AgentOption {
	return func(p *AgentParams) {
		p.Caller = c
	}
}

func defaultAgentParams() *AgentParams {
	return &AgentParams{
		Provider: "openai",
		Model: ModelInfo{
			Id:     "gpt-4o-mini",
			Config: make(map[string]any),
		},
		AgentID:    "agent-" + uuid.New().String(),
		MemorySize: 20,
	}
}

// NewLLMAgent creates an LLM agent backed by the configured provider.
func NewLLMAgent(ctx context.Context, opts ...AgentOption) (*LLMAgent, error) {
	params := defaultAgentParams()
	for _, opt := range opts {
		opt(params)
	}

	caller := params.Caller
	if caller == nil {
		var popts []providers.ProviderOption
		if params.APIBaseUrl != "" {
			popts = append(popts, providers.WithBaseURL(params.APIBaseUrl))
		}
		if params.APIKey != "" {
			popts = append(popts, providers.WithAPIKey(params.APIKey))
		}

		switch params.Provider {
		case "openai", "":
			caller = providers.OpenAi(popts...)
		case "gemini":
			g, err := providers.Gemini(ctx, popts...)
			if err != nil {
				return nil, err
			}
			caller = g
		default:
			return nil, fmt.Errorf("unknown provider %q", params.Provider)
		}
	}

	return &LLMAgent{
		id:     params.AgentID,
		model:  params.Model,
		caller: caller,
		memory: memory.NewMemory[string](params.MemorySize),
	}, nil
}

func (a *LLMAgent) GetID() string {
	return a.id
}

func (a *LLMAgent) GetModel() ModelInfo {
	return a.model
}

// History returns the remembered step summaries, oldest first.
func (a *LLMAgent) History() []string {
	return a.memory.All()
}

// Act asks the model for the next action. A call to a tool that is not on offer is
// retried once with a correction.
func (a *LLMAgent) Act(ctx context.Context, obs core.Observation) (core.Action, error) {
	if len(obs.AvailableTools) == 0 {
		return core.Action{}, ErrNoTools
	}

	state, err := json.MarshalIndent(obs.CurrentStateData, "", "  ")
	if err != nil {
		return core.Action{}, fmt.Errorf("encoding state: %w", err)
	}
	offered := strings.Join(obs.ToolNames(), ", ")
	req := providers.ToolRequest{
		System:  SYSTEM_PROMPT,
		Prompt:  fmt.Sprintf(ACT_PROMPT_TEMPLATE, a.step+1, state, offered),
		History: a.memory.All(),
		Tools:   obs.AvailableTools,
	}

	action, err := a.caller.CallTool(ctx, a.model.Id, req)
	if err != nil {
		return core.Action{}, fmt.Errorf("failed to generate action: %w", err)
	}
	if _, ok := obs.Tool(action.ToolName); !ok {
		log.Printf("Agent %s called unavailable tool %q, retrying", a.id, action.ToolName)
		req.Prompt = req.Prompt + "\n\n" + fmt.Sprintf(RETRY_PROMPT_TEMPLATE, action.ToolName, offered)
		action, err = a.caller.CallTool(ctx, a.model.Id, req)
		if err != nil {
			return core.Action{}, fmt.Errorf("failed to generate action on retry: %w", err)
		}
		if _, ok := obs.Tool(action.ToolName); !ok {
			return core.Action{}, fmt.Errorf("model chose unavailable tool %q even after retry", action.ToolName)
		}
	}
	log.Printf("Agent %s chose %s", a.id, action)
	return action, nil
}

// Observe remembers the outcome of action.
func (a *LLMAgent) Observe(action core.Action, result core.StepResult) {
	a.step++
	a.memory.Store(fmt.Sprintf("step %d: %s -> reward %.2f done=%t", a.step, action, result.Reward, result.Done))
}

// Reset forgets the previous episode.
func (a *LLMAgent) Reset() {
	a.step = 0
	a.memory.Clear()
}
