package providers

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/boristopalov/envd/pkg/core"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1/"

type OpenAIClient struct {
	client *openai.Client
}

func newOpenAIClient(params ProviderParams) *OpenAIClient {
	opts := []option.RequestOption{option.WithBaseURL(params.BaseURL)}
	if params.APIKey != "" {
		opts = append(opts, option.WithAPIKey(params.APIKey))
	}
	log.Println("Using Base URL", params.BaseURL)
	return &OpenAIClient{
		client: openai.NewClient(opts...),
	}
}

// OpenAi builds a client for any OpenAI-compatible endpoint, falling back to
// OPENAI_API_BASE_URL and OPENAI_API_KEY.
func OpenAi(opts ...ProviderOption) *OpenAIClient {
	params := buildParams(opts)
	if params.BaseURL == "" {
		params.BaseURL = os.Getenv("OPENAI_API_BASE_URL")
		if params.BaseURL == "" {
			params.BaseURL = defaultOpenAIBaseURL
		}
	}
	if params.APIKey == "" {
		params.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return newOpenAIClient(params)
}

// OpenAITools converts tool definitions to chat completion function tools.
func OpenAITools(tools []core.ToolDefinition) ([]openai.ChatCompletionToolParam, error) {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		params, err := parametersMap(t)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Name, err)
		}
		out = append(out, openai.ChatCompletionToolParam{
			Type: openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(openai.FunctionDefinitionParam{
				Name:        openai.String(t.Name),
				Description: openai.String(t.Description),
				Parameters:  openai.F(openai.FunctionParameters(params)),
			}),
		})
	}
	return out, nil
}

func (c *OpenAIClient) CallTool(ctx context.Context, model string, req ToolRequest) (core.Action, error) {
	tools, err := OpenAITools(req.Tools)
	if err != nil {
		return core.Action{}, err
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(userPrompt(req)))

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F(messages),
		Tools:    openai.F(tools),
		Model:    openai.F(model),
	})
	if err != nil {
		return core.Action{}, err
	}
	if len(completion.Choices) == 0 {
		return core.Action{}, fmt.Errorf("completion has no choices")
	}

	msg := completion.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		return core.Action{}, fmt.Errorf("model answered without a tool call: %q", msg.Content)
	}
	call := msg.ToolCalls[0].Function
	args, err := parseArguments(call.Name, call.Arguments)
	if err != nil {
		return core.Action{}, err
	}
	return core.NewAction(call.Name, args), nil
}
