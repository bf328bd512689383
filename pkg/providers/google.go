package providers

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/boristopalov/envd/pkg/core"
)

type GeminiClient struct {
	client *genai.Client
}

func Gemini(ctx context.Context, opts ...ProviderOption) (*GeminiClient, error) {
	params := buildParams(opts)
	apiKey := params.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Error retrieving GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGoogleAI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiClient{
		client: client,
	}, nil
}

var geminiTypes = map[core.ParamType]genai.Type{
	core.TypeString:  genai.TypeString,
	core.TypeNumber:  genai.TypeNumber,
	core.TypeBoolean: genai.TypeBoolean,
	core.TypeObject:  genai.TypeObject,
	core.TypeArray:   genai.TypeArray,
}

// GeminiTools converts tool definitions to a single Gemini tool of function declarations.
func GeminiTools(tools []core.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		if len(t.Parameters) > 0 {
			schema := &genai.Schema{
				Type:       genai.TypeObject,
				Properties: make(map[string]*genai.Schema, len(t.Parameters)),
			}
			for _, p := range t.Parameters {
				schema.Properties[p.Name] = &genai.Schema{
					Type:        geminiTypes[p.Type],
					Description: p.Description,
				}
				if p.Required {
					schema.Required = append(schema.Required, p.Name)
				}
			}
			decl.Parameters = schema
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func (c *GeminiClient) CallTool(ctx context.Context, model string, req ToolRequest) (core.Action, error) {
	config := &genai.GenerateContentConfig{
		Tools: GeminiTools(req.Tools),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	parts := []*genai.Part{
		{Text: userPrompt(req)},
	}
	result, err := c.client.Models.GenerateContent(ctx, model, []*genai.Content{{Role: "user", Parts: parts}}, config)
	if err != nil {
		return core.Action{}, err
	}
	return actionFromGemini(result)
}

func actionFromGemini(result *genai.GenerateContentResponse) (core.Action, error) {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return core.Action{}, fmt.Errorf("gemini response has no candidates")
	}
	for _, part := range result.Candidates[0].Content.Parts {
		if part.FunctionCall == nil {
			continue
		}
		args := part.FunctionCall.Args
		if args == nil {
			args = map[string]any{}
		}
		return core.NewAction(part.FunctionCall.Name, args), nil
	}
	return core.Action{}, fmt.Errorf("model answered without a function call")
}
