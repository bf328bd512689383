package core

import (
	"fmt"
	"slices"
)

// ParamType is the JSON Schema type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

func (t ParamType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray:
		return true
	}
	return false
}

// ToolParameter describes one argument of a tool.
type ToolParameter struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Default     any // used when the parameter is omitted and not required
}

// NewParameter returns a required parameter.
func NewParameter(name string, typ ParamType, description string) ToolParameter {
	return ToolParameter{Name: name, Type: typ, Description: description, Required: true}
}

// Optional returns a copy of p that is not required and falls back to def.
func (p ToolParameter) Optional(def any) ToolParameter {
	p.Required = false
	p.Default = def
	return p
}

// ToolDefinition is a named operation the controller may invoke as an action.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// Validate checks the tool name, parameter types and parameter name uniqueness.
func (t ToolDefinition) Validate() error {
	if t.Name == "" {
		return Errorf(KindMalformedSchema, "tool name is empty")
	}
	seen := make(map[string]bool, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Name == "" {
			return Errorf(KindMalformedSchema, "tool %s: parameter name is empty", t.Name)
		}
		if seen[p.Name] {
			return Errorf(KindMalformedSchema, "tool %s: duplicate parameter %q", t.Name, p.Name)
		}
		seen[p.Name] = true
		if !p.Type.Valid() {
			return Errorf(KindMalformedSchema, "tool %s: parameter %s has unknown type %q", t.Name, p.Name, p.Type)
		}
	}
	return nil
}

// Action is a tool invocation. Parameter keys are not checked against the tool here;
// that policy belongs to the concrete environment.
type Action struct {
	ToolName   string
	Parameters map[string]any
}

// NewAction is a convenience constructor.
func NewAction(tool string, params map[string]any) Action {
	if params == nil {
		params = map[string]any{}
	}
	return Action{ToolName: tool, Parameters: params}
}

// Payload returns the {tool_name, parameters} form handed to the simulation and sent on the wire.
func (a Action) Payload() map[string]any {
	params := a.Parameters
	if params == nil {
		params = map[string]any{}
	}
	return map[string]any{
		"tool_name":  a.ToolName,
		"parameters": params,
	}
}

func (a Action) String() string {
	return fmt.Sprintf("%s(%v)", a.ToolName, a.Parameters)
}

// Observation is what the controller sees after reset or step.
type Observation struct {
	CurrentStateData map[string]any
	// AvailableTools are valid for the next action only.
	AvailableTools []ToolDefinition
	Done           bool
	Reward         float64
}

// Tool looks up an available tool by name.
func (o Observation) Tool(name string) (ToolDefinition, bool) {
	for _, t := range o.AvailableTools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDefinition{}, false
}

// ToolNames lists the available tool names in order.
func (o Observation) ToolNames() []string {
	names := make([]string, 0, len(o.AvailableTools))
	for _, t := range o.AvailableTools {
		names = append(names, t.Name)
	}
	return names
}

// EpisodeState mirrors the latest observation plus identity and step metadata.
type EpisodeState struct {
	EpisodeID        string
	StepCount        int
	CurrentStateName string
	CurrentStateData map[string]any
	AvailableTools   []ToolDefinition
}

// Clone returns a copy that shares no maps or slices with s.
func (s EpisodeState) Clone() EpisodeState {
	s.CurrentStateData = CloneData(s.CurrentStateData)
	s.AvailableTools = cloneTools(s.AvailableTools)
	return s
}

// StepResult is the client-side result of a step.
type StepResult struct {
	Observation Observation
	Reward      float64
	Done        bool
}

func cloneTools(tools []ToolDefinition) []ToolDefinition {
	out := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		params := slices.Clone(t.Parameters)
		for j := range params {
			params[j].Default = cloneValue(params[j].Default)
		}
		t.Parameters = params
		out[i] = t
	}
	return out
}
