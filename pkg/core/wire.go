package core

// Wire forms exchanged between the service endpoint and remote clients.

type WireObservation struct {
	CurrentStateData map[string]any `json:"current_state_data"`
	AvailableTools   []ToolSchema   `json:"available_tools"`
	Done             bool           `json:"done"`
	Reward           float64        `json:"reward"`
}

type WireState struct {
	EpisodeID        string         `json:"episode_id"`
	StepCount        int            `json:"step_count"`
	CurrentStateName string         `json:"current_state_name"`
	CurrentStateData map[string]any `json:"current_state_data"`
	AvailableTools   []ToolSchema   `json:"available_tools"`
}

type ResetRequest struct {
	Seed *int64 `json:"seed,omitempty"`
}

type StepRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

type ResetResponse struct {
	Observation WireObservation `json:"observation"`
}

type StepResponse struct {
	Observation WireObservation `json:"observation"`
	Reward      float64         `json:"reward"`
	Done        bool            `json:"done"`
}

type CloseResponse struct {
	Closed bool `json:"closed"`
}

type ErrorBody struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse renders err for the wire. Errors without a kind are reported as
// upstream simulation failures so native error types never leak.
func NewErrorResponse(err error) ErrorResponse {
	kind := KindOf(err)
	if kind == "" {
		kind = KindUpstreamSimulation
	}
	return ErrorResponse{Error: ErrorBody{Kind: kind, Message: err.Error()}}
}

// AsError turns a decoded error body back into a typed error.
func (b ErrorBody) AsError() *Error {
	kind := b.Kind
	if kind == "" {
		kind = KindProtocol
	}
	return &Error{Kind: kind, Message: b.Message, Remote: true}
}

func EncodeObservation(o Observation) WireObservation {
	return WireObservation{
		CurrentStateData: CloneData(o.CurrentStateData),
		AvailableTools:   ToSchemas(o.AvailableTools),
		Done:             o.Done,
		Reward:           o.Reward,
	}
}

// DecodeObservation rebuilds typed tool definitions from their schema form.
func DecodeObservation(w WireObservation) (Observation, error) {
	tools, err := FromSchemas(w.AvailableTools)
	if err != nil {
		return Observation{}, err
	}
	return Observation{
		CurrentStateData: CloneData(w.CurrentStateData),
		AvailableTools:   tools,
		Done:             w.Done,
		Reward:           w.Reward,
	}, nil
}

func EncodeState(s EpisodeState) WireState {
	return WireState{
		EpisodeID:        s.EpisodeID,
		StepCount:        s.StepCount,
		CurrentStateName: s.CurrentStateName,
		CurrentStateData: CloneData(s.CurrentStateData),
		AvailableTools:   ToSchemas(s.AvailableTools),
	}
}

func DecodeState(w WireState) (EpisodeState, error) {
	tools, err := FromSchemas(w.AvailableTools)
	if err != nil {
		return EpisodeState{}, err
	}
	return EpisodeState{
		EpisodeID:        w.EpisodeID,
		StepCount:        w.StepCount,
		CurrentStateName: w.CurrentStateName,
		CurrentStateData: CloneData(w.CurrentStateData),
		AvailableTools:   tools,
	}, nil
}
