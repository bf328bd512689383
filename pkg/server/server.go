package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/boristopalov/envd/pkg/core"
	"github.com/boristopalov/envd/pkg/environment"
	"github.com/boristopalov/envd/pkg/memory"
	"github.com/boristopalov/envd/pkg/messaging"
)

// Op is a session operation, independent of transport.
type Op string

const (
	OpReset Op = "reset"
	OpStep  Op = "step"
	OpState Op = "state"
	OpClose Op = "close"
)

// Ops lists the session operations in protocol order.
var Ops = []Op{OpReset, OpStep, OpState, OpClose}

// DefaultHistorySize bounds the event history kept per session.
const DefaultHistorySize = 256

// Server binds one Environment to the network. Every operation holds the session lock
// for its full duration, so requests against the session are processed one at a time.
type Server struct {
	env       core.Environment
	sessionID string
	broker    messaging.Broker
	history   *memory.Memory[messaging.Event]
	verbose   bool
	started   time.Time

	mu sync.Mutex
}

type Option func(*Server)

func WithSessionID(id string) Option {
	return func(s *Server) {
		if id != "" {
			s.sessionID = id
		}
	}
}

// WithBroker routes session events through b instead of a private broker.
func WithBroker(b messaging.Broker) Option {
	return func(s *Server) {
		if b != nil {
			s.broker = b
		}
	}
}

func WithHistory(h *memory.Memory[messaging.Event]) Option {
	return func(s *Server) {
		if h != nil {
			s.history = h
		}
	}
}

// WithVerbose logs every session event.
func WithVerbose(v bool) Option {
	return func(s *Server) {
		s.verbose = v
	}
}

// New creates a Server for env. The session id defaults to a fresh ULID.
func New(env core.Environment, opts ...Option) *Server {
	s := &Server{
		env:       env,
		sessionID: ulid.Make().String(),
		broker:    messaging.NewBroker(),
		history:   memory.NewMemory[messaging.Event](DefaultHistorySize),
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) SessionID() string {
	return s.sessionID
}

// Broker returns the broker session events are published to.
func (s *Server) Broker() messaging.Broker {
	return s.broker
}

// History returns up to limit of the most recent events; limit <= 0 returns all of them.
func (s *Server) History(limit int) []messaging.Event {
	if limit <= 0 {
		return s.history.All()
	}
	return s.history.Last(limit)
}

// Health reports liveness and the current episode position.
type Health struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	EpisodeID string `json:"episode_id,omitempty"`
	StepCount int    `json:"step_count"`
	Phase     string `json:"phase,omitempty"`
	MaxSteps  int    `json:"max_steps,omitempty"`
	Events    int    `json:"events"`
	Uptime    string `json:"uptime"`
}

// lifecycle is the optional bookkeeping view offered by environment.Environment.
type lifecycle interface {
	Phase() environment.Phase
	MaxSteps() int
}

func (s *Server) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.env.State()
	h := Health{
		Status:    "ok",
		SessionID: s.sessionID,
		EpisodeID: st.EpisodeID,
		StepCount: st.StepCount,
		Events:    s.history.Len(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if lc, ok := s.env.(lifecycle); ok {
		h.Phase = lc.Phase().String()
		h.MaxSteps = lc.MaxSteps()
	}
	return h
}

// Handle runs op with the JSON request body and returns the response value to encode.
// Errors are always *core.Error.
func (s *Server) Handle(ctx context.Context, op Op, body []byte) (resp any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt := messaging.Event{Type: messaging.EventType(op), SessionID: s.sessionID}
	defer func() {
		if r := recover(); r != nil {
			err = core.Errorf(core.KindUpstreamSimulation, "%s panicked: %v", op, r)
		}
		s.record(evt, err)
	}()

	switch op {
	case OpReset:
		resp, err = s.reset(ctx, body)
	case OpStep:
		resp, err = s.step(ctx, body, &evt)
	case OpState:
		resp = core.EncodeState(s.env.State())
	case OpClose:
		if err = s.env.Close(); err == nil {
			resp = core.CloseResponse{Closed: true}
		}
	default:
		err = core.Errorf(core.KindProtocol, "unknown operation %q", op)
	}
	if err != nil {
		return nil, asCoreError(err)
	}
	return resp, nil
}

func (s *Server) reset(ctx context.Context, body []byte) (any, error) {
	var req core.ResetRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, decodeError("reset request", err)
		}
	}
	obs, err := s.env.Reset(ctx, req.Seed)
	if err != nil {
		return nil, err
	}
	return core.ResetResponse{Observation: core.EncodeObservation(obs)}, nil
}

func (s *Server) step(ctx context.Context, body []byte, evt *messaging.Event) (any, error) {
	action, err := decodeAction(body)
	if err != nil {
		return nil, err
	}
	evt.Action = action.Payload()

	obs, err := s.env.Step(ctx, action)
	if err != nil {
		return nil, err
	}
	evt.Reward = obs.Reward
	evt.Done = obs.Done
	return core.StepResponse{
		Observation: core.EncodeObservation(obs),
		Reward:      obs.Reward,
		Done:        obs.Done,
	}, nil
}

// decodeAction checks field types individually so that a wrongly typed action is a
// TypeMismatchError while unparsable JSON is a ProtocolError.
func decodeAction(body []byte) (core.Action, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return core.Action{}, decodeError("step request", err)
	}

	rawName, ok := fields["tool_name"]
	if !ok {
		return core.Action{}, core.Errorf(core.KindTypeMismatch, "step request has no tool_name")
	}
	var name string
	if err := json.Unmarshal(rawName, &name); err != nil {
		return core.Action{}, core.Errorf(core.KindTypeMismatch, "tool_name must be a string")
	}

	params := map[string]any{}
	if rawParams, ok := fields["parameters"]; ok && string(bytes.TrimSpace(rawParams)) != "null" {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return core.Action{}, core.Errorf(core.KindTypeMismatch, "parameters must be an object")
		}
	}
	return core.NewAction(name, params), nil
}

func decodeError(what string, err error) *core.Error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return core.Wrap(core.KindTypeMismatch, err, "%s", what)
	}
	return core.Wrap(core.KindProtocol, err, "invalid %s", what)
}

func asCoreError(err error) *core.Error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce
	}
	return core.Wrap(core.KindUpstreamSimulation, err, "session")
}

func (s *Server) record(evt messaging.Event, err error) {
	st := s.env.State()
	evt.EpisodeID = st.EpisodeID
	evt.Step = st.StepCount
	evt.Timestamp = time.Now()
	if err != nil {
		evt.ErrorKind = string(core.KindOf(err))
		if evt.ErrorKind == "" {
			evt.ErrorKind = string(core.KindUpstreamSimulation)
		}
		evt.Error = err.Error()
	}

	s.history.Store(evt)
	if perr := s.broker.Publish(evt); perr != nil {
		log.Printf("Session %s: dropped event: %v", s.sessionID, perr)
	}
	if s.verbose {
		log.Printf("Session %s: %s", s.sessionID, describe(evt))
	}
}

func describe(evt messaging.Event) string {
	msg := fmt.Sprintf("%s episode=%s step=%d", evt.Type, evt.EpisodeID, evt.Step)
	if evt.Action != nil {
		msg += fmt.Sprintf(" action=%v reward=%.2f done=%t", evt.Action["tool_name"], evt.Reward, evt.Done)
	}
	if evt.Failed() {
		msg += fmt.Sprintf(" error=%s", evt.Error)
	}
	return msg
}
