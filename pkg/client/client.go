package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/boristopalov/envd/pkg/core"
	"github.com/boristopalov/envd/pkg/provision"
	"github.com/boristopalov/envd/pkg/server"
)

// DefaultTimeout bounds each request when no WithTimeout option is given.
const DefaultTimeout = 60 * time.Second

// Client drives one remote session. It keeps no simulation data between calls; every
// method is one synchronous round trip. Requests are never retried: after a TimeoutError
// the session is in an unknown state and callers should query State or discard it.
type Client struct {
	transport  transport
	target     string
	timeout    time.Duration
	httpClient *http.Client
	provider   provision.Provider
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client used by the HTTP transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithProvider ties the session's lifetime to p: Close stops it.
func WithProvider(p provision.Provider) Option {
	return func(c *Client) {
		c.provider = p
	}
}

func newClient(opts []Option) *Client {
	c := &Client{
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// New returns a client for the session served over HTTP at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := newClient(opts)
	c.target = normalizeURL(baseURL)
	c.transport = &httpTransport{baseURL: c.target, client: c.httpClient}
	return c
}

// NewNATS returns a client for the session served on the <prefix>.<op> subjects.
func NewNATS(nc *nats.Conn, prefix string, opts ...Option) *Client {
	c := newClient(opts)
	c.target = "nats:" + prefix
	c.transport = &natsTransport{nc: nc, prefix: prefix}
	return c
}

// Launch starts a session through provider, waits for it to report healthy and returns
// a client bound to it. The session is stopped again if it never becomes healthy.
func Launch(ctx context.Context, provider provision.Provider, opts ...Option) (*Client, error) {
	url, err := provider.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}

	c := New(url, append(opts, WithProvider(provider))...)
	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := provision.WaitHealthy(waitCtx, url, 200*time.Millisecond); err != nil {
		if stopErr := provider.Stop(context.Background()); stopErr != nil {
			log.Printf("Error stopping unhealthy session at %s: %v", url, stopErr)
		}
		return nil, core.Wrap(core.KindTimeout, err, "waiting for session")
	}
	log.Printf("Session ready at %s", url)
	return c, nil
}

// Target describes where the session lives: its base URL or nats subject prefix.
func (c *Client) Target() string {
	return c.target
}

// Reset starts a new episode.
func (c *Client) Reset(ctx context.Context, seed *int64) (core.Observation, error) {
	var reply struct {
		Observation *core.WireObservation `json:"observation"`
	}
	if err := c.call(ctx, server.OpReset, core.ResetRequest{Seed: seed}, &reply); err != nil {
		return core.Observation{}, err
	}
	if reply.Observation == nil {
		return core.Observation{}, core.Errorf(core.KindProtocol, "reset reply has no observation")
	}
	obs, err := core.DecodeObservation(*reply.Observation)
	if err != nil {
		return core.Observation{}, err
	}
	obs.Done = false
	obs.Reward = 0
	return obs, nil
}

// Step sends action and rebuilds the typed observation. Reward defaults to 0 and done
// to false when the reply omits them.
func (c *Client) Step(ctx context.Context, action core.Action) (core.StepResult, error) {
	var reply struct {
		Observation *core.WireObservation `json:"observation"`
		Reward      *float64              `json:"reward"`
		Done        *bool                 `json:"done"`
	}
	req := core.StepRequest{ToolName: action.ToolName, Parameters: action.Parameters}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}
	if err := c.call(ctx, server.OpStep, req, &reply); err != nil {
		return core.StepResult{}, err
	}
	if reply.Observation == nil {
		return core.StepResult{}, core.Errorf(core.KindProtocol, "step reply has no observation")
	}
	obs, err := core.DecodeObservation(*reply.Observation)
	if err != nil {
		return core.StepResult{}, err
	}

	res := core.StepResult{Observation: obs}
	if reply.Reward != nil {
		res.Reward = *reply.Reward
	}
	if reply.Done != nil {
		res.Done = *reply.Done
	}
	res.Observation.Reward = res.Reward
	res.Observation.Done = res.Done
	return res, nil
}

// State fetches the session's episode state.
func (c *Client) State(ctx context.Context) (core.EpisodeState, error) {
	var reply struct {
		core.WireState
		EpisodeID *string `json:"episode_id"`
		StepCount *int    `json:"step_count"`
	}
	if err := c.call(ctx, server.OpState, nil, &reply); err != nil {
		return core.EpisodeState{}, err
	}
	if reply.EpisodeID == nil || reply.StepCount == nil {
		return core.EpisodeState{}, core.Errorf(core.KindProtocol, "state reply is missing episode_id or step_count")
	}
	reply.WireState.EpisodeID = *reply.EpisodeID
	reply.WireState.StepCount = *reply.StepCount
	return core.DecodeState(reply.WireState)
}

// Close closes the remote session and then stops the provisioned session, if any.
// The provider is stopped even when the close request fails.
func (c *Client) Close(ctx context.Context) error {
	var reply core.CloseResponse
	err := c.call(ctx, server.OpClose, nil, &reply)
	if c.provider != nil {
		if stopErr := c.provider.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("stopping session: %w", stopErr))
		}
		c.provider = nil
	}
	return err
}

func (c *Client) call(ctx context.Context, op server.Op, req any, out any) error {
	var body []byte
	if req != nil {
		var err error
		body, err = json.Marshal(req)
		if err != nil {
			return core.Wrap(core.KindTypeMismatch, err, "encoding %s request", op)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.transport.roundTrip(ctx, op, body)
	if err != nil {
		return transportError(op, err)
	}
	return decodeReply(op, data, out)
}

// decodeReply turns an error body into a remote *core.Error and anything unparsable
// into a ProtocolError.
func decodeReply(op server.Op, data []byte, out any) error {
	var envelope struct {
		Error *core.ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return core.Wrap(core.KindProtocol, err, "unparsable %s reply", op)
	}
	if envelope.Error != nil {
		return envelope.Error.AsError()
	}
	if err := json.Unmarshal(data, out); err != nil {
		return core.Wrap(core.KindProtocol, err, "unexpected %s reply", op)
	}
	return nil
}
