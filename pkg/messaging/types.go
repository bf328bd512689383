package messaging

import (
	"time"
)

// EventType names the session operation an Event reports.
type EventType string

const (
	EventReset EventType = "reset"
	EventStep  EventType = "step"
	EventState EventType = "state"
	EventClose EventType = "close"
)

// Event describes one completed (or failed) operation on a session.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	EpisodeID string         `json:"episode_id,omitempty"`
	Step      int            `json:"step"`
	Action    map[string]any `json:"action,omitempty"` // {tool_name, parameters} for steps
	Reward    float64        `json:"reward"`
	Done      bool           `json:"done"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Failed reports whether the operation returned an error.
func (e Event) Failed() bool {
	return e.ErrorKind != ""
}

// Publisher accepts events
type Publisher interface {
	Publish(evt Event) error
}

// Broker fans events out to subscribers
type Broker interface {
	Publisher
	// Subscribe registers a channel under id to receive every subsequent event
	Subscribe(id string, ch chan<- Event) error
	// Unsubscribe removes a subscription
	Unsubscribe(id string) error
}
