package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure crossing the session boundary.
type Kind string

const (
	KindNotInitialized     Kind = "NotInitializedError"
	KindEpisodeFinished    Kind = "EpisodeFinishedError"
	KindTypeMismatch       Kind = "TypeMismatchError"
	KindMalformedSchema    Kind = "MalformedSchemaError"
	KindProtocol           Kind = "ProtocolError"
	KindTimeout            Kind = "TimeoutError"
	KindUpstreamSimulation Kind = "UpstreamSimulationError"
	KindInvalidAction      Kind = "InvalidActionError"
	KindSessionClosed      Kind = "SessionClosedError"
)

// Category groups kinds by who is at fault.
type Category string

const (
	CategoryClient  Category = "client"  // the request was invalid
	CategoryRemote  Category = "remote"  // the session or simulation failed
	CategoryNetwork Category = "network" // nothing came back in time
)

func (k Kind) Category() Category {
	switch k {
	case KindTimeout:
		return CategoryNetwork
	case KindUpstreamSimulation, KindMalformedSchema, KindProtocol, KindSessionClosed:
		return CategoryRemote
	default:
		return CategoryClient
	}
}

// Sentinels for errors.Is; any *Error of the same kind matches.
var (
	ErrNotInitialized     = &Error{Kind: KindNotInitialized}
	ErrEpisodeFinished    = &Error{Kind: KindEpisodeFinished}
	ErrTypeMismatch       = &Error{Kind: KindTypeMismatch}
	ErrMalformedSchema    = &Error{Kind: KindMalformedSchema}
	ErrProtocol           = &Error{Kind: KindProtocol}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrUpstreamSimulation = &Error{Kind: KindUpstreamSimulation}
	ErrInvalidAction      = &Error{Kind: KindInvalidAction}
	ErrSessionClosed      = &Error{Kind: KindSessionClosed}
)

// Error is the typed failure returned by every layer of the protocol.
type Error struct {
	Kind    Kind
	Message string
	// Remote is set when the error was decoded from a peer's reply.
	Remote bool
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind only, so sentinels compare equal to any instance.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around err, keeping its message.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
