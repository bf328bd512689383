package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/boristopalov/envd/pkg/core"
	"github.com/boristopalov/envd/pkg/messaging"
)

// Subject returns the NATS subject carrying op for a session prefix.
func Subject(prefix string, op Op) string {
	return fmt.Sprintf("%s.%s", prefix, op)
}

// EventsSubject is where session events are republished.
func EventsSubject(prefix string) string {
	return prefix + ".events"
}

// ServeNATS answers requests on <prefix>.<op> with the same JSON bodies as the HTTP
// transport and republishes session events on <prefix>.events. It blocks until ctx is done.
func (s *Server) ServeNATS(ctx context.Context, nc *nats.Conn, prefix string) error {
	if nc == nil {
		return fmt.Errorf("nats connection is nil")
	}

	var subs []*nats.Subscription
	defer func() {
		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil {
				log.Printf("Error unsubscribing %s: %v", sub.Subject, err)
			}
		}
	}()

	for _, op := range Ops {
		sub, err := nc.Subscribe(Subject(prefix, op), func(msg *nats.Msg) {
			reply := s.natsReply(ctx, op, msg.Data)
			if err := msg.Respond(reply); err != nil {
				log.Printf("Error replying on %s: %v", msg.Subject, err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", Subject(prefix, op), err)
		}
		subs = append(subs, sub)
	}

	events := make(chan messaging.Event, 64)
	subscriberID := "nats:" + prefix
	if err := s.broker.Subscribe(subscriberID, events); err != nil {
		return fmt.Errorf("failed to subscribe to session events: %w", err)
	}
	defer s.broker.Unsubscribe(subscriberID)

	if err := nc.Flush(); err != nil {
		return fmt.Errorf("failed to flush subscriptions: %w", err)
	}
	log.Printf("Session %s serving NATS subjects %s.*", s.sessionID, prefix)

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-events:
			data, err := json.Marshal(evt)
			if err != nil {
				log.Printf("Error encoding event: %v", err)
				continue
			}
			if err := nc.Publish(EventsSubject(prefix), data); err != nil {
				log.Printf("Error publishing event: %v", err)
			}
		}
	}
}

func (s *Server) natsReply(ctx context.Context, op Op, body []byte) []byte {
	resp, err := s.Handle(ctx, op, body)
	var v any = resp
	if err != nil {
		v = core.NewErrorResponse(err)
	}
	data, merr := json.Marshal(v)
	if merr != nil {
		data, _ = json.Marshal(core.NewErrorResponse(core.Wrap(core.KindUpstreamSimulation, merr, "encoding %s reply", op)))
	}
	return data
}
