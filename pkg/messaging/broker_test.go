package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepEvent(step int) Event {
	return Event{
		Type:      EventStep,
		SessionID: "sess-1",
		EpisodeID: "ep-1",
		Step:      step,
		Action:    map[string]any{"tool_name": "scan", "parameters": map[string]any{}},
		Timestamp: time.Now(),
	}
}

func TestBroker(t *testing.T) {
	t.Run("fan out to every subscriber", func(t *testing.T) {
		broker := NewBroker()
		t.Cleanup(broker.Reset)

		subs := map[string]chan Event{
			"history": make(chan Event, 1),
			"nats":    make(chan Event, 1),
			"logger":  make(chan Event, 1),
		}
		for id, ch := range subs {
			require.NoError(t, broker.Subscribe(id, ch))
		}

		require.NoError(t, broker.Publish(stepEvent(1)))

		for id, ch := range subs {
			select {
			case got := <-ch:
				assert.Equal(t, EventStep, got.Type, id)
				assert.Equal(t, 1, got.Step, id)
			case <-time.After(time.Second):
				t.Errorf("timeout waiting for event on %s", id)
			}
		}
	})

	t.Run("subscription management", func(t *testing.T) {
		broker := NewBroker()
		t.Cleanup(broker.Reset)
		ch := make(chan Event, 1)

		require.NoError(t, broker.Subscribe("history", ch))
		assert.Error(t, broker.Subscribe("history", ch))

		require.NoError(t, broker.Unsubscribe("history"))
		assert.Error(t, broker.Unsubscribe("history"))

		require.NoError(t, broker.Publish(stepEvent(1)))
		select {
		case evt := <-ch:
			t.Errorf("unsubscribed channel received %+v", evt)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("full channel does not block others", func(t *testing.T) {
		broker := NewBroker()
		t.Cleanup(broker.Reset)
		slow := make(chan Event, 1)
		fast := make(chan Event, 2)
		require.NoError(t, broker.Subscribe("slow", slow))
		require.NoError(t, broker.Subscribe("fast", fast))

		require.NoError(t, broker.Publish(stepEvent(1)))
		err := broker.Publish(stepEvent(2))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "slow")

		assert.Len(t, fast, 2)
		assert.Len(t, slow, 1)
	})
}

func TestEventFailed(t *testing.T) {
	assert.False(t, stepEvent(1).Failed())
	evt := stepEvent(1)
	evt.ErrorKind = "EpisodeFinishedError"
	assert.True(t, evt.Failed())
}
