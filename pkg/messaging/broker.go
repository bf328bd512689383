package messaging

import (
	"errors"
	"fmt"
	"sync"
)

// SimpleBroker implements Broker in memory.
// subscribers maps subscriber IDs to the channels receiving events.
type SimpleBroker struct {
	subscribers map[string]chan<- Event
	mu          sync.RWMutex
}

// NewBroker creates an empty broker
func NewBroker() *SimpleBroker {
	return &SimpleBroker{
		subscribers: make(map[string]chan<- Event),
	}
}

// Publish delivers evt to every subscriber without blocking. Subscribers whose
// channel is full miss the event and are reported in the returned error.
func (b *SimpleBroker) Publish(evt Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var errs []error
	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			errs = append(errs, fmt.Errorf("subscriber %s's channel is full", id))
		}
	}
	return errors.Join(errs...)
}

func (b *SimpleBroker) Subscribe(id string, ch chan<- Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; exists {
		return fmt.Errorf("subscriber %s is already subscribed", id)
	}

	b.subscribers[id] = ch
	return nil
}

func (b *SimpleBroker) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return fmt.Errorf("subscriber %s is not subscribed", id)
	}

	delete(b.subscribers, id)
	return nil
}
