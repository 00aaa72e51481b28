// Package events provides an event broadcaster the rendering shell
// subscribes to for committed navigation transitions and cache pressure
// notices.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	// EventNavigated is published for every committed navigation move.
	EventNavigated = "navigated"
	// EventPlaceholder is published when the displayed item resolved to
	// the corrupt/unavailable placeholder state.
	EventPlaceholder = "placeholder"
	// EventPressure is published when the resource cache performed its
	// last-resort clear under memory pressure.
	EventPressure = "pressure"
)

// Event describes one viewer-visible state change.
type Event struct {
	Type      string `json:"type"`
	Path      string `json:"path,omitempty"`
	Index     int    `json:"index"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster manages subscribers and publishes events. Publishing never
// blocks: events are dropped for slow consumers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	close(ch)
	b.mu.Unlock()
}

// Publish sends an event to all subscribers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
