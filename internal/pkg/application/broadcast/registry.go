package broadcast

import (
	"sync"

	"github.com/hatchtrack/incubator-mgmt/pkg/types"
)

// ChannelAll is the reserved channel key that receives events for every device.
const ChannelAll string = "all"

const subscriberBufSize = 64

// Subscriber is one live viewer registration. Events are delivered on a
// buffered channel; a full buffer means the event is dropped for this
// subscriber only.
type Subscriber struct {
	key    string
	events chan types.Event
}

func (s *Subscriber) Key() string {
	return s.key
}

func (s *Subscriber) Events() <-chan types.Event {
	return s.events
}

// Registry fans events out to live subscribers keyed by device id (or
// ChannelAll). It is purely in-memory and rebuilt empty on restart;
// viewers are expected to reconnect.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscriber]struct{}
}

func New() *Registry {
	return &Registry{
		subscribers: map[string]map[*Subscriber]struct{}{},
	}
}

// Register adds a subscription under the given channel key. A subscriber
// belongs to exactly one key for its lifetime.
func (r *Registry) Register(key string) *Subscriber {
	s := &Subscriber{
		key:    key,
		events: make(chan types.Event, subscriberBufSize),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subscribers[key]; !ok {
		r.subscribers[key] = map[*Subscriber]struct{}{}
	}
	r.subscribers[key][s] = struct{}{}

	return s
}

// Unregister removes a subscription and closes its event channel. It is
// safe to call more than once. Keys with no subscribers left are removed
// so churn does not grow the map.
func (r *Registry) Unregister(s *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subscribers[s.key]
	if !ok {
		return
	}

	if _, ok := set[s]; !ok {
		return
	}

	delete(set, s)
	close(s.events)

	if len(set) == 0 {
		delete(r.subscribers, s.key)
	}
}

// Broadcast delivers an event to every subscriber registered under the
// key. Delivery is best effort: subscribers whose buffer is full miss the
// event, and no error is reported to the caller.
func (r *Registry) Broadcast(key string, event types.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for s := range r.subscribers[key] {
		select {
		case s.events <- event:
		default:
		}
	}
}

// Count returns the number of subscribers registered under a key.
func (r *Registry) Count(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subscribers[key])
}
