// Package eventbus provides non-blocking fan-out of domain events to
// live stream subscribers.
//
// Events published to the bus are delivered to every registered
// subscription over a per-subscription buffered channel. If a
// subscriber's channel is full the event is dropped for that subscriber
// rather than queued, so a stalled stream can never block ingestion.
// Per subscriber, events arrive in publish order. There is no replay: a
// subscription only sees events published after it was registered.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscription channel depth used when the
// registry is constructed with a non-positive buffer size.
const DefaultBuffer = 64

// Subscription is one live stream connection's registration. The owner
// receives events from C and must call Registry.Unregister when the
// connection closes.
type Subscription struct {
	id string
	ch chan Event

	dropped atomic.Uint64
}

// ID returns the opaque subscription handle.
func (s *Subscription) ID() string { return s.id }

// C is the receive side of the subscription.
func (s *Subscription) C() <-chan Event { return s.ch }

// Registry owns the set of active subscriptions. All methods are safe
// for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewRegistry creates an empty registry with the given per-subscription
// channel buffer.
func NewRegistry(buffer int) *Registry {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Registry{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Register adds a new subscription to the active set and returns it.
// Returns nil after Close.
func (r *Registry) Register() *Subscription {
	sub := &Subscription{
		id: uuid.NewString(),
		ch: make(chan Event, r.buffer),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.subs[sub.id] = sub
	return sub
}

// Unregister removes a subscription and closes its channel. Calling it
// twice, or with a subscription that was never registered, is a no-op.
func (r *Registry) Unregister(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.id]; !ok {
		return
	}
	delete(r.subs, sub.id)
	close(sub.ch)
}

// Publish delivers evt to every currently registered subscription
// without blocking. Subscriptions whose buffers are full miss the event;
// the publisher is never told and never waits.
func (r *Registry) Publish(evt Event) {
	r.published.Add(1)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	for _, sub := range r.subs {
		select {
		case sub.ch <- evt:
			r.delivered.Add(1)
		default:
			sub.dropped.Add(1)
			r.dropped.Add(1)
		}
	}
}

// Active returns the number of registered subscriptions.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Active    int
	Published uint64
	Delivered uint64
	Dropped   uint64
}

// Snapshot returns current counters. Concurrent publishes may advance
// them immediately after.
func (r *Registry) Snapshot() Stats {
	return Stats{
		Active:    r.Active(),
		Published: r.published.Load(),
		Delivered: r.delivered.Load(),
		Dropped:   r.dropped.Load(),
	}
}

// Close removes and closes every subscription and rejects further
// registrations. Publish becomes a no-op. Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, sub := range r.subs {
		delete(r.subs, id)
		close(sub.ch)
	}
}
