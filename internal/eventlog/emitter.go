package eventlog

import (
	"context"
	"encoding/json"
	"log"

	"classtrack/internal/eventbus"
	"classtrack/internal/queue"
)

// MessageType marks queue messages carrying a serialized domain event.
const MessageType = "event"

// Emitter fans a domain event out to live subscribers and enqueues it
// for the archiver. Neither path may fail the caller: the record the
// event describes is already durable.
type Emitter struct {
	bus eventbus.Publisher
	q   queue.Queue
}

// NewEmitter wires the bus and the archive queue together.
func NewEmitter(bus eventbus.Publisher, q queue.Queue) *Emitter {
	return &Emitter{bus: bus, q: q}
}

// Emit publishes evt and queues it for archiving.
func (e *Emitter) Emit(ctx context.Context, evt eventbus.Event) {
	e.bus.Publish(evt)

	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("marshal event %s failed: %v", evt.ID, err)
		return
	}
	if err := e.q.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		log.Printf("queue publish for event %s failed: %v", evt.ID, err)
	}
}
