package eventlog

import (
	"context"
	"encoding/json"
	"log"

	"classtrack/internal/eventbus"
	"classtrack/internal/queue"
)

// ArchiveStore is the append surface the archiver writes to.
type ArchiveStore interface {
	Insert(ctx context.Context, evt eventbus.Event) error
}

// Archiver drains the event queue into the persisted log. It runs in
// cmd/api for the in-memory backend and in cmd/worker for Redis.
type Archiver struct {
	store ArchiveStore
	q     queue.Queue
}

// NewArchiver creates an archiver.
func NewArchiver(store ArchiveStore, q queue.Queue) *Archiver {
	return &Archiver{store: store, q: q}
}

// Run consumes messages until ctx is cancelled. Malformed or
// unarchivable messages are logged and skipped.
func (a *Archiver) Run(ctx context.Context) error {
	msgs, err := a.q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		if msg.Type != MessageType {
			continue
		}
		var evt eventbus.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("skip malformed event message: %v", err)
			continue
		}
		if err := a.store.Insert(ctx, evt); err != nil {
			log.Printf("archive event %s failed: %v", evt.ID, err)
		}
	}
	return nil
}
