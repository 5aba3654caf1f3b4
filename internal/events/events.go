// Package events carries domain events from the realtime core to the
// outbound event stream.
package events

import (
	"context"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/jobs"
)

const (
	MessageSent          = "message.sent"
	MessageEnriched      = "message.enriched"
	DocumentUpdated      = "document.updated"
	DocumentSaved        = "document.saved"
	PresenceConnected    = "presence.connected"
	PresenceDisconnected = "presence.disconnected"
)

type Event struct {
	Type string `json:"type"`
	// Key picks the stream partition; events sharing a key stay ordered.
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Emitter hands events to the job queue so callers never wait on the broker.
type Emitter struct {
	pub Publisher
	q   *jobs.Queue
}

func NewEmitter(pub Publisher, q *jobs.Queue) *Emitter {
	if pub == nil {
		pub = Nop{}
	}
	return &Emitter{pub: pub, q: q}
}

func (e *Emitter) Emit(typ, key string, payload any) {
	ev := Event{Type: typ, Key: key, At: time.Now().UTC(), Payload: payload}
	e.q.Submit("publish "+typ, func(ctx context.Context) error {
		return e.pub.Publish(ctx, ev)
	})
}
