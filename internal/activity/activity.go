// Package activity carries inspector events (connects, peeks, sends, ...)
// from the gateway to whoever listens: the UI-state recorder and websocket
// clients in-process, and optionally other processes over NATS.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("activity bus closed")

type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindPeeked       Kind = "peeked"
	KindReceived     Kind = "received"
	KindSent         Kind = "sent"
	KindBulkSent     Kind = "bulk_sent"
	KindError        Kind = "error"
)

// SubjectPrefix namespaces activity subjects on shared transports.
const SubjectPrefix = "sbinspect.activity."

type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Operation string    `json:"operation,omitempty"`
	Entity    string    `json:"entity,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Count     int       `json:"count,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// NewEvent fills ID and At.
func NewEvent(kind Kind, now time.Time) Event {
	return Event{
		ID:   uuid.NewString(),
		Kind: kind,
		At:   now.UTC(),
	}
}

func (e Event) Subject() string {
	return SubjectPrefix + string(e.Kind)
}

func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Handler is invoked for every event. It must not block for long.
type Handler func(Event)

// Bus fans events out to subscribers. Implementations are safe for
// concurrent use.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(h Handler) (unsubscribe func(), err error)
	Close() error
}

// Publisher is the write side used by the gateway.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
