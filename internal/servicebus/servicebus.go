// Package servicebus is the narrow seam between the inspector and the Azure
// Service Bus SDK. The rest of the module only sees the interfaces and the
// plain message types declared here.
package servicebus

import (
	"context"
	"time"
)

// Entity addresses a queue, or a topic subscription when Subscription is set.
type Entity struct {
	Name         string
	Subscription string
}

func (e Entity) IsSubscription() bool {
	return e.Subscription != ""
}

func (e Entity) String() string {
	if e.Subscription == "" {
		return e.Name
	}
	return e.Name + "/subscriptions/" + e.Subscription
}

// Message is an outgoing message.
type Message struct {
	MessageID             string
	Body                  []byte
	ContentType           string
	TimeToLive            *time.Duration
	ScheduledEnqueueTime  *time.Time
	ApplicationProperties map[string]any
}

// ReceivedMessage is a peeked or received message.
type ReceivedMessage struct {
	MessageID             string
	Body                  []byte
	ContentType           string
	EnqueuedTime          time.Time
	ApplicationProperties map[string]any
	SequenceNumber        int64
	SessionID             string
	TimeToLive            *time.Duration
	DeliveryCount         uint32
	LockedUntil           *time.Time
	DeadLetterReason      string

	// handle is the SDK message, required to settle it.
	handle any
}

type Client interface {
	NewReceiver(entity Entity) (Receiver, error)
	NewSender(queueOrTopic string) (Sender, error)
	Close(ctx context.Context) error
}

// Receiver always operates in peek-lock mode.
type Receiver interface {
	PeekMessages(ctx context.Context, max int) ([]*ReceivedMessage, error)
	ReceiveMessages(ctx context.Context, max int) ([]*ReceivedMessage, error)
	CompleteMessage(ctx context.Context, msg *ReceivedMessage) error
	Close(ctx context.Context) error
}

type Sender interface {
	SendMessage(ctx context.Context, msg *Message) error
	Close(ctx context.Context) error
}

// Dialer opens a client for a connection string. It must not perform
// network I/O beyond what the SDK does lazily.
type Dialer func(connectionString string) (Client, error)
