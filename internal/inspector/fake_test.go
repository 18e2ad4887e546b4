package inspector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Azure/go-amqp"

	"github.com/nuetzliches/sbinspect/internal/activity"
	"github.com/nuetzliches/sbinspect/internal/servicebus"
)

// errNotFound is what azservicebus returns when the entity does not exist.
var errNotFound error = &amqp.Error{
	Condition:   amqp.ErrCondNotFound,
	Description: "The messaging entity could not be found.",
}

// fakeNamespace is an in-memory stand-in for a Service Bus namespace.
type fakeNamespace struct {
	mu sync.Mutex

	messages  map[string][]*servicebus.ReceivedMessage
	sent      map[string][]*servicebus.Message
	completed []string
	nextSeq   int64

	dialErr    error
	peekErr    error
	peekGate   chan struct{} // when set, peeks block until it is closed
	receiveErr error
	sendErr    func(msg *servicebus.Message) error
	closed     int
	receivers  int
}

func newFakeNamespace() *fakeNamespace {
	return &fakeNamespace{
		messages: make(map[string][]*servicebus.ReceivedMessage),
		sent:     make(map[string][]*servicebus.Message),
	}
}

func (n *fakeNamespace) dial(string) (servicebus.Client, error) {
	if n.dialErr != nil {
		return nil, n.dialErr
	}
	return &fakeClient{ns: n}, nil
}

func (n *fakeNamespace) seed(entity string, msgs ...*servicebus.ReceivedMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range msgs {
		n.nextSeq++
		if m.SequenceNumber == 0 {
			m.SequenceNumber = n.nextSeq
		}
		n.messages[entity] = append(n.messages[entity], m)
	}
}

type fakeClient struct {
	ns *fakeNamespace
}

func (c *fakeClient) NewReceiver(entity servicebus.Entity) (servicebus.Receiver, error) {
	c.ns.mu.Lock()
	c.ns.receivers++
	c.ns.mu.Unlock()
	return &fakeReceiver{ns: c.ns, key: entity.String()}, nil
}

func (c *fakeClient) NewSender(queueOrTopic string) (servicebus.Sender, error) {
	return &fakeSender{ns: c.ns, key: queueOrTopic}, nil
}

func (c *fakeClient) Close(context.Context) error {
	c.ns.mu.Lock()
	defer c.ns.mu.Unlock()
	c.ns.closed++
	return nil
}

type fakeReceiver struct {
	ns  *fakeNamespace
	key string
}

func (r *fakeReceiver) PeekMessages(ctx context.Context, max int) ([]*servicebus.ReceivedMessage, error) {
	r.ns.mu.Lock()
	gate := r.ns.peekGate
	r.ns.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.ns.mu.Lock()
	defer r.ns.mu.Unlock()
	if r.ns.peekErr != nil {
		return nil, r.ns.peekErr
	}
	msgs := r.ns.messages[r.key]
	if len(msgs) > max {
		msgs = msgs[:max]
	}
	return append([]*servicebus.ReceivedMessage(nil), msgs...), nil
}

func (r *fakeReceiver) ReceiveMessages(ctx context.Context, max int) ([]*servicebus.ReceivedMessage, error) {
	r.ns.mu.Lock()
	if r.ns.receiveErr != nil {
		err := r.ns.receiveErr
		r.ns.mu.Unlock()
		return nil, err
	}
	msgs := r.ns.messages[r.key]
	if len(msgs) == 0 {
		r.ns.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if len(msgs) > max {
		msgs = msgs[:max]
	}
	out := append([]*servicebus.ReceivedMessage(nil), msgs...)
	r.ns.mu.Unlock()

	for _, m := range out {
		m.DeliveryCount++
		locked := time.Now().Add(time.Minute)
		m.LockedUntil = &locked
	}
	return out, nil
}

func (r *fakeReceiver) CompleteMessage(ctx context.Context, msg *servicebus.ReceivedMessage) error {
	r.ns.mu.Lock()
	defer r.ns.mu.Unlock()
	msgs := r.ns.messages[r.key]
	for i, m := range msgs {
		if m == msg {
			r.ns.messages[r.key] = append(msgs[:i:i], msgs[i+1:]...)
			r.ns.completed = append(r.ns.completed, msg.MessageID)
			return nil
		}
	}
	return errors.New("lock lost")
}

func (r *fakeReceiver) Close(context.Context) error { return nil }

type fakeSender struct {
	ns  *fakeNamespace
	key string
}

func (s *fakeSender) SendMessage(ctx context.Context, msg *servicebus.Message) error {
	s.ns.mu.Lock()
	defer s.ns.mu.Unlock()
	if s.ns.sendErr != nil {
		if err := s.ns.sendErr(msg); err != nil {
			return err
		}
	}
	s.ns.sent[s.key] = append(s.ns.sent[s.key], msg)
	return nil
}

func (s *fakeSender) Close(context.Context) error { return nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []activity.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e activity.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) kinds() []activity.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]activity.Kind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

const testConnStr = "Endpoint=sb://localhost;SharedAccessKeyName=RootManageSharedAccessKey;SharedAccessKey=SAS_KEY_VALUE;UseDevelopmentEmulator=true;"

func newTestService(ns *fakeNamespace) (*Service, *recordingPublisher) {
	pub := &recordingPublisher{}
	svc := NewService(ns.dial)
	svc.Activity = pub
	svc.ReceiveWait = 10 * time.Millisecond
	svc.Entities = func() []string { return []string{"queue.1", "topic.1"} }
	return svc, pub
}
