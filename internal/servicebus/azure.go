package servicebus

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/go-amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/nuetzliches/sbinspect/internal/servicebus"

// DialAzure is the production Dialer backed by azservicebus.
func DialAzure(connectionString string) (Client, error) {
	c, err := azservicebus.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, err
	}
	return &azureClient{c: c, tracer: otel.Tracer(tracerName)}, nil
}

// IsNotFound reports whether err means the queue, topic or subscription
// does not exist. azservicebus passes the link's amqp:not-found error
// through unclassified.
func IsNotFound(err error) bool {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Condition == amqp.ErrCondNotFound
	}
	return false
}

type azureClient struct {
	c      *azservicebus.Client
	tracer trace.Tracer
}

func (a *azureClient) NewReceiver(entity Entity) (Receiver, error) {
	opts := &azservicebus.ReceiverOptions{ReceiveMode: azservicebus.ReceiveModePeekLock}
	var (
		r   *azservicebus.Receiver
		err error
	)
	if entity.IsSubscription() {
		r, err = a.c.NewReceiverForSubscription(entity.Name, entity.Subscription, opts)
	} else {
		r, err = a.c.NewReceiverForQueue(entity.Name, opts)
	}
	if err != nil {
		return nil, err
	}
	return &azureReceiver{r: r, entity: entity, tracer: a.tracer}, nil
}

func (a *azureClient) NewSender(queueOrTopic string) (Sender, error) {
	s, err := a.c.NewSender(queueOrTopic, nil)
	if err != nil {
		return nil, err
	}
	return &azureSender{s: s, entity: queueOrTopic, tracer: a.tracer}, nil
}

func (a *azureClient) Close(ctx context.Context) error {
	return a.c.Close(ctx)
}

type azureReceiver struct {
	r      *azservicebus.Receiver
	entity Entity
	tracer trace.Tracer
}

func (r *azureReceiver) PeekMessages(ctx context.Context, max int) ([]*ReceivedMessage, error) {
	ctx, span := r.start(ctx, "servicebus.peek")
	defer span.End()

	msgs, err := r.r.PeekMessages(ctx, max, nil)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("messaging.batch.message_count", len(msgs)))
	return fromSDK(msgs), nil
}

func (r *azureReceiver) ReceiveMessages(ctx context.Context, max int) ([]*ReceivedMessage, error) {
	ctx, span := r.start(ctx, "servicebus.receive")
	defer span.End()

	msgs, err := r.r.ReceiveMessages(ctx, max, nil)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("messaging.batch.message_count", len(msgs)))
	return fromSDK(msgs), nil
}

func (r *azureReceiver) CompleteMessage(ctx context.Context, msg *ReceivedMessage) error {
	ctx, span := r.start(ctx, "servicebus.complete")
	defer span.End()

	raw, ok := msg.handle.(*azservicebus.ReceivedMessage)
	if !ok || raw == nil {
		err := fmt.Errorf("message %q was not received by this receiver", msg.MessageID)
		recordError(span, err)
		return err
	}
	if err := r.r.CompleteMessage(ctx, raw, nil); err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

func (r *azureReceiver) Close(ctx context.Context) error {
	return r.r.Close(ctx)
}

func (r *azureReceiver) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String("messaging.system", "servicebus"),
		attribute.String("messaging.destination.name", r.entity.String()),
	))
}

type azureSender struct {
	s      *azservicebus.Sender
	entity string
	tracer trace.Tracer
}

func (s *azureSender) SendMessage(ctx context.Context, msg *Message) error {
	ctx, span := s.tracer.Start(ctx, "servicebus.send", trace.WithSpanKind(trace.SpanKindProducer), trace.WithAttributes(
		attribute.String("messaging.system", "servicebus"),
		attribute.String("messaging.destination.name", s.entity),
		attribute.String("messaging.message.id", msg.MessageID),
	))
	defer span.End()

	if err := s.s.SendMessage(ctx, toSDK(msg), nil); err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

func (s *azureSender) Close(ctx context.Context) error {
	return s.s.Close(ctx)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func toSDK(msg *Message) *azservicebus.Message {
	out := &azservicebus.Message{
		Body:                  msg.Body,
		TimeToLive:            msg.TimeToLive,
		ScheduledEnqueueTime:  msg.ScheduledEnqueueTime,
		ApplicationProperties: msg.ApplicationProperties,
	}
	if msg.MessageID != "" {
		id := msg.MessageID
		out.MessageID = &id
	}
	if msg.ContentType != "" {
		ct := msg.ContentType
		out.ContentType = &ct
	}
	return out
}

func fromSDK(in []*azservicebus.ReceivedMessage) []*ReceivedMessage {
	out := make([]*ReceivedMessage, 0, len(in))
	for _, m := range in {
		if m == nil {
			continue
		}
		rm := &ReceivedMessage{
			MessageID:             m.MessageID,
			Body:                  m.Body,
			ApplicationProperties: m.ApplicationProperties,
			TimeToLive:            m.TimeToLive,
			DeliveryCount:         m.DeliveryCount,
			LockedUntil:           m.LockedUntil,
			handle:                m,
		}
		if m.ContentType != nil {
			rm.ContentType = *m.ContentType
		}
		if m.EnqueuedTime != nil {
			rm.EnqueuedTime = *m.EnqueuedTime
		}
		if m.SequenceNumber != nil {
			rm.SequenceNumber = *m.SequenceNumber
		}
		if m.SessionID != nil {
			rm.SessionID = *m.SessionID
		}
		if m.DeadLetterReason != nil {
			rm.DeadLetterReason = *m.DeadLetterReason
		}
		out = append(out, rm)
	}
	return out
}
