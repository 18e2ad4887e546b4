package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuetzliches/sbinspect/internal/activity"
	"github.com/nuetzliches/sbinspect/internal/servicebus"
)

func connectedService(t *testing.T, req ConnectionRequest) (*Service, *fakeNamespace, *recordingPublisher) {
	t.Helper()
	ns := newFakeNamespace()
	svc, pub := newTestService(ns)
	if req.ConnectionString == "" {
		req.ConnectionString = testConnStr
	}
	_, opErr := svc.Connect(context.Background(), req)
	require.Nil(t, opErr)
	return svc, ns, pub
}

func TestPeekClampsAndMaps(t *testing.T) {
	svc, ns, pub := connectedService(t, ConnectionRequest{EntityName: "queue.1"})
	enq := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 120; i++ {
		ns.seed("queue.1", &servicebus.ReceivedMessage{MessageID: fmt.Sprintf("m-%d", i), EnqueuedTime: enq})
	}

	res, opErr := svc.Peek(context.Background(), 5)
	require.Nil(t, opErr)
	assert.Len(t, res.Items, 5)
	assert.Equal(t, 5, res.TotalCount)
	assert.False(t, res.HasMore)
	assert.Equal(t, PeekedMessageInfo{MessageID: "m-0", EnqueuedTime: enq, SequenceNumber: 1}, res.Items[0])

	res, opErr = svc.Peek(context.Background(), 500)
	require.Nil(t, opErr)
	assert.Len(t, res.Items, 100)

	res, opErr = svc.Peek(context.Background(), 0)
	require.Nil(t, opErr)
	assert.Len(t, res.Items, 100)

	// Peek does not consume.
	assert.Len(t, ns.messages["queue.1"], 120)
	assert.Contains(t, pub.kinds(), activity.KindPeeked)
}

func TestPeekEmptyEntity(t *testing.T) {
	svc, _, _ := connectedService(t, ConnectionRequest{EntityName: "queue.1"})
	res, opErr := svc.Peek(context.Background(), 10)
	require.Nil(t, opErr)
	require.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
}

func TestPeekSubscription(t *testing.T) {
	svc, ns, _ := connectedService(t, ConnectionRequest{EntityName: "topic.1", SubscriptionName: "subscription.1"})
	ns.seed("topic.1/subscriptions/subscription.1", &servicebus.ReceivedMessage{MessageID: "sub-msg"})
	ns.seed("topic.1", &servicebus.ReceivedMessage{MessageID: "other"})

	res, opErr := svc.Peek(context.Background(), 10)
	require.Nil(t, opErr)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "sub-msg", res.Items[0].MessageID)
}

func TestPeekServiceBusError(t *testing.T) {
	svc, ns, _ := connectedService(t, ConnectionRequest{EntityName: "queue.1"})
	ns.peekErr = errors.New("link detached")

	_, opErr := svc.Peek(context.Background(), 10)
	require.NotNil(t, opErr)
	assert.Equal(t, CodeServiceBus, opErr.Code)
	assert.Equal(t, "link detached", opErr.Detail)
	assert.ErrorIs(t, opErr, ErrServiceBus)
}

func TestPeekByID(t *testing.T) {
	svc, ns, _ := connectedService(t, ConnectionRequest{EntityName: "queue.1"})
	ttl := 90 * time.Second
	ns.seed("queue.1",
		&servicebus.ReceivedMessage{MessageID: "a", Body: []byte("one")},
		&servicebus.ReceivedMessage{
			MessageID:             "b",
			Body:                  []byte(`{"x":1}`),
			ContentType:           "application/json",
			ApplicationProperties: map[string]any{"k": "v"},
			TimeToLive:            &ttl,
			DeadLetterReason:      "expired",
		},
	)

	msg, found, opErr := svc.PeekByID(context.Background(), "b")
	require.Nil(t, opErr)
	require.True(t, found)
	assert.Equal(t, `{"x":1}`, msg.Body)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "00:01:30", msg.TimeToLive)
	assert.Equal(t, map[string]any{"k": "v"}, msg.ApplicationProperties)
	assert.Equal(t, "expired", msg.DeadLetterReason)

	msg, found, opErr = svc.PeekByID(context.Background(), "a")
	require.Nil(t, opErr)
	require.True(t, found)
	assert.Equal(t, "text/plain", msg.ContentType)
	assert.NotNil(t, msg.ApplicationProperties)

	_, found, opErr = svc.PeekByID(context.Background(), "zzz")
	require.Nil(t, opErr)
	assert.False(t, found)
}

func TestPeekByIDScansFirstHundred(t *testing.T) {
	svc, ns, _ := connectedService(t, ConnectionRequest{EntityName: "queue.1"})
	for i := 0; i < 101; i++ {
		ns.seed("queue.1", &servicebus.ReceivedMessage{MessageID: fmt.Sprintf("m-%d", i)})
	}
	_, found, opErr := svc.PeekByID(context.Background(), "m-100")
	require.Nil(t, opErr)
	assert.False(t, found)
}

func TestReceiveCompletesMessage(t *testing.T) {
	svc, ns, pub := connectedService(t, ConnectionRequest{EntityName: "queue.1"})
	var received int
	svc.ObserveMessages = func(direction string, n int) {
		if direction == "received" {
			received += n
		}
	}
	ns.seed("queue.1",
		&servicebus.ReceivedMessage{MessageID: "first", Body: []byte("1")},
		&servicebus.ReceivedMessage{MessageID: "second", Body: []byte("2")},
	)

	msg, found, opErr := svc.Receive(context.Background())
	require.Nil(t, opErr)
	require.True(t, found)
	assert.Equal(t, "first", msg.MessageID)
	assert.Equal(t, uint32(1), msg.DeliveryCount)
	assert.NotNil(t, msg.LockedUntil)
	assert.Equal(t, []string{"first"}, ns.completed)
	assert.Len(t, ns.messages["queue.1"], 1)
	assert.Equal(t, 1, received)
	assert.Contains(t, pub.kinds(), activity.KindReceived)
}

func TestReceiveNothingAvailable(t *testing.T) {
	svc, _, _ := connectedService(t, ConnectionRequest{EntityName: "queue.1"})
	_, found, opErr := svc.Receive(context.Background())
	require.Nil(t, opErr)
	assert.False(t, found)
}

func TestReceiveCallerCancelled(t *testing.T) {
	svc, _, _ := connectedService(t, ConnectionRequest{EntityName: "queue.1"})
	svc.ReceiveWait = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, found, opErr := svc.Receive(ctx)
	require.NotNil(t, opErr)
	assert.False(t, found)
	assert.Equal(t, CodeServiceBus, opErr.Code)
}

func TestSendDefaults(t *testing.T) {
	svc, ns, pub := connectedService(t, ConnectionRequest{EntityName: "topic.1", SubscriptionName: "subscription.1"})

	id, opErr := svc.Send(context.Background(), SendMessageRequest{Body: `{"hello":"world"}`})
	require.Nil(t, opErr)
	assert.Len(t, id, 36)

	// Topic sends go to the topic, not the subscription.
	sent := ns.sent["topic.1"]
	require.Len(t, sent, 1)
	assert.Equal(t, id, sent[0].MessageID)
	assert.Equal(t, "application/json", sent[0].ContentType)
	assert.Equal(t, []byte(`{"hello":"world"}`), sent[0].Body)
	assert.Nil(t, sent[0].TimeToLive)
	assert.Nil(t, sent[0].ApplicationProperties)
	assert.Contains(t, pub.kinds(), activity.KindSent)
}

func TestSendOptions(t *testing.T) {
	svc, ns, _ := connectedService(t, ConnectionRequest{EntityName: "queue.1"})
	at := time.Date(2030, 1, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	_, opErr := svc.Send(context.Background(), SendMessageRequest{
		Body:        "plain",
		ContentType: "text/plain",
		ApplicationProperties: map[string]json.RawMessage{
			"count":   json.RawMessage(`42`),
			"big":     json.RawMessage(`9999999999`),
			"ratio":   json.RawMessage(`0.5`),
			"flag":    json.RawMessage(`true`),
			"name":    json.RawMessage(`"n"`),
			"nothing": json.RawMessage(`null`),
		},
		TimeToLive:           "00:05:00",
		ScheduledEnqueueTime: &at,
	})
	require.Nil(t, opErr)

	sent := ns.sent["queue.1"][0]
	assert.Equal(t, "text/plain", sent.ContentType)
	require.NotNil(t, sent.TimeToLive)
	assert.Equal(t, 5*time.Minute, *sent.TimeToLive)
	require.NotNil(t, sent.ScheduledEnqueueTime)
	assert.Equal(t, time.UTC, sent.ScheduledEnqueueTime.Location())
	assert.True(t, at.Equal(*sent.ScheduledEnqueueTime))
	assert.Equal(t, map[string]any{
		"count":   int32(42),
		"big":     int64(9999999999),
		"ratio":   0.5,
		"flag":    true,
		"name":    "n",
		"nothing": nil,
	}, sent.ApplicationProperties)
}

func TestSendInvalidTimeToLive(t *testing.T) {
	svc, ns, _ := connectedService(t, ConnectionRequest{EntityName: "queue.1"})
	_, opErr := svc.Send(context.Background(), SendMessageRequest{Body: "x", TimeToLive: "soon"})
	require.NotNil(t, opErr)
	assert.Equal(t, CodeInvalidRequest, opErr.Code)
	assert.Empty(t, ns.sent["queue.1"])
}

func TestBulkSendPartialFailure(t *testing.T) {
	svc, ns, pub := connectedService(t, ConnectionRequest{EntityName: "queue.1"})
	ns.sendErr = func(msg *servicebus.Message) error {
		if string(msg.Body) == "bad" {
			return errors.New("quota exceeded")
		}
		return nil
	}

	reqs := []SendMessageRequest{{Body: "ok"}}
	for i := 0; i < 12; i++ {
		reqs = append(reqs, SendMessageRequest{Body: "bad"})
	}
	reqs = append(reqs, SendMessageRequest{Body: "ok"})

	res := svc.BulkSend(context.Background(), reqs)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 12, res.Failed)
	assert.Len(t, res.Errors, 10)
	assert.Equal(t, "quota exceeded", res.Errors[0])
	assert.Len(t, ns.sent["queue.1"], 2)
	assert.Contains(t, pub.kinds(), activity.KindBulkSent)
}

func TestBulkSendEmpty(t *testing.T) {
	svc, _, _ := connectedService(t, ConnectionRequest{EntityName: "queue.1"})
	res := svc.BulkSend(context.Background(), nil)
	assert.Equal(t, BulkSendResult{Errors: []string{}}, res)
}

func TestListEntities(t *testing.T) {
	svc, _, _ := connectedService(t, ConnectionRequest{EntityName: "queue.1"})
	got, opErr := svc.ListEntities(context.Background())
	require.Nil(t, opErr)
	assert.Equal(t, []string{"queue.1", "topic.1"}, got)

	svc.Entities = nil
	got, opErr = svc.ListEntities(context.Background())
	require.Nil(t, opErr)
	assert.Equal(t, []string{}, got)
}

func TestBodyString(t *testing.T) {
	assert.Equal(t, "héllo", bodyString([]byte("héllo")))
	assert.Equal(t, "a�b", bodyString([]byte{'a', 0xff, 'b'}))
}
