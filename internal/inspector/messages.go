package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nuetzliches/sbinspect/internal/activity"
	"github.com/nuetzliches/sbinspect/internal/servicebus"
)

const (
	defaultContentType         = "text/plain"
	defaultOutgoingContentType = "application/json"
)

type PeekedMessageInfo struct {
	MessageID      string    `json:"messageId"`
	EnqueuedTime   time.Time `json:"enqueuedTime"`
	SequenceNumber int64     `json:"sequenceNumber"`
	SessionID      string    `json:"sessionId,omitempty"`
}

type PagedResult[T any] struct {
	Items      []T  `json:"items"`
	TotalCount int  `json:"totalCount"`
	HasMore    bool `json:"hasMore"`
}

// Message is the full view of a peeked or received message.
type Message struct {
	MessageID             string         `json:"messageId"`
	Body                  string         `json:"body"`
	ContentType           string         `json:"contentType"`
	EnqueuedTime          time.Time      `json:"enqueuedTime"`
	ApplicationProperties map[string]any `json:"applicationProperties"`
	SequenceNumber        int64          `json:"sequenceNumber"`
	SessionID             string         `json:"sessionId,omitempty"`
	TimeToLive            string         `json:"timeToLive,omitempty"`
	DeliveryCount         uint32         `json:"deliveryCount"`
	LockedUntil           *time.Time     `json:"lockedUntil,omitempty"`
	DeadLetterReason      string         `json:"deadLetterReason,omitempty"`
}

type SendMessageRequest struct {
	Body                  string                     `json:"body"`
	ContentType           string                     `json:"contentType,omitempty"`
	ApplicationProperties map[string]json.RawMessage `json:"applicationProperties,omitempty"`
	TimeToLive            string                     `json:"timeToLive,omitempty"`
	ScheduledEnqueueTime  *time.Time                 `json:"scheduledEnqueueTime,omitempty"`
}

type BulkSendResult struct {
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
}

// Peek returns up to max messages without locking them. max is clamped to
// [1, MaxPeek]; values <= 0 mean MaxPeek.
func (s *Service) Peek(ctx context.Context, max int) (PagedResult[PeekedMessageInfo], *OpError) {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	client, info, ok := s.connectedLocked()
	if !ok {
		return PagedResult[PeekedMessageInfo]{}, s.fail(ctx, "peek", start, "", notConnected())
	}

	msgs, err := s.peekLocked(ctx, client, info, s.clampPeek(max))
	if err != nil {
		return PagedResult[PeekedMessageInfo]{}, s.fail(ctx, "peek", start, info.entity().String(), serviceBusError(err))
	}

	items := make([]PeekedMessageInfo, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, PeekedMessageInfo{
			MessageID:      m.MessageID,
			EnqueuedTime:   m.EnqueuedTime,
			SequenceNumber: m.SequenceNumber,
			SessionID:      m.SessionID,
		})
	}
	s.observe("peek", "ok", start)

	ev := activity.NewEvent(activity.KindPeeked, s.now())
	ev.Operation = "peek"
	ev.Entity = info.entity().String()
	ev.Count = len(items)
	s.publish(ctx, ev)

	return PagedResult[PeekedMessageInfo]{Items: items, TotalCount: len(items), HasMore: false}, nil
}

// PeekByID scans the first MaxPeek messages for messageID.
func (s *Service) PeekByID(ctx context.Context, messageID string) (Message, bool, *OpError) {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	client, info, ok := s.connectedLocked()
	if !ok {
		return Message{}, false, s.fail(ctx, "get", start, "", notConnected())
	}

	msgs, err := s.peekLocked(ctx, client, info, s.clampPeek(0))
	if err != nil {
		return Message{}, false, s.fail(ctx, "get", start, info.entity().String(), serviceBusError(err))
	}
	for _, m := range msgs {
		if m.MessageID == messageID {
			s.observe("get", "ok", start)
			return toMessage(m), true, nil
		}
	}
	s.observe("get", "empty", start)
	return Message{}, false, nil
}

func (s *Service) peekLocked(ctx context.Context, client servicebus.Client, info ConnectionInfo, max int) ([]*servicebus.ReceivedMessage, error) {
	r, err := client.NewReceiver(info.entity())
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close(context.WithoutCancel(ctx)) }()
	return r.PeekMessages(ctx, max)
}

// Receive takes one message in peek-lock mode, waiting at most ReceiveWait,
// and completes it. found is false when the entity had nothing to deliver.
func (s *Service) Receive(ctx context.Context) (Message, bool, *OpError) {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	client, info, ok := s.connectedLocked()
	if !ok {
		return Message{}, false, s.fail(ctx, "receive", start, "", notConnected())
	}
	entity := info.entity().String()

	r, err := client.NewReceiver(info.entity())
	if err != nil {
		return Message{}, false, s.fail(ctx, "receive", start, entity, serviceBusError(err))
	}
	defer func() { _ = r.Close(context.WithoutCancel(ctx)) }()

	rctx, cancel := context.WithTimeout(ctx, s.ReceiveWait)
	msgs, err := r.ReceiveMessages(rctx, 1)
	cancel()
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return Message{}, false, s.fail(ctx, "receive", start, entity, serviceBusError(err))
		}
		msgs = nil
	}
	if len(msgs) == 0 {
		s.observe("receive", "empty", start)
		return Message{}, false, nil
	}

	m := msgs[0]
	if err := r.CompleteMessage(ctx, m); err != nil {
		return Message{}, false, s.fail(ctx, "receive", start, entity, serviceBusError(err))
	}
	s.observeMessages("received", 1)
	s.observe("receive", "ok", start)

	ev := activity.NewEvent(activity.KindReceived, s.now())
	ev.Operation = "receive"
	ev.Entity = entity
	ev.MessageID = m.MessageID
	ev.Count = 1
	s.publish(ctx, ev)
	return toMessage(m), true, nil
}

// Send publishes one message to the connected queue or topic.
func (s *Service) Send(ctx context.Context, req SendMessageRequest) (string, *OpError) {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	client, info, ok := s.connectedLocked()
	if !ok {
		return "", s.fail(ctx, "send", start, "", notConnected())
	}

	id, opErr := s.sendLocked(ctx, client, info, req)
	if opErr != nil {
		return "", s.fail(ctx, "send", start, info.EntityName, opErr)
	}
	s.observeMessages("sent", 1)
	s.observe("send", "ok", start)

	ev := activity.NewEvent(activity.KindSent, s.now())
	ev.Operation = "send"
	ev.Entity = info.EntityName
	ev.MessageID = id
	ev.Count = 1
	s.publish(ctx, ev)
	return id, nil
}

// BulkSend sends every request in order and reports how many made it.
// At most MaxBulkErrors error strings are returned.
func (s *Service) BulkSend(ctx context.Context, reqs []SendMessageRequest) BulkSendResult {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := BulkSendResult{Errors: []string{}}
	client, info, ok := s.connectedLocked()
	for _, req := range reqs {
		var opErr *OpError
		if !ok {
			opErr = notConnected()
		} else {
			_, opErr = s.sendLocked(ctx, client, info, req)
		}
		if opErr != nil {
			out.Failed++
			if len(out.Errors) < s.MaxBulkErrors {
				out.Errors = append(out.Errors, opErr.Detail)
			}
			continue
		}
		out.Successful++
	}
	s.observeMessages("sent", out.Successful)

	outcome := "ok"
	if out.Failed > 0 {
		outcome = "partial"
	}
	s.observe("bulk_send", outcome, start)

	ev := activity.NewEvent(activity.KindBulkSent, s.now())
	ev.Operation = "bulk_send"
	ev.Entity = info.EntityName
	ev.Count = out.Successful
	if out.Failed > 0 {
		ev.Detail = strings.Join(out.Errors, "; ")
	}
	s.publish(ctx, ev)
	return out
}

func (s *Service) sendLocked(ctx context.Context, client servicebus.Client, info ConnectionInfo, req SendMessageRequest) (string, *OpError) {
	msg, opErr := buildMessage(req)
	if opErr != nil {
		return "", opErr
	}

	sender, err := client.NewSender(info.EntityName)
	if err != nil {
		return "", serviceBusError(err)
	}
	defer func() { _ = sender.Close(context.WithoutCancel(ctx)) }()

	if err := sender.SendMessage(ctx, msg); err != nil {
		return "", serviceBusError(err)
	}
	return msg.MessageID, nil
}

func buildMessage(req SendMessageRequest) (*servicebus.Message, *OpError) {
	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = defaultOutgoingContentType
	}
	msg := &servicebus.Message{
		MessageID:   uuid.NewString(),
		Body:        []byte(req.Body),
		ContentType: contentType,
	}
	if strings.TrimSpace(req.TimeToLive) != "" {
		ttl, err := ParseTimeToLive(req.TimeToLive)
		if err != nil {
			return nil, newOpError(CodeInvalidRequest, err.Error(), err)
		}
		msg.TimeToLive = &ttl
	}
	if req.ScheduledEnqueueTime != nil {
		at := req.ScheduledEnqueueTime.UTC()
		msg.ScheduledEnqueueTime = &at
	}
	if len(req.ApplicationProperties) > 0 {
		props, err := CoerceProperties(req.ApplicationProperties)
		if err != nil {
			return nil, newOpError(CodeInvalidRequest, err.Error(), err)
		}
		msg.ApplicationProperties = props
	}
	return msg, nil
}

// ListEntities returns the configured queues and topics. It requires a
// connection, like the rest of the entity-scoped API.
func (s *Service) ListEntities(ctx context.Context) ([]string, *OpError) {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, ok := s.connectedLocked(); !ok {
		return nil, s.fail(ctx, "entities", start, "", notConnected())
	}
	out := []string{}
	if s.Entities != nil {
		out = append(out, s.Entities()...)
	}
	s.observe("entities", "ok", start)
	return out, nil
}

func (s *Service) clampPeek(max int) int {
	limit := s.MaxPeek
	if limit <= 0 {
		limit = 100
	}
	if max <= 0 || max > limit {
		return limit
	}
	return max
}

func toMessage(m *servicebus.ReceivedMessage) Message {
	out := Message{
		MessageID:             m.MessageID,
		Body:                  bodyString(m.Body),
		ContentType:           m.ContentType,
		EnqueuedTime:          m.EnqueuedTime,
		ApplicationProperties: m.ApplicationProperties,
		SequenceNumber:        m.SequenceNumber,
		SessionID:             m.SessionID,
		DeliveryCount:         m.DeliveryCount,
		LockedUntil:           m.LockedUntil,
		DeadLetterReason:      m.DeadLetterReason,
	}
	if out.ContentType == "" {
		out.ContentType = defaultContentType
	}
	if out.ApplicationProperties == nil {
		out.ApplicationProperties = map[string]any{}
	}
	if m.TimeToLive != nil {
		out.TimeToLive = FormatTimeSpan(*m.TimeToLive)
	}
	return out
}

func bodyString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}
