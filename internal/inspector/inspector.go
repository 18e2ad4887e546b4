// Package inspector owns the single Service Bus connection of the process
// and the message operations performed against it.
package inspector

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nuetzliches/sbinspect/internal/activity"
	"github.com/nuetzliches/sbinspect/internal/connstr"
	"github.com/nuetzliches/sbinspect/internal/servicebus"
)

const (
	EntityTypeQueue = "Queue"
	EntityTypeTopic = "Topic"
)

type ConnectionRequest struct {
	ConnectionString string `json:"connectionString"`
	EntityName       string `json:"entityName,omitempty"`
	SubscriptionName string `json:"subscriptionName,omitempty"`
}

type ConnectionInfo struct {
	Host             string `json:"host"`
	EntityType       string `json:"entityType"`
	EntityName       string `json:"entityName"`
	SubscriptionName string `json:"subscriptionName,omitempty"`
	IsConnected      bool   `json:"isConnected"`
	IsEmulator       bool   `json:"isEmulator"`
}

func (c ConnectionInfo) entity() servicebus.Entity {
	return servicebus.Entity{Name: c.EntityName, Subscription: c.SubscriptionName}
}

// Service holds zero or one live client. All operations are serialized
// against it.
type Service struct {
	Dial     servicebus.Dialer
	Entities func() []string
	Activity activity.Publisher
	Logger   *slog.Logger
	Now      func() time.Time

	// ObserveOperation is called once per public operation with its
	// outcome ("ok", "empty" or an error code).
	ObserveOperation func(op, outcome string, elapsed time.Duration)
	// ObserveConnection is called after every connect and disconnect.
	ObserveConnection func(info ConnectionInfo, connected bool)
	// ObserveMessages counts messages moved in direction "sent" or "received".
	ObserveMessages func(direction string, n int)

	ValidateTimeout time.Duration
	ReceiveWait     time.Duration
	MaxPeek         int
	MaxBulkErrors   int

	// mu serializes operations. stateMu guards client and current so that
	// Current does not wait behind a slow operation.
	mu      sync.Mutex
	stateMu sync.RWMutex
	client  servicebus.Client
	current *ConnectionInfo
}

func NewService(dial servicebus.Dialer) *Service {
	return &Service{
		Dial:            dial,
		Now:             time.Now,
		ValidateTimeout: 5 * time.Second,
		ReceiveWait:     100 * time.Millisecond,
		MaxPeek:         100,
		MaxBulkErrors:   10,
	}
}

// Current returns the active connection, if any. It does not block on
// in-flight operations.
func (s *Service) Current() (ConnectionInfo, bool) {
	_, info, ok := s.connectedLocked()
	return info, ok
}

// Connect replaces any existing connection. The new client is validated by
// peeking one message; a missing entity is tolerated.
func (s *Service) Connect(ctx context.Context, req ConnectionRequest) (ConnectionInfo, *OpError) {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, ok := s.connectedLocked(); ok {
		_ = s.disconnectLocked(ctx)
	}

	connStr := strings.TrimSpace(req.ConnectionString)
	entityName := strings.TrimSpace(req.EntityName)
	subscription := strings.TrimSpace(req.SubscriptionName)
	if connStr == "" {
		return ConnectionInfo{}, s.fail(ctx, "connect", start, entityName,
			newOpError(CodeInvalidRequest, requiredDetail, nil))
	}

	parsed, err := connstr.Parse(connStr)
	if err != nil {
		return ConnectionInfo{}, s.fail(ctx, "connect", start, entityName,
			newOpError(CodeInvalidRequest, err.Error(), err))
	}
	// An entity-scoped connection string names its queue or topic.
	if entityName == "" {
		entityName = parsed.EntityPath
	}
	if entityName == "" {
		return ConnectionInfo{}, s.fail(ctx, "connect", start, entityName,
			newOpError(CodeInvalidRequest, requiredDetail, nil))
	}
	host := parsed.Host
	isEmulator := connstr.IsEmulatorHost(host)
	logger := s.logger().With(slog.String("host", host), slog.String("entity", entityName))

	client, err := s.Dial(connStr)
	if err != nil {
		return ConnectionInfo{}, s.fail(ctx, "connect", start, entityName,
			newOpError(CodeConnectionFailed, err.Error(), err))
	}

	info := ConnectionInfo{
		Host:             host,
		EntityType:       EntityTypeQueue,
		EntityName:       entityName,
		SubscriptionName: subscription,
		IsConnected:      true,
		IsEmulator:       isEmulator,
	}
	if subscription != "" {
		info.EntityType = EntityTypeTopic
	}

	logger.Info("connect_validating")
	if err := s.validate(ctx, client, info.entity()); err != nil {
		if servicebus.IsNotFound(err) {
			logger.Warn("connect_entity_not_found")
		} else {
			_ = client.Close(context.WithoutCancel(ctx))
			logger.Error("connect_validation_failed", slog.Any("err", err))
			return ConnectionInfo{}, s.fail(ctx, "connect", start, entityName,
				newOpError(CodeConnectionFailed, unreachableDetail(host, isEmulator), err))
		}
	}

	s.setConnection(client, &info)
	logger.Info("connect_ok",
		slog.String("subscription", subscription),
		slog.Bool("emulator", isEmulator),
		slog.String("connection_string", connstr.Redact(connStr)),
	)
	s.observeConnection(info, true)
	s.observe("connect", "ok", start)

	ev := activity.NewEvent(activity.KindConnected, s.now())
	ev.Operation = "connect"
	ev.Entity = info.entity().String()
	ev.Detail = host
	s.publish(ctx, ev)
	return info, nil
}

func (s *Service) validate(ctx context.Context, client servicebus.Client, entity servicebus.Entity) error {
	r, err := client.NewReceiver(entity)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close(context.WithoutCancel(ctx)) }()

	vctx, cancel := context.WithTimeout(ctx, s.ValidateTimeout)
	defer cancel()
	_, err = r.PeekMessages(vctx, 1)
	return err
}

const requiredDetail = "Connection string and entity name are required"

func unreachableDetail(host string, emulator bool) string {
	if emulator {
		return "Cannot connect to Service Bus Emulator at " + host + ". Ensure the emulator is running and accessible."
	}
	return "Cannot connect to Service Bus at " + host + ". Please check your connection string and network connectivity."
}

// Disconnect closes the client if there is one. It is idempotent.
func (s *Service) Disconnect(ctx context.Context) *OpError {
	start := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.disconnectLocked(ctx); err != nil {
		return s.fail(ctx, "disconnect", start, "", serviceBusError(err))
	}
	s.observe("disconnect", "ok", start)
	return nil
}

func (s *Service) disconnectLocked(ctx context.Context) error {
	s.stateMu.Lock()
	prev := s.current
	client := s.client
	s.client = nil
	s.current = nil
	s.stateMu.Unlock()

	var err error
	if client != nil {
		err = client.Close(ctx)
	}
	if prev != nil {
		s.observeConnection(*prev, false)
		ev := activity.NewEvent(activity.KindDisconnected, s.now())
		ev.Operation = "disconnect"
		ev.Entity = prev.entity().String()
		s.publish(ctx, ev)
	}
	if err != nil {
		s.logger().Error("disconnect_failed", slog.Any("err", err))
		return err
	}
	s.logger().Info("disconnect_ok")
	return nil
}

// Close releases the client on shutdown.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectLocked(ctx)
}

func (s *Service) connectedLocked() (servicebus.Client, ConnectionInfo, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.client == nil || s.current == nil {
		return nil, ConnectionInfo{}, false
	}
	return s.client, *s.current, true
}

func (s *Service) setConnection(client servicebus.Client, info *ConnectionInfo) {
	s.stateMu.Lock()
	s.client = client
	s.current = info
	s.stateMu.Unlock()
}

func (s *Service) fail(ctx context.Context, op string, start time.Time, entity string, opErr *OpError) *OpError {
	if opErr.Code != CodeNotConnected && opErr.Code != CodeInvalidRequest {
		s.logger().Error(op+"_failed", slog.String("code", opErr.Code), slog.String("detail", opErr.Detail))
	}
	s.observe(op, opErr.Code, start)

	ev := activity.NewEvent(activity.KindError, s.now())
	ev.Operation = op
	ev.Entity = entity
	ev.Detail = opErr.Detail
	s.publish(ctx, ev)
	return opErr
}

func (s *Service) observe(op, outcome string, start time.Time) {
	if s.ObserveOperation != nil {
		s.ObserveOperation(op, outcome, s.now().Sub(start))
	}
}

func (s *Service) observeConnection(info ConnectionInfo, connected bool) {
	if s.ObserveConnection != nil {
		s.ObserveConnection(info, connected)
	}
}

func (s *Service) observeMessages(direction string, n int) {
	if s.ObserveMessages != nil && n > 0 {
		s.ObserveMessages(direction, n)
	}
}

func (s *Service) publish(ctx context.Context, ev activity.Event) {
	if s.Activity == nil {
		return
	}
	if err := s.Activity.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.logger().Debug("activity_publish_failed", slog.String("kind", string(ev.Kind)), slog.Any("err", err))
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
