package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

type NATSConfig struct {
	URL     string
	Name    string
	Timeout time.Duration
}

// NATSBus publishes events to NATS subjects under SubjectPrefix and
// subscribes with a wildcard, so several inspectors can share one feed.
type NATSBus struct {
	conn   *nats.Conn
	logger *slog.Logger
	closed atomic.Bool
}

func NewNATSBus(cfg NATSConfig, logger *slog.Logger) (*NATSBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "sbinspect"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewNATSBusFromConn(conn, logger), nil
}

// NewNATSBusFromConn wraps an existing connection. The bus owns it.
func NewNATSBusFromConn(conn *nats.Conn, logger *slog.Logger) *NATSBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBus{conn: conn, logger: logger}
}

func (b *NATSBus) Publish(ctx context.Context, e Event) error {
	if b.closed.Load() {
		return ErrClosed
	}
	data, err := Encode(e)
	if err != nil {
		return err
	}
	return b.conn.Publish(e.Subject(), data)
}

func (b *NATSBus) Subscribe(h Handler) (func(), error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub, err := b.conn.Subscribe(SubjectPrefix+"*", func(msg *nats.Msg) {
		e, err := Decode(msg.Data)
		if err != nil {
			b.logger.Warn("activity_decode_failed", slog.String("subject", msg.Subject), slog.Any("err", err))
			return
		}
		h(e)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
