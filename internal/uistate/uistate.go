// Package uistate persists what the inspector UI wants to survive a reload:
// preferences, the last connection, the last peek per entity and the
// activity feed.
package uistate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nuetzliches/sbinspect/internal/activity"
	"github.com/nuetzliches/sbinspect/internal/connstr"
)

const DefaultActivityRetention = 500

var ErrInvalidState = errors.New("invalid ui state")

type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

type LastConnection struct {
	ConnectionString string `json:"connectionString"`
	EntityName       string `json:"entityName"`
	SubscriptionName string `json:"subscriptionName,omitempty"`
}

type UIState struct {
	Theme            Theme           `json:"theme"`
	SidebarCollapsed bool            `json:"sidebarCollapsed"`
	SendFormOpen     bool            `json:"sendFormOpen"`
	SelectedScenario string          `json:"selectedScenario,omitempty"`
	LastConnection   *LastConnection `json:"lastConnection,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// DefaultState is returned by Get before anything was stored.
func DefaultState() UIState {
	return UIState{Theme: ThemeSystem}
}

type SnapshotMessage struct {
	MessageID      string    `json:"messageId"`
	EnqueuedTime   time.Time `json:"enqueuedTime"`
	SequenceNumber int64     `json:"sequenceNumber"`
	SessionID      string    `json:"sessionId,omitempty"`
}

// Snapshot is the last peek result taken for one entity.
type Snapshot struct {
	Entity   string            `json:"entity"`
	Messages []SnapshotMessage `json:"messages"`
	TakenAt  time.Time         `json:"takenAt"`
}

// Store is implemented by the memory, SQLite and Postgres backends.
type Store interface {
	Get(ctx context.Context) (UIState, error)
	// Put validates and stores st, returning the stored form.
	Put(ctx context.Context, st UIState) (UIState, error)

	SaveSnapshot(ctx context.Context, entity string, msgs []SnapshotMessage) error
	Snapshot(ctx context.Context, entity string) (Snapshot, bool, error)

	AppendActivity(ctx context.Context, e activity.Event) error
	// ListActivity returns at most limit events, newest first.
	ListActivity(ctx context.Context, limit int) ([]activity.Event, error)

	Close() error
}

type Option func(*options)

type options struct {
	now       func() time.Time
	retention int
}

func WithNowFunc(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithActivityRetention caps the number of stored activity events.
func WithActivityRetention(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.retention = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, retention: DefaultActivityRetention}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// normalize validates st and strips secrets. The connection string is kept
// only in redacted form.
func normalize(st UIState, now time.Time) (UIState, error) {
	st.Theme = Theme(strings.ToLower(strings.TrimSpace(string(st.Theme))))
	switch st.Theme {
	case "":
		st.Theme = ThemeSystem
	case ThemeLight, ThemeDark, ThemeSystem:
	default:
		return UIState{}, fmt.Errorf("%w: unknown theme %q", ErrInvalidState, st.Theme)
	}
	st.SelectedScenario = strings.TrimSpace(st.SelectedScenario)
	if st.LastConnection != nil {
		lc := *st.LastConnection
		lc.EntityName = strings.TrimSpace(lc.EntityName)
		lc.SubscriptionName = strings.TrimSpace(lc.SubscriptionName)
		if strings.TrimSpace(lc.ConnectionString) != "" {
			lc.ConnectionString = connstr.Redact(lc.ConnectionString)
		}
		if lc.EntityName == "" {
			return UIState{}, fmt.Errorf("%w: last connection requires an entity name", ErrInvalidState)
		}
		st.LastConnection = &lc
	}
	st.UpdatedAt = now.UTC()
	return st, nil
}

func normalizeEntity(entity string) (string, error) {
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return "", fmt.Errorf("%w: empty entity", ErrInvalidState)
	}
	return entity, nil
}

func cloneMessages(in []SnapshotMessage) []SnapshotMessage {
	out := make([]SnapshotMessage, len(in))
	copy(out, in)
	return out
}

func clampLimit(limit, retention int) int {
	if limit <= 0 || limit > retention {
		return retention
	}
	return limit
}
