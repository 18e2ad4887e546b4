package uistate

import (
	"context"
	"sync"

	"github.com/nuetzliches/sbinspect/internal/activity"
)

type MemoryStore struct {
	opts options

	mu        sync.RWMutex
	state     UIState
	snapshots map[string]Snapshot
	events    []activity.Event
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:      buildOptions(opts),
		state:     DefaultState(),
		snapshots: make(map[string]Snapshot),
	}
}

func (s *MemoryStore) Get(context.Context) (UIState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state), nil
}

func (s *MemoryStore) Put(_ context.Context, st UIState) (UIState, error) {
	st, err := normalize(st, s.opts.now())
	if err != nil {
		return UIState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = cloneState(st)
	return st, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, entity string, msgs []SnapshotMessage) error {
	entity, err := normalizeEntity(entity)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[entity] = Snapshot{
		Entity:   entity,
		Messages: cloneMessages(msgs),
		TakenAt:  s.opts.now().UTC(),
	}
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context, entity string) (Snapshot, bool, error) {
	entity, err := normalizeEntity(entity)
	if err != nil {
		return Snapshot{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[entity]
	if !ok {
		return Snapshot{}, false, nil
	}
	snap.Messages = cloneMessages(snap.Messages)
	return snap, true, nil
}

func (s *MemoryStore) AppendActivity(_ context.Context, e activity.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	if over := len(s.events) - s.opts.retention; over > 0 {
		s.events = append([]activity.Event(nil), s.events[over:]...)
	}
	return nil
}

func (s *MemoryStore) ListActivity(_ context.Context, limit int) ([]activity.Event, error) {
	limit = clampLimit(limit, s.opts.retention)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]activity.Event, 0, min(limit, len(s.events)))
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneState(st UIState) UIState {
	if st.LastConnection != nil {
		lc := *st.LastConnection
		st.LastConnection = &lc
	}
	return st
}
