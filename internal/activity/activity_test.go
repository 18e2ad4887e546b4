package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_FanOut(t *testing.T) {
	bus := NewMemoryBus()
	var a, b []Event
	unsubA, err := bus.Subscribe(func(e Event) { a = append(a, e) })
	require.NoError(t, err)
	_, err = bus.Subscribe(func(e Event) { b = append(b, e) })
	require.NoError(t, err)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, bus.Publish(context.Background(), NewEvent(KindSent, now)))
	unsubA()
	unsubA()
	require.NoError(t, bus.Publish(context.Background(), NewEvent(KindPeeked, now)))

	require.Len(t, a, 1)
	require.Len(t, b, 2)
	assert.Equal(t, KindSent, a[0].Kind)
	assert.Equal(t, KindPeeked, b[1].Kind)
	assert.NotEmpty(t, a[0].ID)
}

func TestMemoryBus_Closed(t *testing.T) {
	bus := NewMemoryBus()
	require.NoError(t, bus.Close())
	require.ErrorIs(t, bus.Close(), ErrClosed)
	require.ErrorIs(t, bus.Publish(context.Background(), Event{}), ErrClosed)
	_, err := bus.Subscribe(func(Event) {})
	require.ErrorIs(t, err, ErrClosed)
}

func TestEventCodec(t *testing.T) {
	e := NewEvent(KindReceived, time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600)))
	e.Entity = "orders"
	e.MessageID = "m1"
	assert.Equal(t, "sbinspect.activity.received", e.Subject())
	assert.Equal(t, time.UTC, e.At.Location())

	data, err := Encode(e)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = Decode([]byte("{"))
	require.Error(t, err)
}
