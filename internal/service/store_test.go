package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore(t *testing.T) {
	bus := NewEventBus()
	built := 0
	st := NewSessionStore(DefaultSessionConfig(), nil, func(_ context.Context, s *MapSession) error {
		built++
		return s.LoadCollection(SourceDef{Name: "bikeways"}, bikeways())
	}, bus, nil, nil)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	a, err := st.Create(context.Background())
	require.NoError(t, err)
	b, err := st.Create(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Len(t, a.ID(), 36)
	assert.Equal(t, 2, built)
	assert.Equal(t, 2, st.Len())

	got, err := st.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = st.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	t.Run("sweep idle", func(t *testing.T) {
		sub := bus.Subscribe(a.ID())
		defer bus.Unsubscribe(sub)

		now = now.Add(20 * time.Minute)
		_, _ = st.Get(b.ID()) // b stays active
		now = now.Add(20 * time.Minute)

		assert.Equal(t, 1, st.Sweep(30*time.Minute))
		assert.Equal(t, 1, st.Len())
		_, err := st.Get(a.ID())
		assert.ErrorIs(t, err, ErrSessionNotFound)

		c := <-sub.C()
		assert.Equal(t, ChangeClosed, c.Kind)
		assert.Equal(t, a.ID(), c.Session)
		select {
		case <-sub.Done():
		default:
			t.Fatal("subscription not ended with its session")
		}
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, st.Delete(b.ID()))
		assert.Zero(t, st.Len())
		assert.ErrorIs(t, st.Delete(b.ID()), ErrSessionNotFound)
	})
}

func TestSessionStore_BuildFailure(t *testing.T) {
	boom := errors.New("boom")
	st := NewSessionStore(DefaultSessionConfig(), nil, func(context.Context, *MapSession) error {
		return boom
	}, nil, nil, nil)

	_, err := st.Create(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, st.Len())
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	a, b, all := bus.Subscribe("a"), bus.Subscribe("b"), bus.Subscribe("")

	bus.Publish(Change{Session: "a", Kind: ChangeFilter})
	assert.Equal(t, ChangeFilter, (<-a.C()).Kind)
	assert.Equal(t, "a", (<-all.C()).Session)
	assert.Empty(t, b.C(), "other sessions see nothing")

	bus.Unsubscribe(a)
	_, open := <-a.C()
	assert.False(t, open)
	assert.Zero(t, bus.Subscribers("a"))
	assert.Equal(t, 1, bus.Subscribers("b"))

	var nilBus *EventBus
	assert.NotPanics(t, func() { nilBus.Publish(Change{}) })
	bus.Unsubscribe(b)
	bus.Unsubscribe(all)
}

func TestEventBus_Overflow(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe("s")
	defer bus.Unsubscribe(sub)

	for i := 0; i < SubscriptionBuffer; i++ {
		bus.Publish(Change{Session: "s", Kind: ChangeMutation})
	}
	assert.False(t, sub.Lost())

	bus.Publish(Change{Session: "s", Kind: ChangeMutation})
	bus.Publish(Change{Session: "s", Kind: ChangeClosed})
	assert.Len(t, sub.C(), SubscriptionBuffer)
	assert.True(t, sub.Lost())
	assert.False(t, sub.Lost(), "flag clears once read")

	// The closing change did not fit, but the end is still signalled.
	select {
	case <-sub.Done():
	default:
		t.Fatal("dropped close not signalled")
	}
}
