package viewer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-bikemap/internal/panel"
	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/style"
)

// mapMirror applies stream commands the way the page script does and
// keeps the resulting browser-side state.
type mapMirror struct {
	mu      sync.Mutex
	hover   map[string]map[service.FeatureID]bool
	hidden  map[string]bool
	resets  int
	errors  []string
	signals map[string]any
}

func newMapMirror() *mapMirror {
	return &mapMirror{
		hover:   map[string]map[service.FeatureID]bool{},
		hidden:  map[string]bool{},
		signals: map[string]any{},
	}
}

func (m *mapMirror) Command(name string, detail any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case CmdFeatureState:
		var d struct {
			Reset  []string                     `json:"reset"`
			States []service.FeatureStateChange `json:"states"`
		}
		if err := json.Unmarshal(raw, &d); err != nil {
			return err
		}
		for _, source := range d.Reset {
			delete(m.hover, source)
			m.resets++
		}
		for _, s := range d.States {
			if m.hover[s.Source] == nil {
				m.hover[s.Source] = map[service.FeatureID]bool{}
			}
			if on, ok := s.State[style.HoverState].(bool); ok {
				m.hover[s.Source][s.ID] = on
			}
		}
	case CmdVisibility:
		var d service.LayerVisibility
		if err := json.Unmarshal(raw, &d); err != nil {
			return err
		}
		for _, l := range d.Layers {
			m.hidden[l] = !d.Visible
		}
	}
	return nil
}

func (m *mapMirror) Signals(signals map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range signals {
		m.signals[k] = v
	}
}

func (m *mapMirror) Error(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mapMirror) highlighted(source string) []service.FeatureID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []service.FeatureID
	for id, on := range m.hover[source] {
		if on {
			out = append(out, id)
		}
	}
	return out
}

func (m *mapMirror) resetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

func (m *mapMirror) isHidden(layer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hidden[layer]
}

func (m *mapMirror) errorList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errors...)
}

// follower runs the change stream for s into a mirror until stopped.
type follower struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startFollow(f fixture, s *service.MapSession, sub *service.Subscription, out *mapMirror) *follower {
	ctx, cancel := context.WithCancel(context.Background())
	fl := &follower{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(fl.done)
		f.handler.follow(ctx, s, sub, out)
	}()
	return fl
}

func (fl *follower) stop(t *testing.T) {
	t.Helper()
	fl.cancel()
	select {
	case <-fl.done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func move(t *testing.T, s *service.MapSession, id service.FeatureID) {
	t.Helper()
	_, err := s.Dispatch(service.PointerEvent{
		Kind:     service.PointerMove,
		Layer:    style.LayerBike,
		Features: []service.FeatureRef{{ID: id}},
	})
	require.NoError(t, err)
}

func TestFollow_ResyncsAfterFallingBehind(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)
	sub := f.bus.Subscribe(s.ID())
	defer f.bus.Unsubscribe(sub)
	mirror := newMapMirror()

	fl := startFollow(f, s, sub, mirror)
	move(t, s, 1)
	assert.Eventually(t, func() bool {
		got := mirror.highlighted(style.SourceBikeways)
		return len(got) == 1 && got[0] == 1
	}, 2*time.Second, 5*time.Millisecond)
	fl.stop(t)

	// Nobody reads while the pointer keeps moving and then leaves.
	for i := 0; i < 20; i++ {
		move(t, s, service.FeatureID(i%2))
	}
	_, err := s.Dispatch(service.PointerEvent{Kind: service.PointerLeave, Layer: style.LayerBike})
	require.NoError(t, err)
	require.NoError(t, panel.SetDataset(s, style.Parking.Key, false))

	fl = startFollow(f, s, sub, mirror)
	defer fl.stop(t)
	assert.Eventually(t, func() bool { return mirror.resetCount() > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(mirror.highlighted(style.SourceBikeways)) == 0 && mirror.isHidden(style.LayerParkingClustered)
	}, 2*time.Second, 5*time.Millisecond)

	for _, st := range s.FeatureStates() {
		assert.NotEqual(t, true, st.State[style.HoverState], "feature %d still hovered", st.ID)
	}
	for _, l := range style.Parking.Layers() {
		assert.True(t, mirror.isHidden(l), l)
	}
	assert.False(t, mirror.isHidden(style.LayerBike))
	assert.Empty(t, mirror.errorList())
}

func TestFollow_OtherSessionsDoNotFillTheBuffer(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)
	other := f.session(t)
	sub := f.bus.Subscribe(s.ID())
	defer f.bus.Unsubscribe(sub)

	for i := 0; i < 3*service.SubscriptionBuffer; i++ {
		move(t, other, service.FeatureID(i%2))
	}
	assert.Empty(t, sub.C())
	assert.False(t, sub.Lost())
}

func TestFollow_HeartbeatKeepsSessionAlive(t *testing.T) {
	f := newFixture(t, nil)
	f.handler.heartbeat = 5 * time.Millisecond
	s := f.session(t)
	s.Touch(time.Now().Add(-time.Hour))

	sub := f.bus.Subscribe(s.ID())
	defer f.bus.Unsubscribe(sub)
	mirror := newMapMirror()
	fl := startFollow(f, s, sub, mirror)
	defer fl.stop(t)

	assert.Eventually(t, func() bool {
		return time.Since(s.LastSeen()) < time.Minute
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, f.store.Sweep(30*time.Minute))

	require.NoError(t, f.store.Delete(s.ID()))
	assert.Eventually(t, func() bool {
		errs := mirror.errorList()
		return len(errs) == 1 && errs[0] == expiredMessage
	}, 2*time.Second, 5*time.Millisecond)
}

func TestResync(t *testing.T) {
	f := newFixture(t, nil)
	s := f.session(t)
	require.NoError(t, panel.SelectLength(s, panel.LengthLong))
	require.NoError(t, s.SetFeatureState(style.SourceBikeways, 0, map[string]any{style.HoverState: true}))

	u := f.handler.resync(s)
	names := map[string]int{}
	for _, c := range u.Commands {
		names[c.Name]++
	}
	assert.Equal(t, len(s.Layers()), names[CmdFilter])
	assert.Equal(t, 1, names[CmdVisibility], "every layer visible")
	assert.Equal(t, 1, names[CmdFeatureState])
	assert.Equal(t, 1, names[CmdCursor])
	assert.Equal(t, 1, names[CmdPopupClose])
	assert.Equal(t, "1", u.Signals[SignalLength])
	assert.Equal(t, true, u.Signals[style.Parking.Key])
}
