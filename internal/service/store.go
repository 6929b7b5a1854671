package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-bikemap/internal/metrics"
)

// Builder prepares a new session, typically loading sources, adding layers
// and binding interaction handlers.
type Builder func(ctx context.Context, s *MapSession) error

// SessionStore holds one MapSession per browser tab.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*MapSession

	cfg     SessionConfig
	fetcher *SourceService
	build   Builder
	bus     *EventBus
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSessionStore creates a store whose sessions are prepared by build.
func NewSessionStore(cfg SessionConfig, fetcher *SourceService, build Builder, bus *EventBus, log *zap.Logger, m *metrics.Metrics) *SessionStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionStore{
		sessions: make(map[string]*MapSession),
		cfg:      cfg,
		fetcher:  fetcher,
		build:    build,
		bus:      bus,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// Create builds and stores a new session. Source fetch failures do not fail
// creation; the builder decides which errors are fatal.
func (st *SessionStore) Create(ctx context.Context) (*MapSession, error) {
	id := uuid.NewString()
	s := NewMapSession(st.cfg, st.fetcher,
		WithID(id),
		WithEventBus(st.bus),
		WithLogger(st.log.With(zap.String("session", id))),
		WithMetrics(st.metrics),
	)
	s.Touch(st.now())
	if st.build != nil {
		if err := st.build(ctx, s); err != nil {
			return nil, fmt.Errorf("build session: %w", err)
		}
	}

	st.mu.Lock()
	st.sessions[id] = s
	n := len(st.sessions)
	st.mu.Unlock()

	st.metrics.SetActiveSessions(n)
	st.log.Info("session created", zap.String("session", id))
	return s, nil
}

// Get returns a session and records activity on it.
func (st *SessionStore) Get(id string) (*MapSession, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Touch(st.now())
	return s, nil
}

// Delete removes a session.
func (st *SessionStore) Delete(id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	n := len(st.sessions)
	st.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Close()
	st.metrics.SetActiveSessions(n)
	return nil
}

// Len returns the number of live sessions.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep removes sessions idle for longer than maxIdle and returns how many
// were removed.
func (st *SessionStore) Sweep(maxIdle time.Duration) int {
	cutoff := st.now().Add(-maxIdle)
	var expired []*MapSession

	st.mu.Lock()
	for id, s := range st.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	n := len(st.sessions)
	st.mu.Unlock()

	for _, s := range expired {
		s.Close()
		st.log.Info("session expired", zap.String("session", s.ID()))
	}
	if len(expired) > 0 {
		st.metrics.SetActiveSessions(n)
	}
	return len(expired)
}

// Janitor sweeps idle sessions every interval until ctx is done.
func (st *SessionStore) Janitor(ctx context.Context, interval, maxIdle time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st.Sweep(maxIdle)
		}
	}
}
