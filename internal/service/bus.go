package service

import (
	"sync"
	"sync/atomic"
)

// Change describes a session mutation.
type Change struct {
	Session string // session id
	Kind    string // "filter", "visibility", "viewport", "mutation", "closed"
	Payload any
}

// SubscriptionBuffer is the number of changes a subscriber may fall behind
// before changes are lost.
const SubscriptionBuffer = 16

// Subscription receives the changes of one session, or of every session
// when subscribed with an empty id.
type Subscription struct {
	session string
	c       chan Change
	lost    atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// C returns the change channel. It is closed by Unsubscribe.
func (s *Subscription) C() <-chan Change { return s.c }

// Done is closed once the session has ended, even when the closing change
// itself did not fit in the buffer.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Lost reports whether changes were dropped because the buffer was full
// since the last call, and clears the flag. A subscriber that sees true
// must resynchronise from the session's current state.
func (s *Subscription) Lost() bool { return s.lost.Swap(false) }

func (s *Subscription) end() { s.once.Do(func() { close(s.done) }) }

// EventBus fans session changes out to subscribers of that session.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string]map[*Subscription]struct{})}
}

// Publish sends a change to the subscribers of its session without
// blocking. A full subscriber is marked as having lost changes.
func (b *EventBus) Publish(c Change) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.deliver(b.subs[c.Session], c)
	if c.Session != "" {
		b.deliver(b.subs[""], c)
	}
}

func (b *EventBus) deliver(subs map[*Subscription]struct{}, c Change) {
	for sub := range subs {
		if c.Kind == ChangeClosed && c.Session != "" && sub.session == c.Session {
			sub.end()
		}
		select {
		case sub.c <- c:
		default:
			sub.lost.Store(true)
		}
	}
}

// Subscribe registers for the changes of session; an empty session
// receives every change.
func (b *EventBus) Subscribe(session string) *Subscription {
	sub := &Subscription{
		session: session,
		c:       make(chan Change, SubscriptionBuffer),
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	if b.subs[session] == nil {
		b.subs[session] = make(map[*Subscription]struct{})
	}
	b.subs[session][sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs[sub.session], sub)
	if len(b.subs[sub.session]) == 0 {
		delete(b.subs, sub.session)
	}
	b.mu.Unlock()
	close(sub.c)
}

// Subscribers returns the number of live subscriptions to session.
func (b *EventBus) Subscribers(session string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[session])
}
