package storage

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var subscriptionsActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "todosync_subscriptions_active",
		Help: "Number of live snapshot subscriptions",
	},
)

// Hub fans snapshots out to the subscribers of each scope. Every subscription
// gets its own delivery goroutine, so a slow subscriber never blocks a writer
// and callbacks of one subscription run one at a time, in publish order.
type Hub struct {
	mu     sync.RWMutex
	scopes map[string]map[Handle]*subscription
	byID   map[Handle]*subscription
}

func NewHub() *Hub {
	return &Hub{
		scopes: make(map[string]map[Handle]*subscription),
		byID:   make(map[Handle]*subscription),
	}
}

// Add registers a subscriber for scope and delivers initial to it first.
func (h *Hub) Add(scope string, initial Snapshot, onSnapshot SnapshotFunc, onError ErrorFunc) Handle {
	sub := newSubscription(scope, onSnapshot, onError)
	sub.push(event{snapshot: slices.Clone(initial), isSnapshot: true})

	h.mu.Lock()
	subs, ok := h.scopes[scope]
	if !ok {
		subs = make(map[Handle]*subscription)
		h.scopes[scope] = subs
	}
	subs[sub.handle] = sub
	h.byID[sub.handle] = sub
	h.mu.Unlock()

	subscriptionsActive.Inc()
	go sub.run()
	return sub.handle
}

// Remove stops the subscription and drops its queued events. It does not wait
// for a callback in progress, so it is safe to call from one; that callback
// may still be running when Remove returns. Unknown and already removed
// handles are ignored.
func (h *Hub) Remove(handle Handle) {
	h.mu.Lock()
	sub, ok := h.byID[handle]
	if ok {
		delete(h.byID, handle)
		if subs := h.scopes[sub.scope]; subs != nil {
			delete(subs, handle)
			if len(subs) == 0 {
				delete(h.scopes, sub.scope)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		sub.stop()
		subscriptionsActive.Dec()
	}
}

// Publish queues snap for every subscriber of scope.
func (h *Hub) Publish(scope string, snap Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.scopes[scope] {
		sub.push(event{snapshot: slices.Clone(snap), isSnapshot: true})
	}
}

// Fail queues err for every subscriber of scope.
func (h *Hub) Fail(scope string, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.scopes[scope] {
		sub.push(event{err: err})
	}
}

// FailAll queues err for every subscriber of every scope.
func (h *Hub) FailAll(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, subs := range h.scopes {
		for _, sub := range subs {
			sub.push(event{err: err})
		}
	}
}

// Active reports whether scope has at least one subscriber.
func (h *Hub) Active(scope string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.scopes[scope]) > 0
}

// Scopes lists the scopes that currently have subscribers.
func (h *Hub) Scopes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	scopes := make([]string, 0, len(h.scopes))
	for scope := range h.scopes {
		scopes = append(scopes, scope)
	}
	return scopes
}

// Close removes every subscription.
func (h *Hub) Close() {
	h.mu.RLock()
	handles := make([]Handle, 0, len(h.byID))
	for handle := range h.byID {
		handles = append(handles, handle)
	}
	h.mu.RUnlock()

	for _, handle := range handles {
		h.Remove(handle)
	}
}

type event struct {
	snapshot   Snapshot
	isSnapshot bool
	err        error
}

type subscription struct {
	handle     Handle
	scope      string
	onSnapshot SnapshotFunc
	onError    ErrorFunc

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []event
	closed bool
}

func newSubscription(scope string, onSnapshot SnapshotFunc, onError ErrorFunc) *subscription {
	sub := &subscription{
		handle:     Handle(uuid.NewString()),
		scope:      scope,
		onSnapshot: onSnapshot,
		onError:    onError,
	}
	sub.cond = sync.NewCond(&sub.mu)
	return sub
}

// push appends ev. A pending snapshot is superseded by a newer one, since every
// snapshot carries the full collection.
func (s *subscription) push(ev event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if ev.isSnapshot && len(s.queue) > 0 && s.queue[len(s.queue)-1].isSnapshot {
		s.queue[len(s.queue)-1] = ev
	} else {
		s.queue = append(s.queue, ev)
	}
	s.cond.Signal()
}

func (s *subscription) stop() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *subscription) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if ev.isSnapshot {
			if s.onSnapshot != nil {
				s.onSnapshot(ev.snapshot)
			}
		} else if s.onError != nil {
			s.onError(ev.err)
		}
	}
}
