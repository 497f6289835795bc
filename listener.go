package notifyws

import (
	"reflect"
	"sync"

	"github.com/google/uuid"
)

type (
	// Listener receives every event emitted by a Channel.
	Listener interface {
		HandleEvent(Event)
	}

	// ListenerFunc adapts a plain function to Listener.
	ListenerFunc func(Event)

	// UnsubscribeFunc removes the subscription it was returned for. Calling it more
	// than once is a no-op.
	UnsubscribeFunc func()
)

func (f ListenerFunc) HandleEvent(e Event) { f(e) }

type subscription struct {
	id       uuid.UUID
	listener Listener
}

// listenerSet holds the subscriptions of a channel. Listeners whose dynamic type is
// comparable (pointers, most structs) are deduplicated by identity; function values
// are not comparable, so every registration of one is a distinct subscription.
type listenerSet struct {
	subs map[uuid.UUID]subscription
	lock sync.RWMutex
}

func newListenerSet() *listenerSet {
	return &listenerSet{
		subs: make(map[uuid.UUID]subscription),
	}
}

// add registers l and returns the id of its subscription. If l is already present
// the existing id is returned.
func (s *listenerSet) add(l Listener) uuid.UUID {
	s.lock.Lock()
	defer s.lock.Unlock()

	if comparableListener(l) {
		for id, sub := range s.subs {
			if comparableListener(sub.listener) && sub.listener == l {
				return id
			}
		}
	}

	id := uuid.New()
	s.subs[id] = subscription{id: id, listener: l}
	return id
}

// remove deletes the subscription and reports whether it was present.
func (s *listenerSet) remove(id uuid.UUID) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, found := s.subs[id]; !found {
		return false
	}
	delete(s.subs, id)
	return true
}

// snapshot returns the current listeners. Iteration order is unspecified.
func (s *listenerSet) snapshot() []Listener {
	s.lock.RLock()
	defer s.lock.RUnlock()

	res := make([]Listener, 0, len(s.subs))
	for _, sub := range s.subs {
		res = append(res, sub.listener)
	}
	return res
}

func (s *listenerSet) len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return len(s.subs)
}

func comparableListener(l Listener) bool {
	if l == nil {
		return false
	}
	return reflect.TypeOf(l).Comparable()
}
