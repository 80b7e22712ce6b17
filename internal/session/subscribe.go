package session

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type subscriber struct {
	closed atomic.Bool
	check  func(State)
}

// subscribers delivers change notifications one batch at a time. A mutation
// made from inside a callback is folded into another pass of the running loop
// instead of recursing.
type subscribers struct {
	logger *zap.Logger

	mu        sync.Mutex
	list      []*subscriber
	notifying bool
	dirty     bool
}

func (s *subscribers) add(sub *subscriber) func() {
	s.mu.Lock()
	s.list = append(s.list, sub)
	s.mu.Unlock()

	return func() {
		sub.closed.Store(true)
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, candidate := range s.list {
			if candidate == sub {
				s.list = append(s.list[:i:i], s.list[i+1:]...)
				return
			}
		}
	}
}

func (s *subscribers) notify(snapshot func() State) {
	s.mu.Lock()
	if s.notifying {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.notifying = true
	s.mu.Unlock()

	for {
		state := snapshot()

		s.mu.Lock()
		list := append([]*subscriber(nil), s.list...)
		s.mu.Unlock()

		for _, sub := range list {
			if sub.closed.Load() {
				continue
			}
			s.deliver(sub, state)
		}

		s.mu.Lock()
		if !s.dirty {
			s.notifying = false
			s.mu.Unlock()
			return
		}
		s.dirty = false
		s.mu.Unlock()
	}
}

func (s *subscribers) deliver(sub *subscriber, state State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session subscriber panicked", zap.Any("panic", r))
		}
	}()
	sub.check(state)
}

// Subscribe calls fn with the selected value every time it changes. fn is not
// called for the value current at subscription time. The returned function
// removes the subscription.
func Subscribe[T comparable](c *Context, selector func(State) T, fn func(T)) func() {
	last := selector(c.Snapshot())
	sub := &subscriber{}
	sub.check = func(state State) {
		value := selector(state)
		if value == last {
			return
		}
		last = value
		fn(value)
	}
	return c.subs.add(sub)
}
