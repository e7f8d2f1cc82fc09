// Package eventbus is a minimal in-process publish/subscribe registry used to
// tell unrelated renderer components that shared state changed.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Callback receives the arguments passed to Emit.
type Callback func(args ...any)

// Subscription is the handle returned by On. Off matches it by identity, so a
// subscriber can only remove its own registration.
type Subscription struct {
	event string
	fn    Callback
}

// Event returns the event name the subscription is registered under.
func (s *Subscription) Event() string { return s.event }

// Bus owns the subscription registry. The zero value is not usable; call New.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]*Subscription
	logger zerolog.Logger
}

// New creates an empty Bus.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string][]*Subscription),
		logger: logger,
	}
}

// On appends fn to the subscribers of event.
func (b *Bus) On(event string, fn Callback) *Subscription {
	sub := &Subscription{event: event, fn: fn}
	b.mu.Lock()
	b.subs[event] = append(b.subs[event], sub)
	b.mu.Unlock()
	return sub
}

// Off removes sub from event. Unknown events and absent subscriptions are
// ignored.
func (b *Bus) Off(event string, sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	list, ok := b.subs[event]
	if !ok {
		return
	}
	for i, s := range list {
		if s == sub {
			next := make([]*Subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, event)
			} else {
				b.subs[event] = next
			}
			return
		}
	}
}

// Emit calls every subscriber of event synchronously in registration order.
// A panicking subscriber is logged and does not stop the rest. Subscribers
// registered or removed during Emit take effect from the next Emit.
func (b *Bus) Emit(event string, args ...any) {
	b.mu.Lock()
	list := b.subs[event]
	b.mu.Unlock()

	for i, sub := range list {
		b.call(event, i, sub, args)
	}
}

// Count returns the number of subscribers of event.
func (b *Bus) Count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[event])
}

func (b *Bus) call(event string, idx int, sub *Subscription, args []any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event", event).
				Int("subscriber", idx).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("event subscriber panicked")
		}
	}()
	sub.fn(args...)
}
