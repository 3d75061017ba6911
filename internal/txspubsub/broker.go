// Package txspubsub fans published values out to subscribers over channels.
package txspubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrAlreadySubscribed is returned when a channel is subscribed twice.
var ErrAlreadySubscribed = errors.New("already subscribed")

// Broker delivers published values to every interested subscriber. Publishing
// never blocks: a subscriber whose channel is full drops the value.
type Broker[T any] struct {
	mtx         sync.Mutex
	subscribers map[chan<- T]*subscriber[T]
	active      atomic.Bool
}

type subscriber[T any] struct {
	allow func(T) bool
	stats Stats
}

// NewBroker returns a broker with no subscribers.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subscribers: map[chan<- T]*subscriber[T]{},
	}
}

// Active returns true if there's at least one subscriber.
func (b *Broker[T]) Active() bool {
	return b.active.Load()
}

// Publish offers val to every subscriber which allows it.
func (b *Broker[T]) Publish(val T) {
	if !b.active.Load() { // fast path for the common case
		return
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	for ch, sub := range b.subscribers {
		if sub.allow != nil && !sub.allow(val) {
			sub.stats.Skips++
			continue
		}
		select {
		case ch <- val:
			sub.stats.Sends++
		default:
			sub.stats.Drops++
		}
	}
}

// Subscribe registers ch to receive published values which satisfy allow, or
// every value if allow is nil. It blocks until the context is canceled, and
// then returns the delivery stats for the subscription, along with the
// context error.
func (b *Broker[T]) Subscribe(ctx context.Context, allow func(T) bool, ch chan<- T) (Stats, error) {
	if err := func() error {
		b.mtx.Lock()
		defer b.mtx.Unlock()

		if _, ok := b.subscribers[ch]; ok {
			return ErrAlreadySubscribed
		}

		b.subscribers[ch] = &subscriber[T]{allow: allow}
		b.active.Store(true)
		return nil
	}(); err != nil {
		return Stats{}, err
	}

	<-ctx.Done()

	b.mtx.Lock()
	defer b.mtx.Unlock()

	sub, ok := b.subscribers[ch]
	if !ok {
		return Stats{}, fmt.Errorf("subscription missing (programmer error)")
	}
	delete(b.subscribers, ch)
	b.active.Store(len(b.subscribers) > 0)

	return sub.stats, ctx.Err()
}

// Stats returns the current delivery stats for an active subscription.
func (b *Broker[T]) Stats(ch chan<- T) (Stats, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	sub, ok := b.subscribers[ch]
	if !ok {
		return Stats{}, fmt.Errorf("not subscribed")
	}

	return sub.stats, nil
}

// Stats counts what happened to values published to a subscriber.
type Stats struct {
	Skips uint64 `json:"skips"`
	Sends uint64 `json:"sends"`
	Drops uint64 `json:"drops"`
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("skips=%d sends=%d drops=%d", s.Skips, s.Sends, s.Drops)
}
