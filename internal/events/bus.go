package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"barfeed/internal/logger"
	"barfeed/internal/market"
)

// Handler consumes one bar. Only the time until it returns counts against the
// publisher's latency budget; work it hands off elsewhere does not.
type Handler func(ctx context.Context, bar market.Bar) error

// Emitter is the subscribe/publish capability the feed emits bars through.
type Emitter interface {
	Subscribe(name string, fn Handler)
	Publish(ctx context.Context, bar market.Bar) error
}

type subscriber struct {
	name string
	fn   Handler
}

// Bus delivers each bar to every subscriber, in subscription order, on the
// publishing goroutine.
type Bus struct {
	mu          sync.RWMutex
	subscribers []subscriber
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Subscribe(name string, fn Handler) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, subscriber{name: name, fn: fn})
	b.mu.Unlock()
}

// Publish returns the joined subscriber errors. A panicking subscriber is
// reported as an error and does not stop delivery to the rest.
func (b *Bus) Publish(ctx context.Context, bar market.Bar) error {
	b.mu.RLock()
	subs := append([]subscriber(nil), b.subscribers...)
	b.mu.RUnlock()
	var errs []error
	for _, s := range subs {
		if err := deliver(ctx, s, bar); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func deliver(ctx context.Context, s subscriber, bar market.Bar) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[events] subscriber %s panic: %v", s.name, r)
			err = fmt.Errorf("subscriber %s panic: %v", s.name, r)
		}
	}()
	if err := s.fn(ctx, bar); err != nil {
		return fmt.Errorf("subscriber %s: %w", s.name, err)
	}
	return nil
}
