package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("broker is closed")

// subscriberBuffer is the number of events queued per subscriber before
// further events for it are dropped.
const subscriberBuffer = 64

type inMemorySub struct {
	topic string
	ch    chan Event
}

// InMemoryBroker delivers events in-process. Each subscriber has its own
// queue and goroutine; a full queue drops the event for that subscriber only.
type InMemoryBroker struct {
	mu      sync.RWMutex
	subs    map[*inMemorySub]struct{}
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewInMemoryBroker creates an InMemoryBroker.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{subs: make(map[*inMemorySub]struct{})}
}

// Publish queues event for every subscriber of event.Topic.
func (b *InMemoryBroker) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs {
		if sub.topic != event.Topic {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe starts delivering events on topic to handler.
func (b *InMemoryBroker) Subscribe(topic string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	sub := &inMemorySub{topic: topic, ch: make(chan Event, subscriberBuffer)}
	b.subs[sub] = struct{}{}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for e := range sub.ch {
			handler(e)
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { b.remove(sub) }) }, nil
}

func (b *InMemoryBroker) remove(sub *inMemorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// queue was full.
func (b *InMemoryBroker) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events, lets every subscriber drain its queue and
// waits for them.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
