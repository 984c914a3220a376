// Package feed keeps every connected operator view in step with the record
// store by pushing whole snapshots after each change.
package feed

import (
	"context"
	"sync"
	"time"

	"leadflow/internal/store"
)

// Bus carries change events from writers to hubs.
type Bus interface {
	store.Publisher
	// Listen calls handle for every event until ctx is done (nil) or the
	// underlying connection fails (non-nil). Each successful (re)connect is
	// announced with a ChangeResync event so listeners reload anything they
	// may have missed.
	Listen(ctx context.Context, handle func(store.ChangeEvent)) error
}

// localBufferSize bounds undelivered events per listener. Events are only
// refresh triggers, so dropping one while others are still queued loses
// nothing.
const localBufferSize = 64

// LocalBus fans events out inside one process.
type LocalBus struct {
	mu        sync.Mutex
	listeners map[uint64]chan store.ChangeEvent
	nextID    uint64
}

func NewLocalBus() *LocalBus {
	return &LocalBus{listeners: make(map[uint64]chan store.ChangeEvent)}
}

func (b *LocalBus) Publish(_ context.Context, ev store.ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *LocalBus) Listen(ctx context.Context, handle func(store.ChangeEvent)) error {
	return b.listen(ctx, handle, true)
}

func (b *LocalBus) listen(ctx context.Context, handle func(store.ChangeEvent), announce bool) error {
	ch := make(chan store.ChangeEvent, localBufferSize)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}()

	if announce {
		handle(store.ChangeEvent{Kind: store.ChangeResync, At: time.Now().UTC()})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ch:
			handle(ev)
		}
	}
}
