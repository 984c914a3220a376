package feed

import "sync"

// Subscription is one live view. Changes delivers whole snapshots in order;
// a snapshot the consumer has not picked up yet is replaced by a newer one,
// so a slow reader only ever skips states that are already superseded.
type Subscription struct {
	id      uint64
	hub     *Hub
	initial Snapshot
	mailbox chan Snapshot

	mu     sync.Mutex
	closed bool
}

func newSubscription(id uint64, hub *Hub, initial Snapshot) *Subscription {
	return &Subscription{
		id:      id,
		hub:     hub,
		initial: initial,
		mailbox: make(chan Snapshot, 1),
	}
}

// Snapshot is the record set as of subscription.
func (s *Subscription) Snapshot() Snapshot {
	return s.initial
}

// Changes is closed after Unsubscribe or when the hub stops.
func (s *Subscription) Changes() <-chan Snapshot {
	return s.mailbox
}

// Unsubscribe stops delivery. Calling it again is a no-op.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.mailbox)
	s.mu.Unlock()

	s.hub.remove(s.id)
}

func (s *Subscription) deliver(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.mailbox <- snap:
		return
	default:
	}

	// Mailbox full: drop the stale snapshot. The reader may have taken it
	// in the meantime, in which case the slot is already free.
	select {
	case <-s.mailbox:
	default:
	}
	s.mailbox <- snap
}
