package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"leadflow/internal/aggregate"
	"leadflow/internal/common/logger"
	"leadflow/internal/common/metrics"
	"leadflow/internal/models"
	"leadflow/internal/store"
)

var ErrHubStopped = errors.New("feed hub stopped")

// Snapshot is the full record set at one moment, newest first.
type Snapshot struct {
	Version uint64           `json:"version"`
	Records []models.Lead    `json:"records"`
	Counts  aggregate.Counts `json:"counts"`
	At      time.Time        `json:"at"`
}

type Config struct {
	// ResyncDelay is the pause before retrying a failed reload or a
	// dropped bus connection. It doubles up to MaxResyncDelay.
	ResyncDelay    time.Duration
	MaxResyncDelay time.Duration
}

type subscribeRequest struct {
	reply chan subscribeReply
}

type subscribeReply struct {
	sub *Subscription
	err error
}

// Hub owns the live view. A single loop goroutine reloads the store and fans
// snapshots out, so every subscriber sees refreshes in the order they were
// taken.
type Hub struct {
	store  store.Store
	bus    Bus
	logger logger.Logger
	cfg    Config

	refresh   chan struct{}
	subscribe chan subscribeRequest
	stopped   chan struct{}

	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextID  uint64
	version uint64
	latest  *Snapshot
}

func NewHub(s store.Store, bus Bus, cfg Config, log logger.Logger) *Hub {
	if cfg.ResyncDelay <= 0 {
		cfg.ResyncDelay = 500 * time.Millisecond
	}
	if cfg.MaxResyncDelay < cfg.ResyncDelay {
		cfg.MaxResyncDelay = 30 * time.Second
	}
	return &Hub{
		store:     s,
		bus:       bus,
		logger:    log.WithFields(map[string]interface{}{"component": "feed-hub"}),
		cfg:       cfg,
		refresh:   make(chan struct{}, 1),
		subscribe: make(chan subscribeRequest),
		stopped:   make(chan struct{}),
		subs:      make(map[uint64]*Subscription),
	}
}

// Run drives the hub until ctx is cancelled, then closes every subscription.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.listen(ctx)
	}()

	h.loop(ctx)
	wg.Wait()

	close(h.stopped)
	h.closeAll()
}

// Subscribe registers a new view. Its initial snapshot is loaded after the
// call is accepted, so it reflects every write acknowledged before Subscribe.
func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	req := subscribeRequest{reply: make(chan subscribeReply, 1)}

	select {
	case h.subscribe <- req:
	case <-h.stopped:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.sub, r.err
	case <-ctx.Done():
		// The loop will still answer; drop the subscription it creates.
		go func() {
			if r := <-req.reply; r.sub != nil {
				r.sub.Unsubscribe()
			}
		}()
		return nil, ctx.Err()
	}
}

// Latest returns the most recent snapshot, if any refresh has completed.
func (h *Hub) Latest() (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return Snapshot{}, false
	}
	return *h.latest, true
}

// Notify asks for a refresh. Requests made while one is pending coalesce.
func (h *Hub) Notify() {
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) listen(ctx context.Context) {
	delay := h.cfg.ResyncDelay
	for {
		started := time.Now()
		err := h.bus.Listen(ctx, func(store.ChangeEvent) { h.Notify() })
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > h.cfg.MaxResyncDelay {
			delay = h.cfg.ResyncDelay
		}
		h.logger.Warn("change bus disconnected, resubscribing", map[string]interface{}{
			"error":       err,
			"nextRetryIn": delay.String(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = min(delay*2, h.cfg.MaxResyncDelay)
	}
}

func (h *Hub) loop(ctx context.Context) {
	var retryTimer *time.Timer
	retryDelay := h.cfg.ResyncDelay

	for {
		select {
		case <-ctx.Done():
			if retryTimer != nil {
				retryTimer.Stop()
			}
			return

		case req := <-h.subscribe:
			req.reply <- h.addSubscriber(ctx)

		case <-h.refresh:
			if err := h.reload(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				h.logger.Error("feed refresh failed", map[string]interface{}{
					"error":       err,
					"nextRetryIn": retryDelay.String(),
				})
				if retryTimer != nil {
					retryTimer.Stop()
				}
				retryTimer = time.AfterFunc(retryDelay, h.Notify)
				retryDelay = min(retryDelay*2, h.cfg.MaxResyncDelay)
				continue
			}
			retryDelay = h.cfg.ResyncDelay
		}
	}
}

func (h *Hub) load(ctx context.Context) (*Snapshot, error) {
	records, err := h.store.List(ctx)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.version++
	snap := &Snapshot{
		Version: h.version,
		Records: records,
		Counts:  aggregate.CountsByStatus(records),
		At:      time.Now().UTC(),
	}
	h.latest = snap
	h.mu.Unlock()

	return snap, nil
}

func (h *Hub) reload(ctx context.Context) error {
	started := time.Now()
	snap, err := h.load(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.deliver(*snap)
	}

	metrics.FeedRefreshDuration.Observe(time.Since(started).Seconds())
	h.logger.Debug("feed refreshed", map[string]interface{}{
		"version":     snap.Version,
		"records":     len(snap.Records),
		"subscribers": len(subs),
	})
	return nil
}

func (h *Hub) addSubscriber(ctx context.Context) subscribeReply {
	snap, err := h.load(ctx)
	if err != nil {
		return subscribeReply{err: fmt.Errorf("load initial snapshot: %w", err)}
	}

	h.mu.Lock()
	h.nextID++
	sub := newSubscription(h.nextID, h, *snap)
	h.subs[sub.id] = sub
	h.mu.Unlock()

	metrics.FeedSubscribers.Inc()
	return subscribeReply{sub: sub}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()

	if ok {
		metrics.FeedSubscribers.Dec()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
