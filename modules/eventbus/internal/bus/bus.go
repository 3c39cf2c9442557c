package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

type subscriber struct {
	id     string
	policy DropPolicy

	sent    atomic.Uint64
	dropped atomic.Uint64

	// DropNew
	ch chan<- Event

	// DropOld
	latest *latestHolder
}

type bus struct {
	mu             sync.RWMutex
	subscribers    map[string]*subscriber
	totalPublished atomic.Uint64
	closed         bool
}

// New creates a new event bus
func New() Bus {
	return &bus{
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers a channel with DropNew policy
func (b *bus) Subscribe(id string, ch chan<- Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	if ch == nil {
		return ErrNilChannel
	}

	b.subscribers[id] = &subscriber{id: id, policy: DropNew, ch: ch}
	return nil
}

// SubscribeLatest registers a subscriber with DropOld policy
func (b *bus) SubscribeLatest(id string) (Receiver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	s := &subscriber{id: id, policy: DropOld, latest: newLatestHolder()}
	b.subscribers[id] = s
	return s.latest, nil
}

// Publish distributes ev to all subscribers without blocking
func (b *bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.totalPublished.Add(1)

	for _, s := range b.subscribers {
		switch s.policy {
		case DropNew:
			select {
			case s.ch <- ev:
				s.sent.Add(1)
			default:
				s.dropped.Add(1)
			}

		case DropOld:
			// Replacing an unreceived event counts as a drop
			if s.latest.set(ev) {
				s.dropped.Add(1)
			}
			s.sent.Add(1)
		}
	}
}

// Unsubscribe removes a subscriber
func (b *bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.Close()
	}

	delete(b.subscribers, id)
	return nil
}

// Stats returns a snapshot of the bus counters
func (b *bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BusStats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		ss := SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
		stats.Subscribers[id] = ss
		stats.TotalSent += ss.Sent
		stats.TotalDropped += ss.Dropped
	}
	return stats
}

// Close shuts down the bus and all latest-event receivers
func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.Close()
		}
	}
	b.subscribers = nil
}

// latestHolder implements Receiver for DropOld policy
type latestHolder struct {
	mu     sync.Mutex
	cond   *sync.Cond
	event  Event
	unread bool
	closed bool
}

func newLatestHolder() *latestHolder {
	h := &latestHolder{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// set stores ev and reports whether an unread event was replaced
func (h *latestHolder) set(ev Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	replaced := h.unread
	h.event = ev
	h.unread = true
	h.cond.Broadcast()
	return replaced
}

// Receive blocks until an unread event is available, ctx ends or the
// receiver is closed
func (h *latestHolder) Receive(ctx context.Context) (Event, error) {
	stop := context.AfterFunc(ctx, func() {
		h.mu.Lock()
		h.cond.Broadcast()
		h.mu.Unlock()
	})
	defer stop()

	h.mu.Lock()
	defer h.mu.Unlock()

	for !h.unread && !h.closed {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		h.cond.Wait()
	}

	if !h.unread {
		return Event{}, ErrReceiverClosed
	}

	h.unread = false
	return h.event, nil
}

// TryReceive returns the unread event without blocking
func (h *latestHolder) TryReceive() (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.unread {
		return Event{}, false
	}
	h.unread = false
	return h.event, true
}

// Close shuts down the receiver
func (h *latestHolder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.cond.Broadcast()
}
