package internal

import (
	"context"
	"fmt"
	"sync"
)

// closedReady is returned by Poll when an event is already unread.
var closedReady = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Mailbox is a single-slot event buffer with overwrite semantics.
//
// Architecture:
//   - Single slot (event + unread flag)
//   - Overwrite policy (new event replaces unread one)
//   - Blocking take (sync.Cond.Wait, interruptible through context)
//   - Readiness channel (closed on next post) for multiplexed waiting
//
// Thread-safety:
//   - All fields protected by mu, which is the pipeline's shared lock
//   - postLocked: called by the scan goroutine with mu held
//   - Take/Poll: called by the consumer
type Mailbox struct {
	mu   *sync.Mutex
	cond *sync.Cond

	event  Event
	unread bool
	closed bool

	// ready is closed and reset on post. nil until someone polls.
	ready chan struct{}

	seq         uint64
	posted      uint64
	overwritten uint64
	taken       uint64
}

// NewMailbox creates a mailbox guarded by mu.
func NewMailbox(mu *sync.Mutex) *Mailbox {
	return &Mailbox{
		mu:   mu,
		cond: sync.NewCond(mu),
	}
}

// postLocked stores ev, marks it unread and wakes a blocked reader.
//
// Semantics:
//   - Never blocks
//   - Overwrites an unread event (counted in overwritten)
//   - Assigns ev.Seq
//
// MUST be called with mu held.
func (m *Mailbox) postLocked(ev Event) {
	if m.closed {
		return
	}

	if m.unread {
		m.overwritten++
	}

	m.seq++
	ev.Seq = m.seq
	m.event = ev
	m.unread = true
	m.posted++

	m.cond.Signal()

	if m.ready != nil {
		close(m.ready)
		m.ready = nil
	}
}

// Post is postLocked for callers that do not hold the lock.
func (m *Mailbox) Post(ev Event) {
	m.mu.Lock()
	m.postLocked(ev)
	m.mu.Unlock()
}

// Take returns the unread event and clears the unread flag.
//
// Behavior:
//   - Unread event: returned immediately
//   - Nothing unread, blocking=false: ErrWouldBlock
//   - Nothing unread, blocking=true: waits for Post or ctx cancellation
//   - ctx cancelled while waiting: error wrapping ErrInterrupted and ctx.Err()
//   - Mailbox closed with nothing unread: ErrClosed
//
// Clearing the flag and copying the event happen under mu, so a concurrent
// post either lands before (and is returned) or after (and stays unread).
func (m *Mailbox) Take(ctx context.Context, blocking bool) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.unread {
		if m.closed {
			return Event{}, ErrClosed
		}
		if !blocking {
			return Event{}, ErrWouldBlock
		}

		// Wake this waiter when ctx is cancelled. Broadcast because the
		// cond may also hold other readers; each re-checks its own ctx.
		stop := context.AfterFunc(ctx, func() {
			m.mu.Lock()
			m.cond.Broadcast()
			m.mu.Unlock()
		})
		defer stop()

		for !m.unread {
			if err := ctx.Err(); err != nil {
				return Event{}, fmt.Errorf("%w: %w", ErrInterrupted, err)
			}
			if m.closed {
				return Event{}, ErrClosed
			}
			m.cond.Wait()
		}
	}

	ev := m.event
	m.unread = false
	m.taken++
	return ev, nil
}

// Poll reports whether an event is unread without consuming it.
//
// The returned channel is closed on the next post (or is already closed if
// ready is true), so a caller can select over the channels of several
// mailboxes and call Take on whichever fires.
func (m *Mailbox) Poll() (bool, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unread {
		return true, closedReady
	}

	if m.ready == nil {
		m.ready = make(chan struct{})
	}
	return false, m.ready
}

// closeLocked wakes every blocked reader. Unread events can still be taken.
// MUST be called with mu held.
func (m *Mailbox) closeLocked() {
	m.closed = true
	m.cond.Broadcast()
	if m.ready != nil {
		close(m.ready)
		m.ready = nil
	}
}

// countersLocked returns posted, overwritten, taken. MUST be called with mu held.
func (m *Mailbox) countersLocked() (uint64, uint64, uint64) {
	return m.posted, m.overwritten, m.taken
}
