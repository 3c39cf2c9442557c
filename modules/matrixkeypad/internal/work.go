package internal

import (
	"sync"
	"time"
)

// delayedWork runs fn once after a delay, at most one instance scheduled at a
// time, and can be cancelled and awaited synchronously.
//
// Lifecycle:
//   - queue(d): schedules fn after d unless already pending (returns false)
//   - cancelSync(): drops a pending run, then waits for a running fn to return
//
// Thread-safety: queue and cancelSync are safe for concurrent use. wg.Add only
// happens in queue, which the pipeline never calls once Stop has begun.
type delayedWork struct {
	fn func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool

	wg sync.WaitGroup
}

func newDelayedWork(fn func()) *delayedWork {
	return &delayedWork{fn: fn}
}

func (w *delayedWork) queue(d time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending {
		return false
	}

	w.pending = true
	w.wg.Add(1)
	w.timer = time.AfterFunc(d, w.run)
	return true
}

func (w *delayedWork) run() {
	defer w.wg.Done()

	w.mu.Lock()
	w.pending = false
	w.mu.Unlock()

	w.fn()
}

func (w *delayedWork) cancelSync() {
	w.mu.Lock()
	if w.pending && w.timer.Stop() {
		// Timer never fired: run will not call wg.Done.
		w.pending = false
		w.wg.Done()
	}
	w.mu.Unlock()

	w.wg.Wait()
}
