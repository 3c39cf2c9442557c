package internal

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDelayedWork_RunsOnce(t *testing.T) {
	var runs atomic.Int32
	w := newDelayedWork(func() { runs.Add(1) })

	if !w.queue(10 * time.Millisecond) {
		t.Fatal("first queue returned false")
	}
	if w.queue(10 * time.Millisecond) {
		t.Error("second queue while pending returned true")
	}

	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}

	// Requeue after it ran
	if !w.queue(0) {
		t.Error("queue after run returned false")
	}
	w.cancelSync()
}

func TestDelayedWork_CancelPending(t *testing.T) {
	var runs atomic.Int32
	w := newDelayedWork(func() { runs.Add(1) })

	w.queue(time.Hour)

	done := make(chan struct{})
	go func() {
		w.cancelSync()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancelSync blocked on a pending timer")
	}
	if got := runs.Load(); got != 0 {
		t.Errorf("runs = %d, want 0", got)
	}
}

func TestDelayedWork_CancelWaitsForRunning(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	w := newDelayedWork(func() {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	w.queue(0)
	<-started

	w.cancelSync()
	if !finished.Load() {
		t.Error("cancelSync returned while fn was running")
	}
}
