// Package matrixkeypad acquires switch events from a row × column switch
// matrix wired to digital I/O lines.
//
// Philosophy: "Latest event wins, never queue."
//
// Design:
//   - Row edge → mask rows → delayed scan → diff → mailbox → unmask rows
//   - Non-blocking signal path (flag flip + timer start)
//   - Blocking Read() with single-slot mailbox semantics
//   - Synchronous Stop(): no scan survives it
//
// See doc.go for the full pipeline description.
package matrixkeypad

import (
	"context"

	"github.com/e7canasta/orion-keypad/modules/matrixkeypad/internal"
)

// Event is re-exported from the internal package.
// See internal/types.go for full documentation.
type Event = internal.Event

// Snapshot is re-exported from the internal package.
type Snapshot = internal.Snapshot

// State is re-exported from the internal package.
type State = internal.State

// Stats is re-exported from the internal package.
type Stats = internal.Stats

// Config is re-exported from the internal package.
type Config = internal.Config

// Lines is the digital I/O surface the keypad drives. Backends live in
// internal/lines at the module root.
type Lines = internal.Lines

// SignalHandler is the callback a Lines backend invokes on a row edge.
type SignalHandler = internal.SignalHandler

// WakeSource is the optional Lines capability used by Suspend.
type WakeSource = internal.WakeSource

// Transition is one change found by Detect.
type Transition = internal.Transition

// Pipeline states.
const (
	StateIdle        = internal.StateIdle
	StateScanPending = internal.StateScanPending
	StateScanning    = internal.StateScanning
	StateStopped     = internal.StateStopped
)

// MaxRows is the largest supported row count.
const MaxRows = internal.MaxRows

// DefaultSettleDelay is the signal-to-scan delay used when Config.SettleDelay is zero.
const DefaultSettleDelay = internal.DefaultSettleDelay

var (
	// ErrWouldBlock is returned by TryRead when no event is unread.
	ErrWouldBlock = internal.ErrWouldBlock

	// ErrInterrupted is returned by Read when ctx is cancelled. The error
	// also matches ctx.Err() with errors.Is. Callers may retry.
	ErrInterrupted = internal.ErrInterrupted

	// ErrInvalidConfig is returned by New for rejected configurations.
	ErrInvalidConfig = internal.ErrInvalidConfig

	// ErrClosed is returned after Close.
	ErrClosed = internal.ErrClosed
)

// Keypad is the public interface of one switch matrix.
//
// Design:
//   - Lifecycle: New() → [Read/TryRead/Poll] ... Stop()/Start() ... Close()
//   - Single consumer: one goroutine reads events
//   - Thread-safe: every method is safe for concurrent use
type Keypad interface {
	// Start leaves the Stopped state, re-arms row signals and runs one resync
	// scan. Switches already held at Start become the baseline and do not
	// produce press events.
	//
	// Idempotent: no-op returning nil while running.
	// Returns ErrClosed after Close.
	Start() error

	// Stop masks row signals and waits for any scheduled or running scan.
	// After Stop returns no scan completes and no event is posted.
	//
	// Idempotent: safe to call multiple times.
	Stop() error

	// Suspend is Stop for a low-power transition. If Config.Wakeup is set and
	// the backend is a WakeSource, row lines are armed as wake sources.
	Suspend() error

	// Resume disarms wake sources and calls Start.
	Resume() error

	// Read blocks until an event is unread, then consumes it.
	//
	// Semantics:
	//   - Mailbox pattern: only the most recent unread event is kept
	//   - ctx cancellation returns ErrInterrupted (wrapping ctx.Err())
	//   - Returns ErrClosed once closed and drained
	//
	// Example:
	//   for {
	//       ev, err := kp.Read(ctx)
	//       if errors.Is(err, matrixkeypad.ErrInterrupted) { break }
	//       handle(ev)
	//   }
	Read(ctx context.Context) (Event, error)

	// TryRead consumes the unread event or returns ErrWouldBlock.
	TryRead() (Event, error)

	// Poll reports whether an event is unread without consuming it. The
	// channel is closed on the next event (already closed when ready), so
	// several keypads can be multiplexed with select.
	Poll() (bool, <-chan struct{})

	// State returns the controller state.
	State() State

	// Snapshot returns a copy of the retained matrix snapshot.
	Snapshot() Snapshot

	// Stats returns operational counters (non-blocking snapshot).
	Stats() Stats

	// Close stops the keypad and wakes blocked readers. It does not close
	// the Lines backend.
	Close() error
}

// New creates a keypad over lines.
//
// New validates cfg, configures every row line as an edge signal with
// cfg.Debounce as the filter hint, and drives all columns so a key press can
// raise a signal. The keypad starts Idle with an all-zero snapshot.
func New(lines Lines, cfg Config) (Keypad, error) {
	p, err := internal.NewPipeline(lines, cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Diff returns next[c] XOR prev[c] for every column.
func Diff(prev, next Snapshot) Snapshot {
	return internal.Diff(prev, next)
}

// Detect lists transitions between two snapshots in column-major order.
func Detect(prev, next Snapshot, rows int, releases bool) []Transition {
	return internal.Detect(prev, next, rows, releases)
}
