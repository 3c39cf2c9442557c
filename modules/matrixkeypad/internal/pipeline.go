// Package internal implements the matrix keypad pipeline.
//
// This package is INTERNAL - clients MUST use the public API in the parent package.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Pipeline is the concrete implementation of matrixkeypad.Keypad.
//
// Goroutine topology:
//   - N external: backend signal goroutines calling signal()
//   - 0-1 transient: delayed-work goroutine running runScan()
//   - 1 external: consumer calling Read/TryRead/Poll
//
// Locking:
//   - mu is the single shared lock: state, snapshot, resync flag and the
//     mailbox all live under it
//   - ctlMu serializes Start/Stop/Suspend/Resume/Close; it is never taken by
//     the signal or scan paths
type Pipeline struct {
	cfg   Config
	lines Lines

	// --- Shared state (mu) ---

	mu       sync.Mutex
	state    State
	resync   bool     // next completed scan becomes the baseline, no events
	snapshot Snapshot // retained result of the last completed scan
	closed   bool

	mailbox *Mailbox

	// --- Deferred scan ---

	work *delayedWork

	// --- Control path ---

	ctlMu     sync.Mutex
	wakeArmed bool

	// --- Counters (atomic) ---

	signals atomic.Uint64
	dropped atomic.Uint64
	scans   atomic.Uint64
	aborted atomic.Uint64
}

// NewPipeline validates cfg, arms every row signal and drives all columns.
//
// Initial state: Idle, signals unmasked, all-zero snapshot, no scan scheduled.
func NewPipeline(lines Lines, cfg Config) (*Pipeline, error) {
	if lines == nil {
		return nil, fmt.Errorf("%w: nil lines", ErrInvalidConfig)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		lines:    lines,
		state:    StateIdle,
		snapshot: make(Snapshot, cfg.Cols),
	}
	p.mailbox = NewMailbox(&p.mu)
	p.work = newDelayedWork(p.runScan)

	for row := 0; row < cfg.Rows; row++ {
		if err := lines.ConfigureRowSignal(row, cfg.Debounce, p.signal); err != nil {
			return nil, fmt.Errorf("matrixkeypad: configure row %d signal: %w", row, err)
		}
	}

	activateColumns(lines, cfg.Cols, true)

	slog.Debug("matrixkeypad: pipeline created",
		"rows", cfg.Rows,
		"cols", cfg.Cols,
		"debounce", cfg.Debounce,
		"settle_delay", cfg.SettleDelay,
		"column_settle", cfg.ColumnSettle,
		"wakeup", cfg.Wakeup,
	)

	return p, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Rows <= 0 || cfg.Rows > MaxRows {
		return fmt.Errorf("%w: rows %d (must be 1-%d)", ErrInvalidConfig, cfg.Rows, MaxRows)
	}
	if cfg.Cols <= 0 {
		return fmt.Errorf("%w: cols %d (must be > 0)", ErrInvalidConfig, cfg.Cols)
	}
	if cfg.Debounce < 0 || cfg.ColumnSettle < 0 || cfg.SettleDelay < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidConfig)
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}

	if cfg.Keymap != nil {
		if len(cfg.Keymap) != cfg.Rows {
			return fmt.Errorf("%w: keymap has %d rows, want %d", ErrInvalidConfig, len(cfg.Keymap), cfg.Rows)
		}
		for row, keys := range cfg.Keymap {
			if len(keys) != cfg.Cols {
				return fmt.Errorf("%w: keymap row %d has %d keys, want %d", ErrInvalidConfig, row, len(keys), cfg.Cols)
			}
		}
	}

	return nil
}

// signal is the row SignalHandler.
//
// Algorithm:
//  1. Lock mu
//  2. Scan pending, scanning or stopped: drop (transient contention)
//  3. Otherwise mask all row signals, move to ScanPending, queue the scan
//     after SettleDelay
//
// Runs in the backend's signal context: only flag updates, mask calls and a
// timer start, no hardware reads.
func (p *Pipeline) signal(row int) {
	p.signals.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		p.dropped.Add(1)
		return
	}

	p.maskAllLocked()
	p.state = StateScanPending
	p.work.queue(p.cfg.SettleDelay)
}

// runScan is the delayed-work function.
//
// Algorithm:
//  1. Under mu: ScanPending → Scanning (bail out if Stop won the race)
//  2. Outside mu: scan the matrix (may sleep on settle delays)
//  3. Under mu: detect transitions, post events, swap snapshot, unmask rows,
//     back to Idle
//
// A scan overtaken by Stop is discarded. An aborted scan keeps the previous
// snapshot but still unmasks rows.
func (p *Pipeline) runScan() {
	p.mu.Lock()
	if p.state != StateScanPending {
		p.mu.Unlock()
		return
	}
	p.state = StateScanning
	p.mu.Unlock()

	next, err := p.scan()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateStopped {
		return
	}

	if err != nil {
		p.aborted.Add(1)
		slog.Warn("matrixkeypad: scan aborted", "error", err)
	} else {
		p.scans.Add(1)
		p.commitLocked(next)
	}

	// Events are visible before rows are re-armed.
	p.unmaskAllLocked()
	p.state = StateIdle
}

// commitLocked posts events for next and makes it the retained snapshot.
func (p *Pipeline) commitLocked(next Snapshot) {
	if p.resync {
		p.resync = false
		p.snapshot = next
		slog.Debug("matrixkeypad: baseline resynchronized", "snapshot", fmt.Sprintf("%v", next))
		return
	}

	for _, t := range Detect(p.snapshot, next, p.cfg.Rows, p.cfg.ReportReleases) {
		p.mailbox.postLocked(p.eventFor(t))
	}
	p.snapshot = next
}

func (p *Pipeline) scan() (snap Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lines backend failed mid-scan: %v", r)
		}
	}()

	return scanMatrix(p.lines, p.cfg.Rows, p.cfg.Cols, p.cfg.ColumnSettle), nil
}

func (p *Pipeline) eventFor(t Transition) Event {
	ev := Event{Row: t.Row, Col: t.Col, Pressed: t.Pressed}
	if p.cfg.Keymap != nil {
		if sym := p.cfg.Keymap[t.Row][t.Col]; sym != 0 {
			ev.Symbol = sym
			ev.HasSymbol = true
		}
	}
	return ev
}

func (p *Pipeline) maskAllLocked() {
	for row := 0; row < p.cfg.Rows; row++ {
		p.lines.MaskRowSignal(row)
	}
}

func (p *Pipeline) unmaskAllLocked() {
	for row := 0; row < p.cfg.Rows; row++ {
		p.lines.UnmaskRowSignal(row)
	}
}

// Start leaves Stopped: re-arms row signals and schedules an immediate resync
// scan whose result becomes the new baseline without emitting events.
//
// Idempotent: returns nil if the pipeline is not stopped.
func (p *Pipeline) Start() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	return p.startLocked()
}

func (p *Pipeline) startLocked() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.state != StateStopped {
		return nil
	}

	// Signals arriving before the resync scan completes are dropped as
	// contention; the resync scan observes their switches anyway.
	p.state = StateScanPending
	p.resync = true
	p.unmaskAllLocked()
	p.work.queue(0)

	slog.Debug("matrixkeypad: started")
	return nil
}

// Stop enters Stopped, cancels a pending scan, waits for a running one and
// masks all row signals. When Stop returns no scan is in flight.
//
// Idempotent: returns nil if already stopped. Returns ErrClosed after Close.
func (p *Pipeline) Stop() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.isClosed() {
		return ErrClosed
	}
	return p.stopLocked()
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) stopLocked() error {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return nil
	}
	p.state = StateStopped
	p.mu.Unlock()

	// From here signal() drops everything, so nothing re-queues the work.
	p.work.cancelSync()

	p.mu.Lock()
	p.maskAllLocked()
	p.mu.Unlock()

	slog.Debug("matrixkeypad: stopped")
	return nil
}

// Suspend stops the pipeline for a low-power transition. With Config.Wakeup
// and a WakeSource backend, row signals are armed as wake sources.
// Returns ErrClosed after Close.
func (p *Pipeline) Suspend() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.isClosed() {
		return ErrClosed
	}
	if err := p.stopLocked(); err != nil {
		return err
	}

	if !p.cfg.Wakeup || p.wakeArmed {
		return nil
	}
	ws, ok := p.lines.(WakeSource)
	if !ok {
		slog.Debug("matrixkeypad: wakeup requested but lines backend is not a wake source")
		return nil
	}

	for row := 0; row < p.cfg.Rows; row++ {
		if err := ws.SetRowWake(row, true); err != nil {
			return fmt.Errorf("matrixkeypad: arm row %d wake: %w", row, err)
		}
	}
	p.wakeArmed = true
	return nil
}

// Resume disarms wake sources armed by Suspend and starts the pipeline.
func (p *Pipeline) Resume() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.wakeArmed {
		ws := p.lines.(WakeSource)
		for row := 0; row < p.cfg.Rows; row++ {
			if err := ws.SetRowWake(row, false); err != nil {
				return fmt.Errorf("matrixkeypad: disarm row %d wake: %w", row, err)
			}
		}
		p.wakeArmed = false
	}

	return p.startLocked()
}

// Close stops the pipeline and wakes blocked readers. Unread events can still
// be taken; after that reads return ErrClosed. The Lines backend is not closed.
// A second Close returns nil.
func (p *Pipeline) Close() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.isClosed() {
		return nil
	}
	if err := p.stopLocked(); err != nil {
		return err
	}

	p.mu.Lock()
	p.closed = true
	p.mailbox.closeLocked()
	p.mu.Unlock()
	return nil
}

// Read blocks until an event is available or ctx is cancelled.
func (p *Pipeline) Read(ctx context.Context) (Event, error) {
	return p.mailbox.Take(ctx, true)
}

// TryRead returns the unread event or ErrWouldBlock.
func (p *Pipeline) TryRead() (Event, error) {
	return p.mailbox.Take(context.Background(), false)
}

// Poll reports readiness and returns a channel closed on the next event.
func (p *Pipeline) Poll() (bool, <-chan struct{}) {
	return p.mailbox.Poll()
}

// State returns the controller state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns a copy of the retained snapshot.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot.Clone()
}

// Stats returns operational counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	state := p.state
	posted, overwritten, taken := p.mailbox.countersLocked()
	p.mu.Unlock()

	return Stats{
		State:             state,
		Signals:           p.signals.Load(),
		SignalsDropped:    p.dropped.Load(),
		Scans:             p.scans.Load(),
		ScansAborted:      p.aborted.Load(),
		EventsPosted:      posted,
		EventsOverwritten: overwritten,
		EventsTaken:       taken,
	}
}
