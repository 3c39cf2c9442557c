package internal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeLines is a switch matrix whose signals are raised by calling
// Pipeline.signal directly.
type fakeLines struct {
	mu       sync.Mutex
	closed   [][]bool
	driven   []bool
	masked   []bool
	handlers []SignalHandler
}

func newFakeLines(rows, cols int) *fakeLines {
	f := &fakeLines{
		closed:   make([][]bool, rows),
		driven:   make([]bool, cols),
		masked:   make([]bool, rows),
		handlers: make([]SignalHandler, rows),
	}
	for r := range f.closed {
		f.closed[r] = make([]bool, cols)
	}
	return f
}

func (f *fakeLines) set(row, col int, on bool) {
	f.mu.Lock()
	f.closed[row][col] = on
	f.mu.Unlock()
}

func (f *fakeLines) SetColumn(col int, on bool) {
	f.mu.Lock()
	f.driven[col] = on
	f.mu.Unlock()
}

func (f *fakeLines) ReadRow(row int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for col, d := range f.driven {
		if d && f.closed[row][col] {
			return true
		}
	}
	return false
}

func (f *fakeLines) ConfigureRowSignal(row int, _ time.Duration, h SignalHandler) error {
	f.handlers[row] = h
	return nil
}

func (f *fakeLines) MaskRowSignal(row int) {
	f.mu.Lock()
	f.masked[row] = true
	f.mu.Unlock()
}

func (f *fakeLines) UnmaskRowSignal(row int) {
	f.mu.Lock()
	f.masked[row] = false
	f.mu.Unlock()
}

func (f *fakeLines) anyMasked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.masked {
		if m {
			return true
		}
	}
	return false
}

var keypad4x4 = [][]rune{
	{'1', '2', '3', 'A'},
	{'4', '5', '6', 'B'},
	{'7', '8', '9', 'C'},
	{'*', '0', '#', 'D'},
}

func waitState(t *testing.T, p *Pipeline, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for p.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", p.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewPipeline_InitialState(t *testing.T) {
	f := newFakeLines(2, 3)
	p, err := NewPipeline(f, Config{Rows: 2, Cols: 3})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	if p.State() != StateIdle {
		t.Errorf("state = %v, want idle", p.State())
	}
	if f.anyMasked() {
		t.Error("rows masked at construction")
	}
	for col, d := range f.driven {
		if !d {
			t.Errorf("column %d not driven at construction", col)
		}
	}
	for col, bits := range p.Snapshot() {
		if bits != 0 {
			t.Errorf("snapshot[%d] = %b, want 0", col, bits)
		}
	}
	if p.cfg.SettleDelay != DefaultSettleDelay {
		t.Errorf("SettleDelay = %v, want default %v", p.cfg.SettleDelay, DefaultSettleDelay)
	}
}

func TestNewPipeline_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero rows", Config{Rows: 0, Cols: 1}},
		{"too many rows", Config{Rows: MaxRows + 1, Cols: 1}},
		{"zero cols", Config{Rows: 1, Cols: 0}},
		{"negative settle", Config{Rows: 1, Cols: 1, SettleDelay: -1}},
		{"keymap rows", Config{Rows: 2, Cols: 1, Keymap: [][]rune{{'1'}}}},
		{"keymap cols", Config{Rows: 1, Cols: 2, Keymap: [][]rune{{'1'}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipeline(newFakeLines(2, 2), tt.cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestPipeline_SingleKeyScenario(t *testing.T) {
	f := newFakeLines(4, 4)
	p, err := NewPipeline(f, Config{Rows: 4, Cols: 4, SettleDelay: time.Millisecond, Keymap: keypad4x4})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	defer p.Close()

	f.set(2, 1, true)
	p.signal(2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, err := p.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if ev.Row != 2 || ev.Col != 1 || !ev.Pressed {
		t.Errorf("event = %+v, want press at (2,1)", ev)
	}
	// Symbol grid is indexed [row][col]
	if !ev.HasSymbol || ev.Symbol != '8' {
		t.Errorf("symbol = %q (has=%v), want '8'", ev.Symbol, ev.HasSymbol)
	}

	waitState(t, p, StateIdle)

	snap := p.Snapshot()
	if snap[1] != 0b100 {
		t.Errorf("snapshot[1] = %b, want 100", snap[1])
	}
	for _, col := range []int{0, 2, 3} {
		if snap[col] != 0 {
			t.Errorf("snapshot[%d] = %b, want 0", col, snap[col])
		}
	}
	if f.anyMasked() {
		t.Error("rows still masked after scan")
	}
}

func TestPipeline_UnchangedScanPostsNothing(t *testing.T) {
	f := newFakeLines(2, 2)
	p, _ := NewPipeline(f, Config{Rows: 2, Cols: 2, SettleDelay: time.Millisecond})
	defer p.Close()

	f.set(0, 1, true)
	p.signal(0)
	waitState(t, p, StateIdle)
	if _, err := p.TryRead(); err != nil {
		t.Fatalf("TryRead after S0→S1 failed: %v", err)
	}

	// S1 → S1
	p.signal(0)
	time.Sleep(5 * time.Millisecond)
	waitState(t, p, StateIdle)

	if _, err := p.TryRead(); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("TryRead after S1→S1 err = %v, want ErrWouldBlock", err)
	}
	if got := p.Stats().EventsPosted; got != 1 {
		t.Errorf("EventsPosted = %d, want 1", got)
	}
}

func TestPipeline_SignalWhileScanPendingDiscarded(t *testing.T) {
	f := newFakeLines(2, 2)
	p, _ := NewPipeline(f, Config{Rows: 2, Cols: 2, SettleDelay: time.Hour})
	defer p.Close()

	p.signal(0)
	if p.State() != StateScanPending {
		t.Fatalf("state = %v, want scan-pending", p.State())
	}
	if !f.anyMasked() {
		t.Error("rows not masked while scan pending")
	}

	p.signal(1)

	if p.State() != StateScanPending {
		t.Errorf("state = %v after second signal, want scan-pending", p.State())
	}
	stats := p.Stats()
	if stats.Signals != 2 || stats.SignalsDropped != 1 {
		t.Errorf("signals = %d dropped = %d, want 2/1", stats.Signals, stats.SignalsDropped)
	}
}

func TestPipeline_SignalWhileStoppedDiscarded(t *testing.T) {
	f := newFakeLines(1, 1)
	p, _ := NewPipeline(f, Config{Rows: 1, Cols: 1, SettleDelay: time.Millisecond})
	defer p.Close()

	p.Stop()
	f.set(0, 0, true)
	p.signal(0)
	time.Sleep(10 * time.Millisecond)

	if p.State() != StateStopped {
		t.Errorf("state = %v, want stopped", p.State())
	}
	if got := p.Stats().Scans; got != 0 {
		t.Errorf("Scans = %d, want 0", got)
	}
}

func TestPipeline_StopCancelsPendingScan(t *testing.T) {
	f := newFakeLines(1, 1)
	p, _ := NewPipeline(f, Config{Rows: 1, Cols: 1, SettleDelay: 20 * time.Millisecond})
	defer p.Close()

	f.set(0, 0, true)
	p.signal(0)
	p.Stop()

	time.Sleep(50 * time.Millisecond)

	if got := p.Stats().Scans; got != 0 {
		t.Errorf("Scans = %d after Stop, want 0", got)
	}
	if _, err := p.TryRead(); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("TryRead err = %v, want ErrWouldBlock", err)
	}
	if !f.anyMasked() {
		t.Error("rows not masked after Stop")
	}
}

func TestPipeline_StartResyncsWithoutEvents(t *testing.T) {
	f := newFakeLines(2, 2)
	p, _ := NewPipeline(f, Config{Rows: 2, Cols: 2, SettleDelay: time.Millisecond})
	defer p.Close()

	p.Stop()
	f.set(1, 0, true) // held across start
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitState(t, p, StateIdle)

	if snap := p.Snapshot(); snap[0] != 0b10 {
		t.Errorf("baseline snapshot[0] = %b, want 10", snap[0])
	}
	if _, err := p.TryRead(); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("TryRead after Start err = %v, want ErrWouldBlock", err)
	}

	// Start while running is a no-op
	if err := p.Start(); err != nil {
		t.Errorf("second Start err = %v", err)
	}
	if got := p.Stats().Scans; got != 1 {
		t.Errorf("Scans = %d, want 1", got)
	}
}

func TestPipeline_CloseRejectsStart(t *testing.T) {
	p, _ := NewPipeline(newFakeLines(1, 1), Config{Rows: 1, Cols: 1})
	p.Close()

	if err := p.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close err = %v, want ErrClosed", err)
	}
	if _, err := p.Read(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after Close err = %v, want ErrClosed", err)
	}
}

// wakeFakeLines records wake arming on top of fakeLines.
type wakeFakeLines struct {
	*fakeLines
	wake []bool
}

func (w *wakeFakeLines) SetRowWake(row int, on bool) error {
	w.wake[row] = on
	return nil
}

func TestPipeline_CloseRejectsControl(t *testing.T) {
	lines := &wakeFakeLines{fakeLines: newFakeLines(2, 1), wake: make([]bool, 2)}
	p, _ := NewPipeline(lines, Config{Rows: 2, Cols: 1, Wakeup: true})

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Stop", p.Stop},
		{"Suspend", p.Suspend},
		{"Resume", p.Resume},
		{"Start", p.Start},
	}
	for _, tt := range tests {
		if err := tt.fn(); !errors.Is(err, ErrClosed) {
			t.Errorf("%s after Close err = %v, want ErrClosed", tt.name, err)
		}
	}

	for row, on := range lines.wake {
		if on {
			t.Errorf("row %d armed as wake source after Close", row)
		}
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close err = %v, want nil", err)
	}
}

func TestPipeline_SimultaneousChangesLastWins(t *testing.T) {
	f := newFakeLines(4, 4)
	p, _ := NewPipeline(f, Config{Rows: 4, Cols: 4, SettleDelay: time.Millisecond, Keymap: keypad4x4})
	defer p.Close()

	// Column-major order: (3,0), (0,2), (1,2). The last one stays unread.
	f.set(3, 0, true)
	f.set(0, 2, true)
	f.set(1, 2, true)
	p.signal(0)
	waitState(t, p, StateIdle)

	ev, err := p.TryRead()
	if err != nil {
		t.Fatalf("TryRead failed: %v", err)
	}
	if ev.Row != 1 || ev.Col != 2 || !ev.Pressed || ev.Symbol != '6' {
		t.Errorf("event = %+v, want press at (1,2) '6'", ev)
	}

	stats := p.Stats()
	if stats.EventsPosted != 3 || stats.EventsOverwritten != 2 {
		t.Errorf("posted = %d overwritten = %d, want 3/2", stats.EventsPosted, stats.EventsOverwritten)
	}
	if _, err := p.TryRead(); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("second TryRead err = %v, want ErrWouldBlock", err)
	}
}
