package lines

import (
	"fmt"
	"sync"
	"time"

	"github.com/e7canasta/orion-keypad/modules/matrixkeypad"
)

// Sim is an in-memory switch matrix.
//
// Physical model:
//   - A row reads asserted iff some driven column has its switch closed on
//     that row
//   - Every change of a row's level is an edge; unmasked edges call the row's
//     handler (both press and release edges)
//   - Edges while masked are lost
//
// Handlers are invoked after Sim's own lock is released, on the goroutine
// that caused the edge (Press/Release/SetColumn).
type Sim struct {
	rows int
	cols int

	mu       sync.Mutex
	switches [][]bool // [row][col] closed
	driven   []bool
	level    []bool
	handlers []matrixkeypad.SignalHandler
	debounce []time.Duration
	masked   []bool
	wake     []bool

	readDelay time.Duration
	failScans int // remaining ReadRow calls that panic
	maxDriven int // most columns driven during a single ReadRow
	rowReads  uint64
	closed    bool
}

var _ matrixkeypad.Lines = (*Sim)(nil)
var _ matrixkeypad.WakeSource = (*Sim)(nil)

// NewSim creates a rows × cols matrix with every switch open and every row
// signal unconfigured.
func NewSim(rows, cols int) *Sim {
	s := &Sim{
		rows:     rows,
		cols:     cols,
		switches: make([][]bool, rows),
		driven:   make([]bool, cols),
		level:    make([]bool, rows),
		handlers: make([]matrixkeypad.SignalHandler, rows),
		debounce: make([]time.Duration, rows),
		masked:   make([]bool, rows),
		wake:     make([]bool, rows),
	}
	for row := range s.switches {
		s.switches[row] = make([]bool, cols)
	}
	return s
}

// Rows returns the row count.
func (s *Sim) Rows() int { return s.rows }

// Cols returns the column count.
func (s *Sim) Cols() int { return s.cols }

// Press closes the switch at (row, col).
func (s *Sim) Press(row, col int) { s.Set(row, col, true) }

// Release opens the switch at (row, col).
func (s *Sim) Release(row, col int) { s.Set(row, col, false) }

// Set changes the switch at (row, col) and fires any resulting row edge.
func (s *Sim) Set(row, col int, closed bool) {
	s.mu.Lock()
	s.switches[row][col] = closed
	fire := s.updateLocked()
	s.mu.Unlock()

	s.fire(fire)
}

// Pressed reports whether the switch at (row, col) is closed.
func (s *Sim) Pressed(row, col int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switches[row][col]
}

// SetColumn implements matrixkeypad.Lines.
func (s *Sim) SetColumn(col int, asserted bool) {
	s.mu.Lock()
	s.driven[col] = asserted
	fire := s.updateLocked()
	s.mu.Unlock()

	s.fire(fire)
}

// ReadRow implements matrixkeypad.Lines.
func (s *Sim) ReadRow(row int) bool {
	s.mu.Lock()
	delay := s.readDelay
	if s.failScans > 0 {
		s.failScans--
		s.mu.Unlock()
		panic(fmt.Sprintf("sim: row %d read failed", row))
	}

	driven := 0
	for _, d := range s.driven {
		if d {
			driven++
		}
	}
	if driven > s.maxDriven {
		s.maxDriven = driven
	}
	s.rowReads++
	asserted := s.rowLevelLocked(row)
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return asserted
}

// ConfigureRowSignal implements matrixkeypad.Lines.
func (s *Sim) ConfigureRowSignal(row int, debounce time.Duration, h matrixkeypad.SignalHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sim: closed")
	}
	if row < 0 || row >= s.rows {
		return fmt.Errorf("sim: row %d out of range", row)
	}
	s.handlers[row] = h
	s.debounce[row] = debounce
	return nil
}

// MaskRowSignal implements matrixkeypad.Lines.
func (s *Sim) MaskRowSignal(row int) {
	s.mu.Lock()
	s.masked[row] = true
	s.mu.Unlock()
}

// UnmaskRowSignal implements matrixkeypad.Lines.
func (s *Sim) UnmaskRowSignal(row int) {
	s.mu.Lock()
	s.masked[row] = false
	s.mu.Unlock()
}

// SetRowWake implements matrixkeypad.WakeSource.
func (s *Sim) SetRowWake(row int, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wake[row] = on
	return nil
}

// Masked reports whether the row signal is masked.
func (s *Sim) Masked(row int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masked[row]
}

// Wake reports whether the row is armed as a wake source.
func (s *Sim) Wake(row int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wake[row]
}

// Debounce returns the debounce hint passed for row.
func (s *Sim) Debounce(row int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debounce[row]
}

// Driven reports whether col is currently driven.
func (s *Sim) Driven(col int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driven[col]
}

// MaxDrivenDuringRead returns the largest number of columns that were driven
// at once while a row was read. A correct scan never exceeds 1.
func (s *Sim) MaxDrivenDuringRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxDriven
}

// RowReads returns the number of ReadRow calls.
func (s *Sim) RowReads() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowReads
}

// SetReadDelay makes every ReadRow sleep d (hardware settle).
func (s *Sim) SetReadDelay(d time.Duration) {
	s.mu.Lock()
	s.readDelay = d
	s.mu.Unlock()
}

// FailReads makes the next n ReadRow calls panic, aborting the scan.
func (s *Sim) FailReads(n int) {
	s.mu.Lock()
	s.failScans = n
	s.mu.Unlock()
}

// Close drops every handler.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for row := range s.handlers {
		s.handlers[row] = nil
	}
	return nil
}

func (s *Sim) rowLevelLocked(row int) bool {
	for col, d := range s.driven {
		if d && s.switches[row][col] {
			return true
		}
	}
	return false
}

// updateLocked recomputes row levels and returns the handlers to fire.
func (s *Sim) updateLocked() []func() {
	var fire []func()
	for row := 0; row < s.rows; row++ {
		lvl := s.rowLevelLocked(row)
		if lvl == s.level[row] {
			continue
		}
		s.level[row] = lvl

		if s.masked[row] || s.handlers[row] == nil {
			continue
		}
		h, r := s.handlers[row], row
		fire = append(fire, func() { h(r) })
	}
	return fire
}

func (s *Sim) fire(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
