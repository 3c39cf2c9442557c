package internal

import (
	"errors"
	"time"
)

// MaxRows is the number of row bits a single column mask can hold.
const MaxRows = 32

var (
	// ErrWouldBlock is returned by a non-blocking read when no event is unread.
	ErrWouldBlock = errors.New("matrixkeypad: no event ready")

	// ErrInterrupted is returned when a blocking read is cancelled by its context.
	// The returned error also wraps ctx.Err(). Callers may retry.
	ErrInterrupted = errors.New("matrixkeypad: read interrupted")

	// ErrInvalidConfig is returned by New when the configuration is rejected.
	ErrInvalidConfig = errors.New("matrixkeypad: invalid config")

	// ErrClosed is returned by operations on a closed keypad.
	ErrClosed = errors.New("matrixkeypad: keypad closed")
)

// SignalHandler is invoked by a Lines backend when a row line edge fires.
//
// Contract:
//   - Called from the backend's signal context (edge watcher goroutine)
//   - MUST return quickly: no hardware reads, no sleeps
type SignalHandler func(row int)

// Lines is the digital I/O surface of the switch matrix.
//
// Implementations live outside this package (internal/lines in the module
// root): Linux GPIO character device, periph.io, and an in-memory simulator.
type Lines interface {
	// SetColumn drives (asserted=true) or releases a column line.
	SetColumn(col int, asserted bool)

	// ReadRow returns the logical level of a row after polarity inversion.
	// May block briefly. Read failures are reported as false.
	ReadRow(row int) bool

	// ConfigureRowSignal turns a row line into an edge-triggered signal that
	// calls h. debounce is a hint for hardware filtering.
	ConfigureRowSignal(row int, debounce time.Duration, h SignalHandler) error

	// MaskRowSignal suppresses signals from a row until UnmaskRowSignal.
	MaskRowSignal(row int)

	// UnmaskRowSignal re-arms a row signal.
	UnmaskRowSignal(row int)
}

// WakeSource is implemented by backends that can keep row signals armed as
// system wake sources across a low-power transition.
type WakeSource interface {
	SetRowWake(row int, on bool) error
}

// Snapshot holds one bitmask per column: bit r of Snapshot[c] is set iff row r
// was asserted in column c during the scan that produced it.
type Snapshot []uint32

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	copy(out, s)
	return out
}

// Event is one switch transition handed to the consumer.
type Event struct {
	// Row and Col locate the switch in the matrix (0-indexed).
	Row int
	Col int

	// Symbol is the keymap entry for (Row, Col). Only valid if HasSymbol.
	Symbol    rune
	HasSymbol bool

	// Pressed is true for press transitions. Release events are only
	// produced when Config.ReportReleases is set.
	Pressed bool

	// Seq is assigned on post. Monotonically increasing per keypad.
	Seq uint64
}

// State is the pipeline controller state.
type State int

const (
	// StateIdle: signals unmasked, no scan scheduled.
	StateIdle State = iota
	// StateScanPending: signals masked, scan scheduled after the settle delay.
	StateScanPending
	// StateScanning: the scan is reading the matrix.
	StateScanning
	// StateStopped: explicit stop; only Start leaves it.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanPending:
		return "scan-pending"
	case StateScanning:
		return "scanning"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds the static keypad configuration, read once by New.
type Config struct {
	// Rows and Cols are the matrix dimensions. Rows <= MaxRows.
	Rows int
	Cols int

	// Debounce is passed to Lines.ConfigureRowSignal as the filter hint.
	Debounce time.Duration

	// ColumnSettle is the wait after driving a column, before reading rows.
	ColumnSettle time.Duration

	// SettleDelay is the wait between a row signal and the scan it triggers.
	// Zero selects DefaultSettleDelay.
	SettleDelay time.Duration

	// Wakeup keeps row signals armed as wake sources across Suspend.
	Wakeup bool

	// Keymap optionally decodes (row, col) into a symbol: Keymap[row][col].
	Keymap [][]rune

	// ReportReleases surfaces release transitions in addition to presses.
	ReportReleases bool
}

// DefaultSettleDelay is the signal-to-scan delay used when Config.SettleDelay is zero.
const DefaultSettleDelay = 15 * time.Millisecond

// Stats is a snapshot of keypad operational counters.
type Stats struct {
	// State is the controller state at the time of the call.
	State State

	// Signals counts row signals delivered by the backend.
	Signals uint64

	// SignalsDropped counts signals discarded because a scan was pending or
	// the pipeline was stopped.
	SignalsDropped uint64

	// Scans counts completed scans, resync scans included.
	Scans uint64

	// ScansAborted counts scans abandoned because the backend failed mid-scan.
	ScansAborted uint64

	// EventsPosted counts events written to the mailbox.
	EventsPosted uint64

	// EventsOverwritten counts unread events superseded by a newer one.
	EventsOverwritten uint64

	// EventsTaken counts events handed to a reader.
	EventsTaken uint64
}
