package lines

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/gpiod"

	"github.com/e7canasta/orion-keypad/modules/matrixkeypad"
)

// CdevLines implements matrixkeypad.Lines on the Linux GPIO character device.
//
// Electrical model (same as the common matrix-keypad wiring):
//   - Rows: inputs with pull-up, active-low (a closed switch on a driven
//     column pulls the row low)
//   - Columns: driven low when active, released to input (high-Z) otherwise
//
// Row signals are edge events delivered by gpiod's watcher goroutine. Masking
// is a per-row gate checked before the handler is called.
type CdevLines struct {
	chip     *gpiod.Chip
	consumer string

	rowOffsets []int
	colOffsets []int

	mu   sync.Mutex // guards rows while a row is re-requested
	rows []*gpiod.Line
	cols []*gpiod.Line

	masked []atomic.Bool
}

var _ matrixkeypad.Lines = (*CdevLines)(nil)

// OpenCdev requests the row and column lines on chip.
func OpenCdev(chip string, rows, cols []int, consumer string) (*CdevLines, error) {
	c, err := gpiod.NewChip(chip, gpiod.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("lines: open chip %s: %w", chip, err)
	}

	l := &CdevLines{
		chip:       c,
		consumer:   consumer,
		rowOffsets: append([]int(nil), rows...),
		colOffsets: append([]int(nil), cols...),
		rows:       make([]*gpiod.Line, len(rows)),
		cols:       make([]*gpiod.Line, len(cols)),
		masked:     make([]atomic.Bool, len(rows)),
	}

	for i, off := range cols {
		line, err := c.RequestLine(off, gpiod.AsInput)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("lines: request column %d (offset %d): %w", i, off, err)
		}
		l.cols[i] = line
	}

	for i, off := range rows {
		line, err := c.RequestLine(off, gpiod.AsInput, gpiod.WithPullUp, gpiod.AsActiveLow)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("lines: request row %d (offset %d): %w", i, off, err)
		}
		l.rows[i] = line
	}

	slog.Info("lines: gpio character device opened",
		"chip", chip,
		"rows", rows,
		"cols", cols,
		"consumer", consumer,
	)

	return l, nil
}

// SetColumn implements matrixkeypad.Lines.
func (l *CdevLines) SetColumn(col int, asserted bool) {
	var err error
	if asserted {
		err = l.cols[col].Reconfigure(gpiod.AsOutput(0))
	} else {
		err = l.cols[col].Reconfigure(gpiod.AsInput)
	}
	if err != nil {
		slog.Debug("lines: column reconfigure failed",
			"col", col,
			"offset", l.colOffsets[col],
			"asserted", asserted,
			"error", err,
		)
	}
}

// ReadRow implements matrixkeypad.Lines. Read errors report "not asserted".
func (l *CdevLines) ReadRow(row int) bool {
	l.mu.Lock()
	line := l.rows[row]
	l.mu.Unlock()

	v, err := line.Value()
	if err != nil {
		slog.Debug("lines: row read failed", "row", row, "offset", l.rowOffsets[row], "error", err)
		return false
	}
	return v == 1
}

// ConfigureRowSignal re-requests the row line with both-edge detection, the
// debounce period and an event handler.
func (l *CdevLines) ConfigureRowSignal(row int, debounce time.Duration, h matrixkeypad.SignalHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if old := l.rows[row]; old != nil {
		old.Close()
		l.rows[row] = nil
	}

	opts := []gpiod.LineReqOption{
		gpiod.AsInput,
		gpiod.WithPullUp,
		gpiod.AsActiveLow,
		gpiod.WithBothEdges,
		gpiod.WithEventHandler(func(gpiod.LineEvent) {
			if l.masked[row].Load() {
				return
			}
			h(row)
		}),
	}
	if debounce > 0 {
		opts = append(opts, gpiod.WithDebounce(debounce))
	}

	line, err := l.chip.RequestLine(l.rowOffsets[row], opts...)
	if err != nil {
		return fmt.Errorf("lines: request row %d signal (offset %d): %w", row, l.rowOffsets[row], err)
	}
	l.rows[row] = line
	return nil
}

// MaskRowSignal implements matrixkeypad.Lines.
func (l *CdevLines) MaskRowSignal(row int) { l.masked[row].Store(true) }

// UnmaskRowSignal implements matrixkeypad.Lines.
func (l *CdevLines) UnmaskRowSignal(row int) { l.masked[row].Store(false) }

// Close releases every requested line and the chip.
func (l *CdevLines) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, line := range l.rows {
		if line != nil {
			line.Close()
		}
	}
	for _, line := range l.cols {
		if line != nil {
			line.Close()
		}
	}
	return l.chip.Close()
}
