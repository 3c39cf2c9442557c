package lines

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpioutil"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/e7canasta/orion-keypad/modules/matrixkeypad"
)

// pollRate is the software edge-detection rate for pins without edge support.
const pollRate = 200 * physic.Hertz

// PeriphLines implements matrixkeypad.Lines on periph.io pins.
//
// Same electrical model as CdevLines. Each configured row signal owns a
// watcher goroutine blocked in WaitForEdge; Close halts the pins and waits
// for the watchers.
type PeriphLines struct {
	rows []gpio.PinIO
	cols []gpio.PinIO

	masked  []atomic.Bool
	closing atomic.Bool
	wg      sync.WaitGroup
}

var _ matrixkeypad.Lines = (*PeriphLines)(nil)

// OpenPeriph initializes the periph host and looks up pins by name (e.g. "GPIO17").
func OpenPeriph(rowNames, colNames []string) (*PeriphLines, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("lines: periph host init: %w", err)
	}

	l := &PeriphLines{
		rows:   make([]gpio.PinIO, len(rowNames)),
		cols:   make([]gpio.PinIO, len(colNames)),
		masked: make([]atomic.Bool, len(rowNames)),
	}

	for i, name := range colNames {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("lines: unknown column pin %q", name)
		}
		if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("lines: column pin %s: %w", name, err)
		}
		l.cols[i] = p
	}

	for i, name := range rowNames {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("lines: unknown row pin %q", name)
		}
		if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("lines: row pin %s: %w", name, err)
		}
		l.rows[i] = p
	}

	slog.Info("lines: periph pins opened", "rows", rowNames, "cols", colNames)

	return l, nil
}

// SetColumn implements matrixkeypad.Lines.
func (l *PeriphLines) SetColumn(col int, asserted bool) {
	p := l.cols[col]

	var err error
	if asserted {
		err = p.Out(gpio.Low)
	} else {
		err = p.In(gpio.PullUp, gpio.NoEdge)
	}
	if err != nil {
		slog.Debug("lines: column set failed", "col", col, "pin", p.Name(), "asserted", asserted, "error", err)
	}
}

// ReadRow implements matrixkeypad.Lines.
func (l *PeriphLines) ReadRow(row int) bool {
	return l.rows[row].Read() == gpio.Low
}

// ConfigureRowSignal enables both-edge detection on the row pin and starts its
// watcher goroutine. Pins without edge support fall back to polling. periph
// has no hardware debounce, so the hint is only logged.
func (l *PeriphLines) ConfigureRowSignal(row int, debounce time.Duration, h matrixkeypad.SignalHandler) error {
	p := l.rows[row]

	if err := p.In(gpio.PullUp, gpio.BothEdges); err != nil {
		slog.Debug("lines: no edge support, polling", "row", row, "pin", p.Name(), "error", err)
		p = gpioutil.PollEdge(p, pollRate)
		if err := p.In(gpio.PullUp, gpio.BothEdges); err != nil {
			return fmt.Errorf("lines: row pin %s: %w", p.Name(), err)
		}
		l.rows[row] = p
	}

	if debounce > 0 {
		slog.Debug("lines: debounce hint ignored by periph backend", "row", row, "debounce", debounce)
	}

	l.wg.Add(1)
	go l.watch(row, p, h)
	return nil
}

func (l *PeriphLines) watch(row int, p gpio.PinIO, h matrixkeypad.SignalHandler) {
	defer l.wg.Done()

	for !l.closing.Load() {
		if !p.WaitForEdge(-1) {
			continue
		}
		if l.closing.Load() {
			return
		}
		if l.masked[row].Load() {
			continue
		}
		h(row)
	}
}

// MaskRowSignal implements matrixkeypad.Lines.
func (l *PeriphLines) MaskRowSignal(row int) { l.masked[row].Store(true) }

// UnmaskRowSignal implements matrixkeypad.Lines.
func (l *PeriphLines) UnmaskRowSignal(row int) { l.masked[row].Store(false) }

// Close stops the watchers and releases the pins to inputs.
func (l *PeriphLines) Close() error {
	if l.closing.Swap(true) {
		return nil
	}

	for _, p := range l.rows {
		p.Halt()
	}
	l.wg.Wait()

	for _, p := range l.cols {
		p.In(gpio.PullUp, gpio.NoEdge)
	}
	return nil
}
