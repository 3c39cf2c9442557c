// Package lines provides the digital I/O backends for the matrix keypad:
// the Linux GPIO character device (gpiod), periph.io pins, and an in-memory
// simulator used by tests and the terminal simulator.
package lines

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/e7canasta/orion-keypad/internal/config"
	"github.com/e7canasta/orion-keypad/modules/matrixkeypad"
)

// Backend is a Lines implementation that owns OS resources.
type Backend interface {
	matrixkeypad.Lines
	io.Closer
}

// Open builds the backend selected by cfg.Driver, retrying transient failures.
func Open(ctx context.Context, cfg config.LinesConfig) (Backend, error) {
	retry := DefaultRetryConfig()
	if cfg.OpenRetries > 0 {
		retry.MaxRetries = cfg.OpenRetries
	}
	if cfg.OpenRetryDelayMS > 0 {
		retry.RetryDelay = time.Duration(cfg.OpenRetryDelayMS) * time.Millisecond
	}
	if cfg.OpenMaxRetryDelayMS > 0 {
		retry.MaxRetryDelay = time.Duration(cfg.OpenMaxRetryDelayMS) * time.Millisecond
	}

	switch cfg.Driver {
	case "sim":
		return NewSim(len(cfg.RowGPIOs), len(cfg.ColGPIOs)), nil

	case "gpiocdev":
		rows, err := parseOffsets(cfg.RowGPIOs)
		if err != nil {
			return nil, fmt.Errorf("lines: row_gpios: %w", err)
		}
		cols, err := parseOffsets(cfg.ColGPIOs)
		if err != nil {
			return nil, fmt.Errorf("lines: col_gpios: %w", err)
		}
		return openWithRetry(ctx, func() (Backend, error) {
			return OpenCdev(cfg.Chip, rows, cols, cfg.Consumer)
		}, retry)

	case "periph":
		return openWithRetry(ctx, func() (Backend, error) {
			return OpenPeriph(cfg.RowGPIOs, cfg.ColGPIOs)
		}, retry)

	default:
		return nil, fmt.Errorf("lines: unknown driver %q", cfg.Driver)
	}
}

func parseOffsets(names []string) ([]int, error) {
	offsets := make([]int, len(names))
	for i, s := range names {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid line offset %q", s)
		}
		offsets[i] = n
	}
	return offsets, nil
}
