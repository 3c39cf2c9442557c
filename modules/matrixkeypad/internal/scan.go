package internal

import "time"

// activateColumns drives every column to the same level.
func activateColumns(lines Lines, cols int, on bool) {
	for col := 0; col < cols; col++ {
		lines.SetColumn(col, on)
	}
}

// scanMatrix performs one complete electrical scan of the matrix.
//
// Algorithm:
//  1. Release all columns
//  2. For each column in ascending order: drive it, wait settle, read every
//     row into bit r of the column mask, release it
//  3. Drive all columns again (deferred, so it also runs if a backend call
//     panics) so a key press can pull a row and raise a signal while idle
//
// Invariant: at most one column is driven while rows are being read.
//
// Thread-safety: called only from the delayed-work goroutine, never with the
// pipeline lock held (ReadRow and settle may block).
func scanMatrix(lines Lines, rows, cols int, settle time.Duration) Snapshot {
	snap := make(Snapshot, cols)

	activateColumns(lines, cols, false)
	defer activateColumns(lines, cols, true)

	for col := 0; col < cols; col++ {
		lines.SetColumn(col, true)
		if settle > 0 {
			time.Sleep(settle)
		}

		for row := 0; row < rows; row++ {
			if lines.ReadRow(row) {
				snap[col] |= 1 << uint(row)
			}
		}

		lines.SetColumn(col, false)
	}

	return snap
}
