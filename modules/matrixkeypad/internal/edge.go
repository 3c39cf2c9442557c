package internal

// Transition is one switch state change found by Detect.
type Transition struct {
	Row     int
	Col     int
	Pressed bool
}

// Diff returns the per-column symmetric difference next[c] XOR prev[c].
//
// Columns missing from prev are treated as all-released. The result has
// len(next) entries.
func Diff(prev, next Snapshot) Snapshot {
	diff := make(Snapshot, len(next))
	for col := range next {
		var old uint32
		if col < len(prev) {
			old = prev[col]
		}
		diff[col] = next[col] ^ old
	}
	return diff
}

// Detect lists the transitions between two snapshots.
//
// Order: columns ascending, rows ascending within a column. Callers that post
// each transition to the mailbox therefore leave the last one in this order
// as the unread event.
//
// Press transitions (bit set in next) are always reported. Release
// transitions are reported only if releases is true.
func Detect(prev, next Snapshot, rows int, releases bool) []Transition {
	var out []Transition

	for col, changed := range Diff(prev, next) {
		if changed == 0 {
			continue
		}

		for row := 0; row < rows; row++ {
			bit := uint32(1) << uint(row)
			if changed&bit == 0 {
				continue
			}

			pressed := next[col]&bit != 0
			if !pressed && !releases {
				continue
			}

			out = append(out, Transition{Row: row, Col: col, Pressed: pressed})
		}
	}

	return out
}
