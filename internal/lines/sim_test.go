package lines

import (
	"sync/atomic"
	"testing"
)

func TestSim_RowAssertedOnlyThroughDrivenColumn(t *testing.T) {
	s := NewSim(2, 3)
	s.Press(1, 2)

	if s.ReadRow(1) {
		t.Fatal("row 1 asserted with no column driven")
	}

	s.SetColumn(0, true)
	if s.ReadRow(1) {
		t.Error("row 1 asserted through column 0, switch is on column 2")
	}

	s.SetColumn(2, true)
	if !s.ReadRow(1) {
		t.Error("row 1 not asserted with column 2 driven")
	}
	if s.ReadRow(0) {
		t.Error("row 0 asserted, no switch closed on it")
	}
}

func TestSim_EdgesFireHandler(t *testing.T) {
	s := NewSim(2, 2)

	var edges [2]atomic.Int32
	for row := 0; row < 2; row++ {
		if err := s.ConfigureRowSignal(row, 0, func(r int) { edges[r].Add(1) }); err != nil {
			t.Fatalf("ConfigureRowSignal(%d) failed: %v", row, err)
		}
	}
	s.SetColumn(0, true)
	s.SetColumn(1, true)

	s.Press(0, 1)
	s.Release(0, 1)

	if got := edges[0].Load(); got != 2 {
		t.Errorf("row 0 edges = %d, want 2 (press + release)", got)
	}
	if got := edges[1].Load(); got != 0 {
		t.Errorf("row 1 edges = %d, want 0", got)
	}
}

func TestSim_MaskedEdgesAreLost(t *testing.T) {
	s := NewSim(1, 1)

	var edges atomic.Int32
	s.ConfigureRowSignal(0, 0, func(int) { edges.Add(1) })
	s.SetColumn(0, true)

	s.MaskRowSignal(0)
	s.Press(0, 0)
	s.UnmaskRowSignal(0)

	if got := edges.Load(); got != 0 {
		t.Errorf("edges = %d, want 0 (edge happened while masked)", got)
	}

	// Level is already asserted, so no new edge until release
	s.Release(0, 0)
	if got := edges.Load(); got != 1 {
		t.Errorf("edges = %d, want 1 after release", got)
	}
}

func TestSim_SecondKeyOnAssertedRowNoEdge(t *testing.T) {
	s := NewSim(1, 2)

	var edges atomic.Int32
	s.ConfigureRowSignal(0, 0, func(int) { edges.Add(1) })
	s.SetColumn(0, true)
	s.SetColumn(1, true)

	s.Press(0, 0)
	s.Press(0, 1)

	if got := edges.Load(); got != 1 {
		t.Errorf("edges = %d, want 1 (row level unchanged by second key)", got)
	}
}

func TestSim_MaxDrivenDuringRead(t *testing.T) {
	s := NewSim(1, 3)

	s.SetColumn(0, true)
	s.ReadRow(0)
	s.SetColumn(1, true)
	s.ReadRow(0)

	if got := s.MaxDrivenDuringRead(); got != 2 {
		t.Errorf("MaxDrivenDuringRead() = %d, want 2", got)
	}
	if got := s.RowReads(); got != 2 {
		t.Errorf("RowReads() = %d, want 2", got)
	}
}

func TestSim_FailReadsPanics(t *testing.T) {
	s := NewSim(1, 1)
	s.FailReads(1)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("ReadRow did not panic")
			}
		}()
		s.ReadRow(0)
	}()

	// Only the first read fails
	s.ReadRow(0)
}

func TestSim_ConfigureAfterClose(t *testing.T) {
	s := NewSim(1, 1)
	s.Close()

	if err := s.ConfigureRowSignal(0, 0, func(int) {}); err == nil {
		t.Error("ConfigureRowSignal after Close succeeded")
	}
}
