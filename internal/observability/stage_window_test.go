package observability

import (
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	w.Observe(StageHandshake, 500*time.Millisecond)
	w.Observe(StageHandshake, 700*time.Millisecond)
	w.Observe(StageHandshake, 900*time.Millisecond)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageHandshake {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageHandshake)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 900 {
		t.Fatalf("TargetP95MS = %.2f, want 900", s.TargetP95MS)
	}
}

func TestStageWindowWrapsOldestSamples(t *testing.T) {
	w := NewStageWindow(2)
	w.Observe(StageTokenFetch, 100*time.Millisecond)
	w.Observe(StageTokenFetch, 200*time.Millisecond)
	w.Observe(StageTokenFetch, 300*time.Millisecond)

	snap := w.Snapshot()
	s := snap.Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2 after wrap", s.Samples)
	}
	if s.LastMS != 300 {
		t.Fatalf("LastMS = %.2f, want 300", s.LastMS)
	}
}

func TestStageWindowReset(t *testing.T) {
	w := NewStageWindow(4)
	w.Observe(StageConnectTotal, time.Second)
	w.Reset()
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) = %d after Reset, want 0", got)
	}
}
