package tracker

import (
	"sync"
	"testing"
)

func TestMinuteTracker_RotationSealsMinute(t *testing.T) {
	tr := NewMinuteTracker()

	tr.RecordHeartbeat()
	tr.RecordHeartbeat()
	tr.RecordHeartbeat()

	// Heartbeats in the open minute are not visible until rotation.
	if tr.IsCurrentlyActive() {
		t.Error("open minute should not count as active before rotation")
	}
	if got := tr.TotalActiveMinutes(); got != 0 {
		t.Errorf("TotalActiveMinutes = %d before rotation, want 0", got)
	}

	tr.RotateMinute()

	if !tr.IsCurrentlyActive() {
		t.Error("rotated minute with heartbeats should be active")
	}
	if got := tr.TotalActiveMinutes(); got != 1 {
		t.Errorf("TotalActiveMinutes = %d, want 1: many heartbeats in one minute count once", got)
	}
}

func TestMinuteTracker_EmptyRotation(t *testing.T) {
	tr := NewMinuteTracker()
	tr.RotateMinute()

	if tr.IsCurrentlyActive() {
		t.Error("empty minute should not be active")
	}
	if got := tr.TotalActiveMinutes(); got != 0 {
		t.Errorf("TotalActiveMinutes = %d, want 0", got)
	}
}

func TestMinuteTracker_HistoryCapAndOrder(t *testing.T) {
	tr := NewMinuteTracker()

	// Pattern oldest-to-newest: 1, 0, 1, 1, 0, 1.
	for _, active := range []bool{true, false, true, true, false, true} {
		if active {
			tr.RecordHeartbeat()
		}
		tr.RotateMinute()
	}

	if !tr.IsCurrentlyActive() {
		t.Error("most recent minute was active")
	}
	// History holds 4 entries; LastThreeMinutes excludes the newest.
	// Newest-first the history is [1 0 1 1], so the last three are [0 1 1].
	got := tr.LastThreeMinutes()
	want := []int{0, 1, 1}
	if len(got) != len(want) {
		t.Fatalf("LastThreeMinutes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("LastThreeMinutes = %v, want %v", got, want)
		}
	}
	if total := tr.TotalActiveMinutes(); total != 4 {
		t.Errorf("TotalActiveMinutes = %d, want 4: the total survives history trimming", total)
	}
}

func TestMinuteTracker_Percentage(t *testing.T) {
	tests := []struct {
		name         string
		activeOf     [2]int // active minutes, total rotations
		totalMinutes int
		want         float64
	}{
		{"one of ten", [2]int{1, 10}, 10, 10.00},
		{"all active", [2]int{5, 5}, 5, 100.00},
		{"two thirds", [2]int{2, 3}, 3, 66.67},
		{"zero total minutes", [2]int{3, 3}, 0, 0},
		{"negative total minutes", [2]int{3, 3}, -5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewMinuteTracker()
			for i := 0; i < tt.activeOf[1]; i++ {
				if i < tt.activeOf[0] {
					tr.RecordHeartbeat()
				}
				tr.RotateMinute()
			}
			if got := tr.Percentage(tt.totalMinutes); got != tt.want {
				t.Errorf("Percentage(%d) = %v, want %v", tt.totalMinutes, got, tt.want)
			}
		})
	}
}

func TestMinuteTracker_ActiveForStrictThreshold(t *testing.T) {
	tests := []struct {
		name          string
		activeMinutes int
		totalMinutes  int
		want          bool
	}{
		{"exactly 80 percent is not active", 8, 10, false},
		{"just over 80 percent is active", 9, 10, true},
		{"fully active", 10, 10, true},
		{"zero total minutes never active", 5, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewMinuteTracker()
			for i := 0; i < tt.activeMinutes; i++ {
				tr.RecordHeartbeat()
				tr.RotateMinute()
			}
			if got := tr.ActiveFor(tt.totalMinutes, 0.8); got != tt.want {
				t.Errorf("ActiveFor(%d, 0.8) with %d active = %v, want %v",
					tt.totalMinutes, tt.activeMinutes, got, tt.want)
			}
		})
	}
}

func TestMinuteTracker_ConcurrentHeartbeats(t *testing.T) {
	tr := NewMinuteTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.RecordHeartbeat()
			}
		}()
	}
	wg.Wait()
	tr.RotateMinute()

	if got := tr.TotalActiveMinutes(); got != 1 {
		t.Errorf("TotalActiveMinutes = %d, want 1 regardless of heartbeat volume", got)
	}
}
