package ticks

import "testing"

func TestInRange(t *testing.T) {
	tests := []struct {
		name         string
		tick         int32
		lower, upper int32
		want         bool
	}{
		{"inside", 150, 100, 200, true},
		{"at lower bound", 100, 100, 200, true},
		{"at upper bound", 200, 100, 200, true},
		{"below", 99, 100, 200, false},
		{"above", 201, 100, 200, false},
		{"negative bounds", -50, -100, -10, true},
		{"zero tick", 0, -10, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InRange(tt.tick, tt.lower, tt.upper); got != tt.want {
				t.Errorf("InRange(%d, %d, %d) = %v, want %v", tt.tick, tt.lower, tt.upper, got, tt.want)
			}
		})
	}
}

func TestCrossed(t *testing.T) {
	tests := []struct {
		name             string
		oldTick, newTick int32
		wantCrossed      bool
		wantInRange      bool
	}{
		{"left upward", 150, 300, true, false},
		{"left downward", 150, 50, true, false},
		{"entered", 300, 150, true, true},
		{"stayed inside", 150, 180, false, true},
		{"stayed outside", 300, 400, false, false},
		{"passed through to other side", 50, 300, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crossed, inRange := Crossed(tt.oldTick, tt.newTick, 100, 200)
			if crossed != tt.wantCrossed || inRange != tt.wantInRange {
				t.Errorf("Crossed(%d, %d, 100, 200) = (%v, %v), want (%v, %v)",
					tt.oldTick, tt.newTick, crossed, inRange, tt.wantCrossed, tt.wantInRange)
			}
		})
	}
}

func TestLeftAndEnteredRange(t *testing.T) {
	if !LeftRange(150, 300, 100, 200) {
		t.Error("expected 150 -> 300 to leave [100, 200]")
	}
	if LeftRange(300, 400, 100, 200) {
		t.Error("did not expect 300 -> 400 to leave [100, 200]")
	}
	if LeftRange(50, 300, 100, 200) {
		t.Error("a move that never started inside cannot leave the range")
	}
	if !EnteredRange(300, 150, 100, 200) {
		t.Error("expected 300 -> 150 to enter [100, 200]")
	}
	if EnteredRange(150, 180, 100, 200) {
		t.Error("did not expect an inside move to count as entering")
	}
}
