package buffer

import "testing"

func TestIsSuperseded(t *testing.T) {
	tests := []struct {
		name      string
		latest    string
		notifID   string
		superseded bool
	}{
		{"no pending message at all", "", "m1", true},
		{"notification matches the latest pending", "m1", "m1", false},
		{"a newer message already superseded this notification", "m2", "m1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSuperseded(tt.latest, tt.notifID); got != tt.superseded {
				t.Errorf("isSuperseded(%q, %q) = %v, want %v", tt.latest, tt.notifID, got, tt.superseded)
			}
		})
	}
}

func TestBelowThreshold(t *testing.T) {
	tests := []struct {
		pending, maxTurns int
		want              bool
	}{
		{2, 3, true},
		{3, 3, false}, // boundary: exactly at threshold triggers immediate flush, not idle delay
		{4, 3, false},
	}
	for _, tt := range tests {
		if got := belowThreshold(tt.pending, tt.maxTurns); got != tt.want {
			t.Errorf("belowThreshold(%d, %d) = %v, want %v", tt.pending, tt.maxTurns, got, tt.want)
		}
	}
}

func TestIsOverflow(t *testing.T) {
	tests := []struct {
		pendingAtCheck, limit int
		want                  bool
	}{
		{6, 6, false}, // boundary: exactly at the claim limit is not overflow
		{7, 6, true},
		{5, 6, false},
	}
	for _, tt := range tests {
		if got := isOverflow(tt.pendingAtCheck, tt.limit); got != tt.want {
			t.Errorf("isOverflow(%d, %d) = %v, want %v", tt.pendingAtCheck, tt.limit, got, tt.want)
		}
	}
}
