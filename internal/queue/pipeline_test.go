package queue

import (
	"testing"
)

func TestStageBandScale(t *testing.T) {
	fetch := stageBand(0, 2)
	transcribe := stageBand(1, 2)

	tests := []struct {
		name    string
		band    progressBand
		percent float64
		min     float64
		max     float64
	}{
		{"fetch start", fetch, 0, 0, 0},
		{"fetch half", fetch, 50, 25, 25},
		{"fetch done stays below next band", fetch, 100, 49.999, 50},
		{"fetch clamps negative", fetch, -10, 0, 0},
		{"transcribe start", transcribe, 0, 50, 50},
		{"transcribe done", transcribe, 100, 100, 100},
		{"transcribe clamps overflow", transcribe, 150, 100, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.band.scale(tt.percent)
			if got < tt.min || got > tt.max {
				t.Fatalf("scale(%v) = %v, want within [%v, %v]", tt.percent, got, tt.min, tt.max)
			}
		})
	}
	if fetch.scale(100) >= 50 {
		t.Fatal("non-final band reached its upper edge")
	}
}

func TestStageBandThreeStages(t *testing.T) {
	mid := stageBand(1, 3)
	if got := mid.scale(0); got < 33.3 || got > 33.4 {
		t.Fatalf("low = %v", got)
	}
	if got := mid.scale(100); got >= mid.high {
		t.Fatalf("high = %v, want below %v", got, mid.high)
	}
}
