package caption

import (
	"errors"
	"testing"
	"time"
)

func seg(id string, start, end float64) Segment {
	return Segment{ID: id, SessionID: "s1", Start: start, End: end, Text: id}
}

func TestSegment_Validate(t *testing.T) {
	low, high := -0.1, 1.2
	tests := []struct {
		name    string
		seg     Segment
		wantErr bool
	}{
		{"valid", seg("a", 0, 1), false},
		{"missing id", Segment{Start: 0, End: 1}, true},
		{"zero length", seg("a", 2, 2), true},
		{"reversed", seg("a", 3, 2), true},
		{"confidence below range", Segment{ID: "a", Start: 0, End: 1, Confidence: &low}, true},
		{"confidence above range", Segment{ID: "a", Start: 0, End: 1, Confidence: &high}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.seg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := seg("a", 5, 1).Validate(); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestSegment_Duration(t *testing.T) {
	if got := seg("a", 1.5, 4).Duration(); got != 2500*time.Millisecond {
		t.Errorf("Duration() = %v, want 2.5s", got)
	}
}

func TestAt(t *testing.T) {
	segments := []Segment{
		seg("a", 0, 2),
		seg("b", 2, 5),
		seg("c", 7, 9),
	}

	tests := []struct {
		name string
		t    float64
		want int
	}{
		{"start inclusive", 0, 0},
		{"inside first", 1.999, 0},
		{"shared boundary selects next", 2, 1},
		{"inside second", 4.5, 1},
		{"end exclusive into gap", 5, -1},
		{"gap is not rounded", 6.9, -1},
		{"third start", 7, 2},
		{"past the end", 9, -1},
		{"before the start", -1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := At(segments, tt.t); got != tt.want {
				t.Errorf("At(%g) = %d, want %d", tt.t, got, tt.want)
			}
		})
	}
}

func TestAt_UniqueMatchOverSweep(t *testing.T) {
	segments := []Segment{seg("a", 0, 1), seg("b", 1, 2.5), seg("c", 3, 4)}

	for ts := -0.5; ts < 5; ts += 0.05 {
		matches := 0
		for _, s := range segments {
			if s.Contains(ts) {
				matches++
			}
		}
		idx := At(segments, ts)
		switch {
		case matches == 0 && idx != -1:
			t.Fatalf("t=%g: expected no match, got %d", ts, idx)
		case matches == 1 && (idx < 0 || !segments[idx].Contains(ts)):
			t.Fatalf("t=%g: expected the containing segment, got %d", ts, idx)
		case matches > 1:
			t.Fatalf("t=%g: fixture segments overlap", ts)
		}
	}
}

func TestAt_Empty(t *testing.T) {
	if got := At(nil, 3); got != -1 {
		t.Errorf("At(nil) = %d, want -1", got)
	}
}
