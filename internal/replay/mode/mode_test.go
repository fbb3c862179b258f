package mode

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", Off, false},
		{"off", Off, false},
		{"RECORD", Recording, false},
		{" replay ", Replaying, false},
		{"replay-after-fork", Off, true},
		{"bogus", Off, true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, m := range []Mode{Off, Recording, Replaying} {
		got, err := Parse(m.String())
		if err != nil || got != m {
			t.Errorf("Parse(%q) = %v, %v; want %v", m.String(), got, err, m)
		}
	}
	if ReplayAfterFork.String() != "replay-after-fork" {
		t.Errorf("String() = %q", ReplayAfterFork.String())
	}
}

func TestStateTransitions(t *testing.T) {
	s := NewState(Replaying)

	if !s.CompareAndSwap(Replaying, ReplayAfterFork) {
		t.Fatal("CompareAndSwap(Replaying, ReplayAfterFork) = false")
	}
	if s.CompareAndSwap(Replaying, Off) {
		t.Error("CompareAndSwap from stale mode succeeded")
	}
	if got := s.Load(); got != ReplayAfterFork {
		t.Errorf("Load() = %v, want %v", got, ReplayAfterFork)
	}
	if !s.Load().Logging() || Off.Logging() {
		t.Error("Logging() misreports")
	}
}
