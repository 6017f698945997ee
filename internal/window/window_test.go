package window

import (
	"errors"
	"testing"
	"time"
)

var tehran = time.FixedZone("IRST", 3*3600+1800)

func TestParseClock(t *testing.T) {
	tests := []struct {
		input   string
		want    Clock
		wantErr bool
	}{
		{"22:00", Clock{22, 0}, false},
		{"00:01", Clock{0, 1}, false},
		{" 7:05 ", Clock{7, 5}, false},
		{"24:00", Clock{}, true},
		{"12:60", Clock{}, true},
		{"noon", Clock{}, true},
		{"", Clock{}, true},
	}

	for _, tt := range tests {
		got, err := ParseClock(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestClockAfter(t *testing.T) {
	tests := []struct {
		a, b Clock
		want bool
	}{
		{Clock{22, 0}, Clock{1, 0}, true},
		{Clock{1, 0}, Clock{22, 0}, false},
		{Clock{8, 30}, Clock{8, 15}, true},
		{Clock{8, 15}, Clock{8, 15}, false},
	}
	for _, tt := range tests {
		if got := tt.a.After(tt.b); got != tt.want {
			t.Errorf("%v.After(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestResolveFixed(t *testing.T) {
	p := Policy{
		Mode:     ModeFixed,
		Start:    Clock{22, 0},
		StartDay: Yesterday,
		End:      Clock{1, 0},
		Location: tehran,
	}

	now := time.Date(2026, 10, 17, 6, 30, 0, 0, tehran)
	w, err := p.Resolve(now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	wantStart := time.Date(2026, 10, 16, 22, 0, 0, 0, tehran)
	wantEnd := time.Date(2026, 10, 17, 1, 0, 0, 0, tehran)
	if !w.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", w.Start, wantStart)
	}
	if !w.End.Equal(wantEnd) {
		t.Errorf("end = %v, want %v", w.End, wantEnd)
	}
}

func TestResolveFixedUsesLocationCalendarDay(t *testing.T) {
	p := Policy{Mode: ModeFixed, Start: Clock{22, 0}, End: Clock{1, 0}, Location: tehran}

	// 21:00 UTC on the 16th is already 00:30 on the 17th in Tehran.
	now := time.Date(2026, 10, 16, 21, 0, 0, 0, time.UTC)
	w, err := p.Resolve(now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := w.End.Day(); got != 17 {
		t.Errorf("end day = %d, want 17", got)
	}
}

func TestResolveFixedMonthBoundary(t *testing.T) {
	p := Policy{Mode: ModeFixed, Start: Clock{22, 0}, End: Clock{0, 1}, Location: time.UTC}

	w, err := p.Resolve(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := time.Date(2026, 2, 28, 22, 0, 0, 0, time.UTC)
	if !w.Start.Equal(want) {
		t.Errorf("start = %v, want %v", w.Start, want)
	}
}

func TestResolveRolling(t *testing.T) {
	p := Policy{Mode: ModeRolling, Start: Clock{22, 0}, StartDay: Yesterday, Cutoff: Clock{3, 0}, Location: tehran}

	now := time.Date(2026, 10, 17, 0, 45, 0, 0, tehran)
	w, err := p.Resolve(now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !w.End.Equal(now) {
		t.Errorf("end = %v, want now %v", w.End, now)
	}

	later := now.Add(5 * time.Minute)
	w2, err := p.Resolve(later)
	if err != nil {
		t.Fatalf("resolve later: %v", err)
	}
	if !w2.Start.Equal(w.Start) {
		t.Errorf("start moved: %v -> %v", w.Start, w2.Start)
	}
	if !w2.End.Equal(later) {
		t.Errorf("end = %v, want %v", w2.End, later)
	}

	wantDeadline := time.Date(2026, 10, 17, 3, 0, 0, 0, tehran)
	if got := p.Deadline(now); !got.Equal(wantDeadline) {
		t.Errorf("deadline = %v, want %v", got, wantDeadline)
	}
}

func TestDeadlineAfterStart(t *testing.T) {
	p := Policy{Mode: ModeRolling, Start: Clock{21, 30}, StartDay: Today, Cutoff: Clock{3, 0}, Location: tehran}

	now := time.Date(2026, 10, 17, 21, 40, 0, 0, tehran)
	want := time.Date(2026, 10, 18, 3, 0, 0, 0, tehran)
	if got := p.Deadline(now); !got.Equal(want) {
		t.Errorf("deadline = %v, want %v", got, want)
	}

	p.Cutoff = Clock{23, 0}
	want = time.Date(2026, 10, 17, 23, 0, 0, 0, tehran)
	if got := p.Deadline(now); !got.Equal(want) {
		t.Errorf("same-day deadline = %v, want %v", got, want)
	}
}

func TestResolveEmptyWindow(t *testing.T) {
	p := Policy{Mode: ModeFixed, Start: Clock{22, 0}, StartDay: Today, End: Clock{1, 0}, Location: time.UTC}

	_, err := p.Resolve(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrEmptyWindow) {
		t.Fatalf("err = %v, want ErrEmptyWindow", err)
	}
}

func TestResolveUnknownMode(t *testing.T) {
	p := Policy{Mode: "weekly", Location: time.UTC}
	if _, err := p.Resolve(time.Now()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestContainsInclusive(t *testing.T) {
	start := time.Date(2026, 10, 16, 22, 0, 0, 0, tehran)
	end := time.Date(2026, 10, 17, 1, 0, 0, 0, tehran)
	w, err := New(start, end)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"start", start, true},
		{"end", end, true},
		{"inside", start.Add(time.Hour), true},
		{"inside other zone", time.Date(2026, 10, 16, 20, 0, 0, 0, time.UTC), true},
		{"before", start.Add(-time.Second), false},
		{"after", end.Add(time.Second), false},
		{"zero", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Contains(tt.t); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}
