package schedule

import (
	"errors"
	"testing"
	"time"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
)

// Monday March 2 2026, 09:00 UTC.
var monday9am = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestResolveWindowDayParts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pref     string
		wantFrom time.Time
		wantTo   time.Time
	}{
		{
			"tomorrow morning",
			"tomorrow morning",
			time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC),
		},
		{
			"weekday afternoon",
			"tuesday afternoon",
			time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 3, 17, 0, 0, 0, time.UTC),
		},
		{
			"clock time gets an hour window",
			"tuesday 4:00pm",
			time.Date(2026, 3, 3, 16, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 3, 17, 0, 0, 0, time.UTC),
		},
		{
			"bare day covers business hours",
			"friday",
			time.Date(2026, 3, 6, 8, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 6, 18, 0, 0, 0, time.UTC),
		},
		{
			"evening today",
			"today evening",
			time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, err := ResolveWindow(tt.pref, monday9am, time.UTC)
			if err != nil {
				t.Fatalf("ResolveWindow(%q) error = %v", tt.pref, err)
			}
			if !w.From.Equal(tt.wantFrom) || !w.To.Equal(tt.wantTo) {
				t.Fatalf("ResolveWindow(%q) = [%v, %v], want [%v, %v]",
					tt.pref, w.From, w.To, tt.wantFrom, tt.wantTo)
			}
		})
	}
}

func TestResolveWindowClampsElapsed(t *testing.T) {
	t.Parallel()

	// 09:00: the morning window is partially elapsed, so it starts now.
	w, err := ResolveWindow("today morning", monday9am, time.UTC)
	if err != nil {
		t.Fatalf("ResolveWindow error = %v", err)
	}
	if !w.From.Equal(monday9am) {
		t.Fatalf("From = %v, want clamped to now", w.From)
	}
	if !w.To.Equal(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("To = %v, want noon", w.To)
	}
}

func TestResolveWindowShiftsFullyElapsed(t *testing.T) {
	t.Parallel()

	evening := time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)
	w, err := ResolveWindow("today evening", evening, time.UTC)
	if err != nil {
		t.Fatalf("ResolveWindow error = %v", err)
	}
	if !w.From.Equal(time.Date(2026, 3, 3, 17, 0, 0, 0, time.UTC)) {
		t.Fatalf("From = %v, want the next day's window", w.From)
	}
}

func TestResolveWindowNextWeek(t *testing.T) {
	t.Parallel()

	w, err := ResolveWindow("next week", monday9am, time.UTC)
	if err != nil {
		t.Fatalf("ResolveWindow error = %v", err)
	}
	// Next Monday 08:00 through Friday 18:00.
	if !w.From.Equal(time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("From = %v, want next Monday morning", w.From)
	}
	if !w.To.Equal(time.Date(2026, 3, 13, 18, 0, 0, 0, time.UTC)) {
		t.Fatalf("To = %v, want next Friday evening", w.To)
	}
}

func TestResolveWindowRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := ResolveWindow("", monday9am, time.UTC); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty preference, got %v", err)
	}
	if _, err := ResolveWindow("today 99pm", monday9am, time.UTC); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown time part, got %v", err)
	}
}

func TestResolveWindowNoonCrossover(t *testing.T) {
	t.Parallel()

	w, err := ResolveWindow("tomorrow 12:00pm", monday9am, time.UTC)
	if err != nil {
		t.Fatalf("ResolveWindow error = %v", err)
	}
	if w.From.Hour() != 12 {
		t.Fatalf("From hour = %d, want 12", w.From.Hour())
	}
}
