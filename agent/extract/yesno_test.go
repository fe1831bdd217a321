package extract

import "testing"

func TestClassifyYesNo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		utterance string
		want      Polarity
	}{
		{"yes", PolarityAffirmative},
		{"Yes, please!", PolarityAffirmative},
		{"that's me", PolarityAffirmative},
		{"yeah that works", PolarityAffirmative},
		{"go ahead and book it", PolarityAffirmative},
		{"no", PolarityNegative},
		{"nope, not me", PolarityNegative},
		{"never mind", PolarityNegative},
		{"it's for my daughter", PolarityNegative},
		{"I'm booking on behalf of a colleague", PolarityNegative},
		{"it's someone else", PolarityNegative},
		{"what are my options", PolarityUnknown},
		{"", PolarityUnknown},
	}

	for _, tt := range tests {
		if got := ClassifyYesNo(tt.utterance); got != tt.want {
			t.Errorf("ClassifyYesNo(%q) = %d, want %d", tt.utterance, got, tt.want)
		}
	}
}

func TestContractionNormalization(t *testing.T) {
	t.Parallel()

	// Apostrophes are removed, not replaced with spaces, so contraction
	// forms collapse onto their single-token patterns.
	if got := normalizeUtterance("That's me!"); got != "thats me" {
		t.Fatalf("normalizeUtterance = %q, want %q", got, "thats me")
	}
	if ClassifyYesNo("That's me") != PolarityAffirmative {
		t.Fatal("expected contraction form to classify as affirmative")
	}
}

func TestDetectHangup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		utterance string
		want      HangupSignal
	}{
		{"goodbye", HangupCommand},
		{"ok bye bye", HangupCommand},
		{"please hang up now", HangupCommand},
		{"end the call", HangupCommand},
		{"can you hang up?", HangupQuestion},
		{"will you end the call when we're done?", HangupQuestion},
		{"should I hang up", HangupQuestion},
		{"I'd like to book an appointment", HangupNone},
		{"", HangupNone},
	}

	for _, tt := range tests {
		if got := DetectHangup(tt.utterance); got != tt.want {
			t.Errorf("DetectHangup(%q) = %d, want %d", tt.utterance, got, tt.want)
		}
	}
}

func TestIntentKeywordFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		utterance string
		want      string
	}{
		{"I'd like to book an appointment", "book"},
		{"I need to reschedule", "reschedule"},
		{"cancel my visit please", "cancel"},
		{"how much is a checkup", "faq"},
		{"where are you located", "faq"},
		{"hello there", ""},
	}

	for _, tt := range tests {
		if got := Intent(tt.utterance); got != tt.want {
			t.Errorf("Intent(%q) = %q, want %q", tt.utterance, got, tt.want)
		}
	}
}
