package extract

import "strings"

// HangupSignal distinguishes a direct hang-up command from a question about
// hanging up; the latter gets a confirmatory reply, not a termination.
type HangupSignal int

const (
	HangupNone HangupSignal = iota
	HangupCommand
	HangupQuestion
)

var hangupVocabulary = []string{
	"hang up", "hangup", "end the call", "end call", "end this call",
	"goodbye", "good bye", "bye bye",
}

var questionLeads = []string{
	"can you", "could you", "will you", "would you", "should i", "do i",
	"are you going to", "is it ok", "is it okay", "how do i",
}

// DetectHangup scans for the fixed hang-up vocabulary.
func DetectHangup(utterance string) HangupSignal {
	norm := normalizeUtterance(utterance)
	if norm == "" {
		return HangupNone
	}

	matched := false
	for _, v := range hangupVocabulary {
		if matchesPhrase(norm, v) {
			matched = true
			break
		}
	}
	if !matched {
		return HangupNone
	}

	for _, lead := range questionLeads {
		if strings.HasPrefix(norm, lead+" ") {
			return HangupQuestion
		}
	}
	if strings.HasSuffix(strings.TrimSpace(utterance), "?") {
		return HangupQuestion
	}
	return HangupCommand
}

var intentKeywords = []struct {
	intent string
	words  []string
}{
	{"reschedule", []string{"reschedule", "move my appointment", "change my appointment", "different time"}},
	{"cancel", []string{"cancel"}},
	{"book", []string{"book", "appointment", "come in", "schedule", "see the doctor", "get in"}},
	{"faq", []string{"how much", "price", "cost", "where are you", "address", "directions", "parking", "open", "hours", "policy"}},
}

// Intent is the deterministic keyword fallback for intent classification. It
// returns "" when nothing matches; the inference layer then decides.
func Intent(utterance string) string {
	norm := normalizeUtterance(utterance)
	if norm == "" {
		return ""
	}
	for _, k := range intentKeywords {
		for _, w := range k.words {
			if matchesPhrase(norm, w) {
				return k.intent
			}
		}
	}
	return ""
}
