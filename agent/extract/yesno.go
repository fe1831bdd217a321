package extract

import (
	"regexp"
	"strings"
)

// Polarity classifies an utterance as an answer to a yes/no prompt.
type Polarity int

const (
	PolarityUnknown Polarity = iota
	PolarityAffirmative
	PolarityNegative
)

var affirmPhrases = []string{
	"yes", "yeah", "yep", "yup", "sure", "correct", "absolutely", "definitely",
	"ok", "okay", "confirm", "confirmed", "sounds good", "thats me", "its me",
	"thats right", "thats correct", "that works", "perfect", "please do",
	"go ahead", "book it",
}

var negativePhrases = []string{
	"no", "nope", "nah", "not me", "not really", "dont", "do not",
	"thats wrong", "incorrect", "cancel that", "never mind", "nevermind",
}

// Third-party phrasing means the caller is acting for someone else; this is a
// negative answer to "is this for you?" even without an explicit "no".
var thirdPartyRe = regexp.MustCompile(`\b(someone else|somebody else|on behalf|for (my|his|her|our|a) )`)

var punctRe = regexp.MustCompile(`[.,!?;:]+`)

// ClassifyYesNo normalizes the utterance and matches it against fixed
// affirmative and negative vocabularies. Apostrophes are removed entirely, not
// replaced with whitespace, so contraction forms ("that's me" -> "thats me")
// match single-token patterns.
func ClassifyYesNo(utterance string) Polarity {
	norm := normalizeUtterance(utterance)
	if norm == "" {
		return PolarityUnknown
	}

	if thirdPartyRe.MatchString(norm + " ") {
		return PolarityNegative
	}
	for _, p := range negativePhrases {
		if matchesPhrase(norm, p) {
			return PolarityNegative
		}
	}
	for _, p := range affirmPhrases {
		if matchesPhrase(norm, p) {
			return PolarityAffirmative
		}
	}
	return PolarityUnknown
}

func normalizeUtterance(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "’", "")
	s = punctRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func matchesPhrase(norm, phrase string) bool {
	if norm == phrase {
		return true
	}
	return strings.HasPrefix(norm, phrase+" ") ||
		strings.HasSuffix(norm, " "+phrase) ||
		strings.Contains(norm, " "+phrase+" ")
}
