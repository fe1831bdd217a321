package extract

import (
	"strings"
	"unicode"
)

var pronounTokens = map[string]struct{}{
	"i": {}, "me": {}, "we": {}, "us": {}, "you": {}, "he": {}, "she": {},
	"it": {}, "they": {}, "them": {}, "him": {}, "her": {}, "myself": {},
	"yourself": {}, "himself": {}, "herself": {}, "ourselves": {},
	"someone": {}, "somebody": {}, "anybody": {}, "anyone": {}, "mine": {},
}

var relationTokens = map[string]struct{}{
	"son": {}, "daughter": {}, "wife": {}, "husband": {}, "mom": {},
	"mum": {}, "mother": {}, "dad": {}, "father": {}, "brother": {},
	"sister": {}, "friend": {}, "friends": {}, "partner": {}, "kid": {},
	"kids": {}, "child": {}, "children": {}, "grandma": {}, "grandmother": {},
	"grandpa": {}, "grandfather": {}, "fiance": {}, "fiancee": {},
	"boyfriend": {}, "girlfriend": {}, "aunt": {}, "uncle": {}, "cousin": {},
	"colleague": {}, "neighbor": {}, "neighbour": {},
}

var placeholderTokens = map[string]struct{}{
	"primary": {}, "unknown": {}, "caller": {}, "patient": {}, "guest": {},
	"n/a": {}, "na": {}, "none": {}, "tbd": {}, "test": {},
}

// ValidPartyName reports whether s can be treated as a bookable party name.
// Pronouns, possessive/relational phrases ("my son", "for myself"),
// placeholders, and short non-name tokens are rejected. Accepted shapes are
// one to three capitalized words (given name, optional middle, surname).
//
// Every name proposed by the inference layer must pass through this same
// filter before it is booked against.
func ValidPartyName(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return false
	}

	lower := strings.ToLower(t)
	if strings.HasPrefix(lower, "my ") || strings.Contains(lower, " my ") {
		return false
	}
	if strings.HasPrefix(lower, "for ") || strings.Contains(lower, "behalf") {
		return false
	}
	if strings.Contains(lower, " and ") || strings.Contains(lower, "&") {
		// Joined pairs go through SplitPartyNames first.
		return false
	}

	words := strings.Fields(t)
	if len(words) == 0 || len(words) > 3 {
		return false
	}

	for _, w := range words {
		wl := strings.ToLower(strings.Trim(w, ".,!?"))
		if _, ok := pronounTokens[wl]; ok {
			return false
		}
		if _, ok := relationTokens[wl]; ok {
			return false
		}
		if _, ok := placeholderTokens[wl]; ok {
			return false
		}
		if !nameShaped(strings.Trim(w, ".,!?")) {
			return false
		}
	}

	if len(words) == 1 && len([]rune(words[0])) < 3 {
		return false
	}
	return true
}

// nameShaped requires an uppercase initial followed by lowercase letters;
// hyphens and apostrophes are allowed inside (O'Brien, Anne-Marie). All-caps
// tokens read as transcription placeholders and are rejected.
func nameShaped(w string) bool {
	runes := []rune(w)
	if len(runes) < 2 {
		return false
	}
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	sawLower := false
	for _, r := range runes[1:] {
		switch {
		case unicode.IsLower(r):
			sawLower = true
		case unicode.IsUpper(r) || r == '-' || r == '\'' || r == '’':
			// mid-name capitals allowed after a separator (Anne-Marie)
		default:
			return false
		}
	}
	return sawLower
}

// SplitPartyNames splits "John Smith and Peter Smith" style utterances into
// individual candidate names and keeps only the ones passing ValidPartyName.
func SplitPartyNames(s string) []string {
	replaced := strings.NewReplacer(" and ", "|", " And ", "|", "&", "|", ",", "|").
		Replace(" " + s + " ")

	var names []string
	for _, part := range strings.Split(replaced, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if ValidPartyName(part) {
			names = append(names, part)
		}
	}
	return names
}
