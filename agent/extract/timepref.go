// Package extract holds the deterministic extraction layer: pure functions
// turning raw utterance text into structured signals, independent of the
// probabilistic inference engine.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var weekdays = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

var (
	clockRe    = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(a\.m\.|p\.m\.|am\b|pm\b)`)
	nextWeekRe = regexp.MustCompile(`\bnext week\b`)
	timeOfDays = []string{"morning", "afternoon", "evening"}
)

// TimePreference parses an utterance into a canonical "<day> <time>" string.
// Day detection runs first so a bare time expression inherits the day from the
// utterance or from the carried-over prevDay marker; the default day is
// "today". Time parts are matched in strict specificity order: explicit clock
// time with meridiem, then a time-of-day word. Returns "" when the utterance
// carries no time signal at all.
func TimePreference(utterance, prevDay string) string {
	lower := strings.ToLower(utterance)

	day := detectDay(lower)
	timePart := detectTimePart(lower)

	if day == "" && timePart == "" {
		return ""
	}
	if day == "" {
		day = strings.TrimSpace(strings.ToLower(prevDay))
	}
	if day == "" {
		day = "today"
	}
	if timePart == "" {
		return day
	}
	return day + " " + timePart
}

func detectDay(lower string) string {
	for _, wd := range weekdays {
		if containsWord(lower, wd) {
			return wd
		}
	}
	switch {
	case containsWord(lower, "tomorrow"):
		return "tomorrow"
	case containsWord(lower, "today") || containsWord(lower, "tonight"):
		return "today"
	case nextWeekRe.MatchString(lower):
		return "next week"
	}
	return ""
}

func detectTimePart(lower string) string {
	if m := clockRe.FindStringSubmatch(lower); m != nil {
		hour, err := strconv.Atoi(m[1])
		if err != nil || hour < 1 || hour > 12 {
			return ""
		}
		minutes := m[2]
		if minutes == "" {
			minutes = "00"
		}
		meridiem := strings.ReplaceAll(m[3], ".", "")
		return fmt.Sprintf("%d:%s%s", hour, minutes, meridiem)
	}
	if containsWord(lower, "noon") || containsWord(lower, "midday") {
		return "12:00pm"
	}
	if containsWord(lower, "tonight") {
		return "evening"
	}
	for _, tod := range timeOfDays {
		if containsWord(lower, tod) {
			return tod
		}
	}
	return ""
}

// Specificity ranks a canonical preference for the merge rule. Higher is more
// specific: clock time > time-of-day word > named weekday > relative day
// (today/tomorrow) > week reference > nothing.
func Specificity(pref string) int {
	pref = strings.TrimSpace(strings.ToLower(pref))
	if pref == "" {
		return 0
	}
	if clockRe.MatchString(pref) {
		return 5
	}
	for _, tod := range timeOfDays {
		if containsWord(pref, tod) {
			return 4
		}
	}
	for _, wd := range weekdays {
		if containsWord(pref, wd) {
			return 3
		}
	}
	if containsWord(pref, "today") || containsWord(pref, "tomorrow") {
		return 2
	}
	return 1
}

// MergePreference applies the specificity merge rule: a strictly more specific
// candidate replaces the existing preference; equal or less specific
// candidates are discarded silently.
func MergePreference(existing, candidate string) string {
	existing = strings.TrimSpace(existing)
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return existing
	}
	if existing == "" {
		return candidate
	}
	if Specificity(candidate) > Specificity(existing) {
		return candidate
	}
	return existing
}

// PreferenceDay returns the day component of a canonical preference, used as
// the carried-over day marker for the next extraction.
func PreferenceDay(pref string) string {
	lower := strings.TrimSpace(strings.ToLower(pref))
	if lower == "" {
		return ""
	}
	if strings.HasPrefix(lower, "next week") {
		return "next week"
	}
	fields := strings.Fields(lower)
	switch fields[0] {
	case "today", "tomorrow":
		return fields[0]
	}
	for _, wd := range weekdays {
		if fields[0] == wd {
			return wd
		}
	}
	return ""
}

func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isAlnum(s[start-1])
		afterOK := end == len(s) || !isAlnum(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
