// Package schedule resolves a caller's time preference into concrete candidate
// slots from the external scheduling capability.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
)

// Window is a concrete local-time search interval.
type Window struct {
	From time.Time
	To   time.Time
}

var clockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})(am|pm)$`)

var weekdayIndex = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// ResolveWindow turns a canonical "<day> <time>" preference into a concrete
// window in loc. The elapsed portion of the window is discarded; a window that
// has fully elapsed shifts to the next day.
func ResolveWindow(pref string, now time.Time, loc *time.Location) (Window, error) {
	pref = strings.TrimSpace(strings.ToLower(pref))
	if pref == "" {
		return Window{}, fmt.Errorf("%w: empty time preference", contractx.ErrValidation)
	}

	local := now.In(loc)
	day, timePart := splitPreference(pref)

	base, err := resolveDay(day, local)
	if err != nil {
		return Window{}, err
	}

	if day == "next week" && timePart == "" {
		from := base
		to := base.AddDate(0, 0, 5).Add(-14 * time.Hour) // Friday 18:00
		return clampElapsed(Window{From: from, To: to}, local), nil
	}

	fromH, fromM, toH, toM, err := timeBounds(timePart)
	if err != nil {
		return Window{}, err
	}

	w := Window{
		From: time.Date(base.Year(), base.Month(), base.Day(), fromH, fromM, 0, 0, loc),
		To:   time.Date(base.Year(), base.Month(), base.Day(), toH, toM, 0, 0, loc),
	}
	return clampElapsed(w, local), nil
}

func splitPreference(pref string) (day, timePart string) {
	if strings.HasPrefix(pref, "next week") {
		return "next week", strings.TrimSpace(strings.TrimPrefix(pref, "next week"))
	}
	fields := strings.Fields(pref)
	if len(fields) == 1 {
		if isDayToken(fields[0]) {
			return fields[0], ""
		}
		return "today", fields[0]
	}
	if isDayToken(fields[0]) {
		return fields[0], strings.Join(fields[1:], " ")
	}
	return "today", strings.Join(fields, " ")
}

func isDayToken(tok string) bool {
	if tok == "today" || tok == "tomorrow" {
		return true
	}
	_, ok := weekdayIndex[tok]
	return ok
}

func resolveDay(day string, local time.Time) (time.Time, error) {
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	switch day {
	case "", "today":
		return midnight, nil
	case "tomorrow":
		return midnight.AddDate(0, 0, 1), nil
	case "next week":
		days := (int(time.Monday) - int(local.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return midnight.AddDate(0, 0, days).Add(8 * time.Hour), nil
	}
	if wd, ok := weekdayIndex[day]; ok {
		days := (int(wd) - int(local.Weekday()) + 7) % 7
		return midnight.AddDate(0, 0, days), nil
	}
	return time.Time{}, fmt.Errorf("%w: unknown day %q", contractx.ErrValidation, day)
}

func timeBounds(timePart string) (fromH, fromM, toH, toM int, err error) {
	switch timePart {
	case "":
		return 8, 0, 18, 0, nil
	case "morning":
		return 8, 0, 12, 0, nil
	case "afternoon":
		return 12, 0, 17, 0, nil
	case "evening":
		return 17, 0, 20, 0, nil
	}
	m := clockRe.FindStringSubmatch(timePart)
	if m == nil {
		return 0, 0, 0, 0, fmt.Errorf("%w: unknown time part %q", contractx.ErrValidation, timePart)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour == 12 {
		hour = 0
	}
	if m[3] == "pm" {
		hour += 12
	}
	toHour := hour + 1
	return hour, minute, toHour, minute, nil
}

// clampElapsed discards the elapsed part of the window, shifting the whole
// window a day when it has fully passed.
func clampElapsed(w Window, local time.Time) Window {
	if !w.To.After(local) {
		return Window{From: w.From.AddDate(0, 0, 1), To: w.To.AddDate(0, 0, 1)}
	}
	if w.From.Before(local) {
		w.From = local
	}
	return w
}
