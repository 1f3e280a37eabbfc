// Package agenda selects and orders the events that overlap one civil day.
package agenda

import (
	"sort"
	"time"

	"todaycal/internal/model"
)

const (
	dayLength = 24 * time.Hour

	// Default durations used when an event has no DTEND.
	defaultAllDayDuration = 24 * time.Hour
	defaultTimedDuration  = time.Hour
)

// EffectiveEnd returns the event's end, falling back to start+24h for all-day
// events and start+1h for timed events when no end was given.
func EffectiveEnd(ev model.Event) time.Time {
	if ev.HasEnd() {
		return ev.End
	}
	if ev.AllDay {
		return ev.Start.Add(defaultAllDayDuration)
	}
	return ev.Start.Add(defaultTimedDuration)
}

// DayWindow returns [start, start+24h) where start is local midnight of the
// day containing target.
func DayWindow(target time.Time) (start, end time.Time) {
	t := target.In(time.Local)
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
	return start, start.Add(dayLength)
}

// ForDay returns the events overlapping the local day containing target,
// all-day events first, then by ascending start. Ties keep input order.
//
// Overlap is half-open: an event ending exactly at the day start, or starting
// exactly at the day end, is excluded. The input slice is not modified.
func ForDay(events []model.Event, target time.Time) []model.Event {
	dayStart, dayEnd := DayWindow(target)

	out := make([]model.Event, 0)
	for _, ev := range events {
		if ev.Start.Before(dayEnd) && EffectiveEnd(ev).After(dayStart) {
			out = append(out, ev)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AllDay != out[j].AllDay {
			return out[i].AllDay
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Today is ForDay for the day containing now.
func Today(events []model.Event, now time.Time) []model.Event {
	return ForDay(events, now)
}

// Tomorrow is ForDay for the day after the one containing now.
func Tomorrow(events []model.Event, now time.Time) []model.Event {
	start, _ := DayWindow(now)
	// Noon avoids landing on the wrong date across DST shifts.
	return ForDay(events, start.AddDate(0, 0, 1).Add(12*time.Hour))
}

// SortByStart orders events by ascending start in place, keeping input order
// for equal starts.
func SortByStart(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}
