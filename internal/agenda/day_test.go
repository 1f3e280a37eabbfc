package agenda

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todaycal/internal/model"
)

func at(d, hh, mm int) time.Time {
	return time.Date(2025, time.January, d, hh, mm, 0, 0, time.Local)
}

func names(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Summary)
	}
	return out
}

func TestEffectiveEnd(t *testing.T) {
	timed := model.Event{Start: at(10, 9, 0)}
	allDay := model.Event{Start: at(10, 0, 0), AllDay: true}
	explicit := model.Event{Start: at(10, 9, 0), End: at(10, 9, 30)}

	assert.True(t, EffectiveEnd(timed).Equal(timed.Start.Add(3600*time.Second)))
	assert.True(t, EffectiveEnd(allDay).Equal(allDay.Start.Add(86400*time.Second)))
	assert.True(t, EffectiveEnd(explicit).Equal(at(10, 9, 30)))
}

func TestDayWindow(t *testing.T) {
	start, end := DayWindow(at(10, 15, 45))
	assert.True(t, start.Equal(at(10, 0, 0)))
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestForDayHalfOpenBoundaries(t *testing.T) {
	dayStart := at(10, 0, 0)
	dayEnd := dayStart.Add(24 * time.Hour)

	events := []model.Event{
		{Summary: "ends at day start", Start: dayStart.Add(-time.Hour), End: dayStart},
		{Summary: "starts at day end", Start: dayEnd, End: dayEnd.Add(time.Hour)},
		{Summary: "crosses day start", Start: dayStart.Add(-time.Hour), End: dayStart.Add(time.Minute)},
		{Summary: "last minute", Start: dayEnd.Add(-time.Minute)},
		{Summary: "yesterday all day", Start: at(9, 0, 0), AllDay: true},
		{Summary: "default hour ends at day start", Start: dayStart.Add(-time.Hour)},
	}

	got := ForDay(events, at(10, 12, 0))
	assert.Equal(t, []string{"crosses day start", "last minute"}, names(got))
}

func TestForDayOrdering(t *testing.T) {
	events := []model.Event{
		{Summary: "late meeting", Start: at(10, 16, 0)},
		{Summary: "holiday", Start: at(10, 0, 0), AllDay: true},
		{Summary: "early meeting", Start: at(10, 8, 0)},
		{Summary: "trip", Start: at(9, 0, 0), End: at(12, 0, 0), AllDay: true},
		{Summary: "tie one", Start: at(10, 12, 0)},
		{Summary: "tie two", Start: at(10, 12, 0)},
	}

	got := ForDay(events, at(10, 9, 0))
	require.Len(t, got, 6)
	assert.Equal(t, []string{"trip", "holiday", "early meeting", "tie one", "tie two", "late meeting"}, names(got))

	seenTimed := false
	for i, ev := range got {
		if !ev.AllDay {
			seenTimed = true
		} else {
			assert.False(t, seenTimed, "all-day event after timed event at %d", i)
		}
		if i > 0 && got[i-1].AllDay == ev.AllDay {
			assert.False(t, ev.Start.Before(got[i-1].Start))
		}
	}
}

func TestForDayDoesNotModifyInput(t *testing.T) {
	events := []model.Event{
		{Summary: "b", Start: at(10, 10, 0)},
		{Summary: "a", Start: at(10, 9, 0)},
	}
	_ = ForDay(events, at(10, 0, 0))
	assert.Equal(t, []string{"b", "a"}, names(events))
}

func TestForDayEmpty(t *testing.T) {
	got := ForDay(nil, time.Now())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestTodayAndTomorrow(t *testing.T) {
	events := []model.Event{
		{Summary: "today", Start: at(10, 9, 0)},
		{Summary: "tomorrow", Start: at(11, 9, 0)},
	}
	now := at(10, 23, 30)
	assert.Equal(t, []string{"today"}, names(Today(events, now)))
	assert.Equal(t, []string{"tomorrow"}, names(Tomorrow(events, now)))
}

func TestSortByStartIsStable(t *testing.T) {
	events := []model.Event{
		{Summary: "A", Start: at(10, 10, 0)},
		{Summary: "B", Start: at(10, 9, 0)},
		{Summary: "C", Start: at(10, 8, 0)},
		{Summary: "B2", Start: at(10, 9, 0)},
	}
	SortByStart(events)
	assert.Equal(t, []string{"C", "B", "B2", "A"}, names(events))
}
