package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"todaycal/internal/model"
)

const exportProductID = "-//todaycal//Agenda Export//EN"

// Export serializes events as an ICS document. Times are written as floating
// local DATE-TIME values (no Z) so the parser in this package resolves them to
// the same instants. Text is escaped by the serializer. The parser keeps only
// the text after the last colon of a line, so a summary such as "Review: Q3"
// reads back as " Q3". Events without a UID get a stable name-based UUID.
func Export(events []model.Event, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetProductId(exportProductID)
	cal.SetMethod(ical.MethodPublish)

	for _, ev := range events {
		vev := cal.AddEvent(exportUID(ev))
		vev.SetDtStampTime(stamp)
		vev.SetSummary(ev.Summary)
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			vev.SetLocation(ev.Location)
		}

		if ev.AllDay {
			vev.SetAllDayStartAt(ev.Start.In(time.Local))
			if ev.HasEnd() {
				vev.SetAllDayEndAt(ev.End.In(time.Local))
			}
			continue
		}
		vev.SetProperty(ical.ComponentPropertyDtStart, ev.Start.In(time.Local).Format(layoutDateTime))
		if ev.HasEnd() {
			vev.SetProperty(ical.ComponentPropertyDtEnd, ev.End.In(time.Local).Format(layoutDateTime))
		}
	}
	return cal.Serialize()
}

func exportUID(ev model.Event) string {
	if ev.UID != "" {
		return ev.UID
	}
	name := ev.SourceID + "|" + ev.Summary + "|" + ev.Start.Format(layoutDateTime)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String() + "@todaycal"
}
