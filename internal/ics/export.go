// Package ics exports pending deliverables as an iCalendar feed that phone
// calendars can import or subscribe to.
package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "uesbot/internal/log"
	"uesbot/internal/model"
)

const (
	// DefaultDaysAhead bounds how far into the future events are exported.
	DefaultDaysAhead = 30

	productID    = "-//UES Telegram Bot//Calendar Export//EN"
	calendarName = "UES Entregas"
	uidSuffix    = "@ues-bot"
	blockLength  = 30 * time.Minute
)

// Export renders the pending dated events due in (now, now+daysAhead] as an
// iCalendar document. Each event becomes a block ending at its deadline.
// The second return value is the number of VEVENTs written.
func Export(events []model.Event, now time.Time, daysAhead int) ([]byte, int) {
	if daysAhead <= 0 {
		daysAhead = DefaultDaysAhead
	}
	cutoff := now.Add(time.Duration(daysAhead) * 24 * time.Hour)

	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(calendarName)

	count := 0
	for _, e := range events {
		if e.Submission == model.SubmissionSubmitted || !e.HasDue() {
			continue
		}
		if !e.Due.After(now) || e.Due.After(cutoff) {
			continue
		}

		ev := cal.AddEvent(e.ID + uidSuffix)
		ev.SetDtStampTime(now)
		ev.SetStartAt(e.Due.Add(-blockLength))
		ev.SetEndAt(e.Due)
		ev.SetSummary("[UES] " + e.Title)
		ev.SetDescription(description(e))
		ev.SetURL(e.Link())
		count++
	}

	appLog.Debug("ics export built", "events", count, "days_ahead", daysAhead)
	return []byte(cal.Serialize()), count
}

func description(e model.Event) string {
	course := e.CourseName
	if course == "" {
		course = model.DefaultCourseName
	}
	status := e.SubmissionStatus
	if status == "" {
		status = "Pendiente"
	}
	lines := []string{
		"Materia: " + course,
		"Estado: " + status,
		"Link: " + e.Link(),
	}
	if e.Description != "" {
		lines = append(lines, "", e.Description)
	}
	return strings.Join(lines, "\n")
}

// Filename names an export after the local time it was generated.
func Filename(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return "ues_entregas_" + now.In(loc).Format("20060102_1504") + ".ics"
}
