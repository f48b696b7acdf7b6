// Package reminder escalates deadline reminders for pending deliverables
// without repeating a threshold that was already delivered.
package reminder

import (
	"time"

	"uesbot/internal/model"
)

// Threshold is a time-to-due boundary that triggers one reminder.
type Threshold struct {
	Within time.Duration
	Label  string
}

// Thresholds are ordered from the tightest window to the loosest.
var Thresholds = []Threshold{
	{Within: 1 * time.Hour, Label: "1h"},
	{Within: 6 * time.Hour, Label: "6h"},
	{Within: 24 * time.Hour, Label: "24h"},
}

// Ledger maps event IDs to the threshold labels already delivered.
type Ledger map[string][]string

// Has reports whether label was already delivered for eventID.
func (l Ledger) Has(eventID, label string) bool {
	for _, got := range l[eventID] {
		if got == label {
			return true
		}
	}
	return false
}

// Record marks label as delivered for eventID. Recording twice is a no-op.
func (l Ledger) Record(eventID, label string) {
	if l.Has(eventID, label) {
		return
	}
	l[eventID] = append(l[eventID], label)
}

// Reminder is one threshold notice due for an event.
type Reminder struct {
	Event model.Event
	Label string
}

// Pending returns the reminders newly due at now. Only events that are not
// submitted, are dated and are not yet past due are considered. Thresholds
// are walked from the tightest window outwards and the first one that has
// been entered and is not in the ledger is returned, so at most one
// reminder per event is returned per call.
//
// The ledger is not modified; callers record a label after its send
// succeeded.
func Pending(events []model.Event, ledger Ledger, now time.Time) []Reminder {
	out := make([]Reminder, 0)
	for _, ev := range events {
		if ev.Submission == model.SubmissionSubmitted || !ev.HasDue() {
			continue
		}
		remaining := ev.Remaining(now)
		if remaining <= 0 {
			continue
		}

		for _, th := range Thresholds {
			if remaining <= th.Within && !ledger.Has(ev.ID, th.Label) {
				out = append(out, Reminder{Event: ev, Label: th.Label})
				break
			}
		}
	}
	return out
}
