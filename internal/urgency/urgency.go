// Package urgency buckets events by time-to-due and submission state.
package urgency

import (
	"time"

	"uesbot/internal/model"
)

// Bucket is the derived notification priority of an event.
type Bucket string

const (
	Urgent   Bucket = "urgent"
	Overdue  Bucket = "overdue"
	Upcoming Bucket = "upcoming"
	Sent     Bucket = "sent"
	Undated  Bucket = "undated"
	Future   Bucket = "future"
)

// UpcomingWindow is the horizon of the Upcoming bucket.
const UpcomingWindow = 7 * 24 * time.Hour

// Order lists buckets in summary priority order.
var Order = []Bucket{Urgent, Overdue, Upcoming, Sent, Undated, Future}

// Classify maps an event onto exactly one bucket. Submission is checked
// before the deadline so a late but submitted item is never overdue.
func Classify(ev model.Event, urgentHours int, now time.Time) Bucket {
	if !ev.HasDue() {
		return Undated
	}
	remaining := ev.Remaining(now)

	switch {
	case ev.Submission == model.SubmissionSubmitted:
		return Sent
	case remaining <= 0:
		return Overdue
	case remaining <= time.Duration(urgentHours)*time.Hour:
		return Urgent
	case remaining <= UpcomingWindow:
		return Upcoming
	default:
		return Future
	}
}

// Partition groups events by bucket, preserving input order within each.
func Partition(events []model.Event, urgentHours int, now time.Time) map[Bucket][]model.Event {
	out := make(map[Bucket][]model.Event, len(Order))
	for _, ev := range events {
		b := Classify(ev, urgentHours, now)
		out[b] = append(out[b], ev)
	}
	return out
}
