package model

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultCourseName is used until the event page has been read.
const DefaultCourseName = "Sin materia"

// Submission is the tri-state submission flag of a deliverable. The zero
// value means the portal has not told us anything yet, which is distinct
// from a confirmed pending submission.
type Submission int

const (
	SubmissionUnknown Submission = iota
	SubmissionPending
	SubmissionSubmitted
)

func (s Submission) String() string {
	switch s {
	case SubmissionPending:
		return "pending"
	case SubmissionSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// Event is one tracked deliverable as seen on the portal dashboard, plus
// whatever the event and assignment pages added to it.
type Event struct {
	ID      string `json:"event_id"`
	Title   string `json:"title"`
	DueText string `json:"due_text"`
	URL     string `json:"url"`

	// Due is the absolute deadline; the zero value means undated.
	Due time.Time `json:"due,omitzero"`

	CourseName       string     `json:"course_name"`
	Description      string     `json:"description,omitempty"`
	SubmissionURL    string     `json:"submission_url,omitempty"`
	Submission       Submission `json:"submission"`
	SubmissionStatus string     `json:"submission_status,omitempty"`
}

// HasDue reports whether the event carries an absolute deadline.
func (e Event) HasDue() bool {
	return !e.Due.IsZero()
}

// Remaining returns the time left until the deadline (negative once past).
// It is only meaningful when HasDue is true.
func (e Event) Remaining(now time.Time) time.Duration {
	return e.Due.Sub(now)
}

// Link is the most useful URL for the operator: the assignment page when
// known, otherwise the calendar event.
func (e Event) Link() string {
	if e.SubmissionURL != "" {
		return e.SubmissionURL
	}
	return e.URL
}

// TrackedEvent is the persisted last-seen projection of an Event used for
// change detection.
type TrackedEvent struct {
	Title   string `json:"title"`
	DueText string `json:"due_text"`
	URL     string `json:"url"`
}

// Track projects an Event onto its persisted record.
func Track(e Event) TrackedEvent {
	return TrackedEvent{Title: e.Title, DueText: e.DueText, URL: e.URL}
}

// DueFromURL extracts the deadline encoded in the `time` query parameter of
// a portal calendar URL (unix seconds). It returns the zero time when the
// parameter is missing or malformed.
func DueFromURL(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return time.Time{}
	}
	v := u.Query().Get("time")
	if v == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
