// Package portal reads deliverables from the academic portal (a Moodle
// site): the dashboard event list, per-event detail pages and assignment
// submission status.
package portal

import (
	"context"
	"errors"
	"fmt"

	"uesbot/internal/model"
)

// ErrCredentials is returned when the portal asks for a login and no
// username or password is configured. It is not retried.
var ErrCredentials = errors.New("portal: login required but credentials are missing")

// FetchError reports a failed portal call.
type FetchError struct {
	Op  string
	URL string
	Err error
}

func (e *FetchError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("portal %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("portal %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Detail is what an event page adds to a dashboard event.
type Detail struct {
	CourseName    string
	Description   string
	SubmissionURL string
}

// Status is the submission state read from an assignment page.
type Status struct {
	Submission model.Submission
	Text       string
}

// Session is an authenticated portal connection. Implementations need not
// be safe for concurrent use.
type Session interface {
	// Events returns the dashboard events in page order, with Due filled
	// from the event URL when present.
	Events(ctx context.Context) ([]model.Event, error)
	// Detail reads the event page at url.
	Detail(ctx context.Context, url string) (Detail, error)
	// Submission reads the assignment page at url.
	Submission(ctx context.Context, url string) (Status, error)
	Close() error
}

// Portal opens sessions.
type Portal interface {
	Open(ctx context.Context) (Session, error)
}
