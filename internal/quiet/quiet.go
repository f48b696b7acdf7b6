// Package quiet evaluates the daily local-time window during which
// automatic notifications are held back.
package quiet

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var hhmm = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Clock) minutes() int {
	return c.Hour*60 + c.Minute
}

// ParseClock parses "HH:MM" (a single-digit hour is accepted).
func ParseClock(s string) (Clock, error) {
	m := hhmm.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Clock{}, fmt.Errorf("hora inválida: %q. Usa HH:MM, ej. 07:00", s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 || mm > 59 {
		return Clock{}, fmt.Errorf("hora inválida: %q", s)
	}
	return Clock{Hour: h, Minute: mm}, nil
}

// Window is a daily recurring interval [Start, End) in local time. A window
// whose end is not after its start wraps past midnight; equal bounds cover
// the whole day. The zero Window is disabled.
type Window struct {
	Start   Clock
	End     Clock
	enabled bool
}

// Parse builds a window from two "HH:MM" strings. Either bound empty
// disables quiet hours.
func Parse(start, end string) (Window, error) {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return Window{}, nil
	}
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e, enabled: true}, nil
}

// Enabled reports whether the window suppresses anything at all.
func (w Window) Enabled() bool {
	return w.enabled
}

func (w Window) String() string {
	if !w.enabled {
		return "off"
	}
	return w.Start.String() + " - " + w.End.String()
}

// length is the duration of one occurrence of the window.
func (w Window) length() time.Duration {
	d := w.End.minutes() - w.Start.minutes()
	if d <= 0 {
		d += 24 * 60
	}
	return time.Duration(d) * time.Minute
}

// Contains reports whether t falls inside the window, evaluated in t's
// location. The most recent daily start at or before t is found with a
// DAILY rule so DST transitions follow the zone's own calendar.
func (w Window) Contains(t time.Time) bool {
	if !w.enabled {
		return false
	}

	// Anchor two days back so the previous day's start is always covered
	// by the rule, including windows that wrap past midnight.
	anchorDay := t.AddDate(0, 0, -2)
	dtstart := time.Date(anchorDay.Year(), anchorDay.Month(), anchorDay.Day(),
		w.Start.Hour, w.Start.Minute, 0, 0, t.Location())

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: dtstart,
	})
	if err != nil {
		return false
	}

	last := r.Before(t, true)
	if last.IsZero() {
		return false
	}
	return t.Before(last.Add(w.length()))
}
