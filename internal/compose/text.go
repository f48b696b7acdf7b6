// Package compose renders the chat messages: change batches, sectioned
// summaries, calendars, reminders and operational notices. Output is
// Telegram HTML.
package compose

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"uesbot/internal/model"
)

const (
	// DefaultChunkLen keeps a chunk safely below the Telegram message limit.
	DefaultChunkLen = 3800

	dayTime = "2006-01-02 15:04"
	noDue   = "N/D"
)

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Escape makes s safe inside Telegram HTML. Only & < > are special there.
func Escape(s string) string {
	return htmlEscaper.Replace(s)
}

// Short trims s and caps it to n runes, marking truncation with an ellipsis.
func Short(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// Badge renders the tri-state submission flag.
func Badge(s model.Submission) string {
	switch s {
	case model.SubmissionSubmitted:
		return "✅"
	case model.SubmissionPending:
		return "⚠️"
	default:
		return "❔"
	}
}

// FormatRemaining renders a time-to-due as "45m", "3h 20m", "3h" or "2d 5h".
// Anything already due renders as "0m".
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}
	mins := int(d / time.Minute)
	if mins < 60 {
		return fmt.Sprintf("%dm", mins)
	}
	hrs, remM := mins/60, mins%60
	if hrs < 24 {
		if remM == 0 {
			return fmt.Sprintf("%dh", hrs)
		}
		return fmt.Sprintf("%dh %dm", hrs, remM)
	}
	return fmt.Sprintf("%dd %dh", hrs/24, hrs%24)
}

// remainingText is the remaining time for dated events, else the portal's
// own due text.
func remainingText(e model.Event, now time.Time) string {
	if e.HasDue() {
		return FormatRemaining(e.Remaining(now))
	}
	if t := strings.TrimSpace(e.DueText); t != "" {
		return t
	}
	return noDue
}

func courseName(e model.Event) string {
	if strings.TrimSpace(e.CourseName) == "" {
		return model.DefaultCourseName
	}
	return e.CourseName
}

// FormatTime renders t in loc, or "-" for nil.
func FormatTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.In(orLocal(loc)).Format(dayTime)
}

func orLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
