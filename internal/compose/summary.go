package compose

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"uesbot/internal/model"
	"uesbot/internal/urgency"
)

// DefaultMaxSummaryLines is the global line budget of a summary.
const DefaultMaxSummaryLines = 18

// Per-bucket caps. Urgent and overdue get the larger share.
const (
	priorityCap = 6
	regularCap  = 4
)

// SummaryOptions configures Summary.
type SummaryOptions struct {
	Location    *time.Location
	UrgentHours int
	MaxLines    int
}

func sectionTitle(b urgency.Bucket, urgentHours int) string {
	switch b {
	case urgency.Urgent:
		return fmt.Sprintf("🔥 Urgente (≤%dh)", urgentHours)
	case urgency.Overdue:
		return "🕒 Vencidos (no enviados)"
	case urgency.Upcoming:
		return "📅 Próximos (≤7d)"
	case urgency.Sent:
		return "✅ Enviados"
	case urgency.Undated:
		return "⌛ Sin fecha detectada"
	default:
		return "🗓️ Futuro"
	}
}

func bucketCap(b urgency.Bucket) int {
	if b == urgency.Urgent || b == urgency.Overdue {
		return priorityCap
	}
	return regularCap
}

// SortByDue orders events by ascending deadline with undated events last.
// The sort is stable so fetch order breaks ties.
func SortByDue(events []model.Event) []model.Event {
	out := append([]model.Event(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.HasDue() != b.HasDue() {
			return a.HasDue()
		}
		return a.Due.Before(b.Due)
	})
	return out
}

// Summary renders the sectioned summary. Sections follow urgency.Order;
// each takes at most its cap, bounded by what is left of the global budget.
func Summary(events []model.Event, now time.Time, opts SummaryOptions) string {
	loc := orLocal(opts.Location)
	if opts.UrgentHours <= 0 {
		opts.UrgentHours = 24
	}
	if opts.MaxLines <= 0 {
		opts.MaxLines = DefaultMaxSummaryLines
	}

	groups := urgency.Partition(SortByDue(events), opts.UrgentHours, now)

	lines := []string{fmt.Sprintf("📌 <b>Resumen</b> — %s (%s)",
		Escape(now.In(loc).Format(dayTime)), Escape(loc.String()))}

	budget := opts.MaxLines
	for _, b := range urgency.Order {
		if budget <= 0 {
			break
		}
		group := groups[b]
		if len(group) == 0 {
			continue
		}
		limit := min(bucketCap(b), budget)

		lines = append(lines, "\n<b>"+Escape(sectionTitle(b, opts.UrgentHours))+"</b>")
		shown := group
		if len(shown) > limit {
			shown = shown[:limit]
		}
		for _, e := range shown {
			lines = append(lines, summaryLine(e, now, loc))
		}
		if extra := len(group) - len(shown); extra > 0 {
			lines = append(lines, fmt.Sprintf("… (+%d más)", extra))
		}
		budget -= len(shown)
	}
	return strings.Join(lines, "\n")
}

func summaryLine(e model.Event, now time.Time, loc *time.Location) string {
	line := fmt.Sprintf("%s %s — <i>%s</i> — <b>%s</b>",
		Badge(e.Submission),
		Escape(Short(e.Title, 44)),
		Escape(Short(courseName(e), 28)),
		Escape(remainingText(e, now)),
	)
	if e.HasDue() {
		line += " — <i>" + Escape(e.Due.In(loc).Format(dayTime)) + "</i>"
	}
	return line
}

// BriefList renders one line per event, sorted by deadline, capped at
// maxLines with an overflow trailer.
func BriefList(events []model.Event, now time.Time, maxLines int) string {
	if len(events) == 0 {
		return "Sin resultados."
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxSummaryLines
	}
	sorted := SortByDue(events)
	shown := sorted
	if len(shown) > maxLines {
		shown = shown[:maxLines]
	}

	lines := make([]string, 0, len(shown)+1)
	for _, e := range shown {
		lines = append(lines, fmt.Sprintf("%s %s — <i>%s</i> — <b>%s</b>",
			Badge(e.Submission),
			Escape(Short(e.Title, 65)),
			Escape(Short(courseName(e), 36)),
			Escape(remainingText(e, now)),
		))
	}
	if extra := len(sorted) - len(shown); extra > 0 {
		lines = append(lines, fmt.Sprintf("… (+%d más)", extra))
	}
	return strings.Join(lines, "\n")
}

// UrgentList is the body of the urgent command: confirmed-pending events
// that are urgent or overdue.
func UrgentList(events []model.Event, now time.Time, urgentHours, maxLines int) string {
	var picked []model.Event
	for _, e := range events {
		if e.Submission != model.SubmissionPending {
			continue
		}
		switch urgency.Classify(e, urgentHours, now) {
		case urgency.Urgent, urgency.Overdue:
			picked = append(picked, e)
		}
	}
	return "🚨 <b>Urgentes/Vencidos no entregados</b>\n" + BriefList(picked, now, maxLines)
}

// PendingList is the body of the pending command: every confirmed-pending
// event.
func PendingList(events []model.Event, now time.Time, maxLines int) string {
	var picked []model.Event
	for _, e := range events {
		if e.Submission == model.SubmissionPending {
			picked = append(picked, e)
		}
	}
	return "📝 <b>Pendientes (sin enviar)</b>\n" + BriefList(picked, now, maxLines)
}
