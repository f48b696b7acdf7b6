package compose

import (
	"fmt"
	"strings"
	"time"

	"uesbot/internal/model"
)

var dayNames = [...]string{"Dom", "Lun", "Mar", "Mie", "Jue", "Vie", "Sab"}

// WeeklyCalendar groups dated events due within the next 7 local days by
// day. Days are compared in loc, so "today" is the local calendar date.
func WeeklyCalendar(events []model.Event, now time.Time, loc *time.Location) string {
	loc = orLocal(loc)
	localNow := now.In(loc)
	today := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)

	type day struct {
		key   string
		lines []string
	}
	var days []*day
	index := map[string]*day{}

	for _, e := range SortByDue(events) {
		if !e.HasDue() {
			continue
		}
		due := e.Due.In(loc)
		dueDay := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, loc)
		diff := int(dueDay.Sub(today).Hours()/24 + 0.5)
		if dueDay.Before(today) || diff > 7 {
			continue
		}

		key := dayNames[due.Weekday()] + " " + due.Format("2006-01-02")
		d, ok := index[key]
		if !ok {
			d = &day{key: key}
			index[key] = d
			days = append(days, d)
		}
		d.lines = append(d.lines, fmt.Sprintf("%s %s — <i>%s</i> — %s",
			Badge(e.Submission),
			Escape(Short(e.Title, 50)),
			Escape(Short(courseName(e), 30)),
			Escape(FormatRemaining(e.Remaining(now))),
		))
	}

	if len(days) == 0 {
		return "📅 <b>Calendario semanal</b>\n\nSin eventos en los próximos 7 días."
	}

	lines := []string{"📅 <b>Calendario semanal</b>"}
	for _, d := range days {
		lines = append(lines, "\n<b>"+Escape(d.key)+"</b>")
		lines = append(lines, d.lines...)
	}
	return strings.Join(lines, "\n")
}

// Reminder renders one threshold reminder.
func Reminder(e model.Event, label string, now time.Time) string {
	return fmt.Sprintf("⏰ <b>Recordatorio (%s)</b>\n%s <b>%s</b>\n• %s\n• ⏳ %s\n• 🔗 %s",
		Escape(label),
		Badge(e.Submission),
		Escape(Short(courseName(e), 40)),
		Escape(Short(e.Title, 70)),
		Escape(FormatRemaining(e.Remaining(now))),
		Escape(e.Link()),
	)
}

// Alert renders the operator alert for a failure streak.
func Alert(consecutive int, lastErr string) string {
	return fmt.Sprintf("🚨 <b>El scraping falló %d veces seguidas</b>\nÚltimo error: <code>%s</code>",
		consecutive, Escape(Short(lastErr, 300)))
}

// WakeNotice is sent once when a sleep period has expired.
func WakeNotice() string {
	return "☀️ Bot activo de nuevo."
}

// StatusView is the data shown by the status command.
type StatusView struct {
	SleepUntil        *time.Time
	Quiet             string
	IntervalMinutes   int
	Tracked           int
	LastRun           *time.Time
	LastError         string
	ConsecutiveErrors int
	NextRun           *time.Time
}

// Status renders the operational status message.
func Status(v StatusView, loc *time.Location) string {
	sleep := "No"
	if v.SleepUntil != nil {
		sleep = FormatTime(v.SleepUntil, loc)
	}
	lastErr := v.LastError
	if lastErr == "" {
		lastErr = "-"
	}

	var b strings.Builder
	b.WriteString("🤖 <b>Estado del bot</b>\n")
	fmt.Fprintf(&b, "• Dormido hasta: <b>%s</b>\n", Escape(sleep))
	fmt.Fprintf(&b, "• Quiet hours: <b>%s</b>\n", Escape(v.Quiet))
	fmt.Fprintf(&b, "• Intervalo: <b>%d min</b>\n", v.IntervalMinutes)
	if v.NextRun != nil {
		fmt.Fprintf(&b, "• Próxima ejecución: <b>%s</b>\n", Escape(FormatTime(v.NextRun, loc)))
	}
	fmt.Fprintf(&b, "• Eventos trackeados: <b>%d</b>\n", v.Tracked)
	fmt.Fprintf(&b, "• Última ejecución: <b>%s</b>\n", Escape(FormatTime(v.LastRun, loc)))
	fmt.Fprintf(&b, "• Errores consecutivos: <b>%d</b>\n", v.ConsecutiveErrors)
	fmt.Fprintf(&b, "• Último error: <b>%s</b>", Escape(Short(lastErr, 120)))
	return b.String()
}
