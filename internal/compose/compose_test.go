package compose

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uesbot/internal/model"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func ev(id string, in time.Duration, sub model.Submission) model.Event {
	e := model.Event{
		ID:         id,
		Title:      "Tarea " + id,
		DueText:    "Mañana",
		URL:        "https://ues.test/calendar/view.php?event=" + id,
		CourseName: "Cálculo",
		Submission: sub,
	}
	if in != 0 {
		e.Due = now.Add(in)
	}
	return e
}

func TestEscapeAndShort(t *testing.T) {
	assert.Equal(t, "a &amp; b &lt;i&gt; \"q\"", Escape(`a & b <i> "q"`))
	assert.Equal(t, "hola", Short("  hola  ", 10))
	assert.Equal(t, "Cálc…", Short("Cálculo", 5))
	assert.Equal(t, 5, utf8.RuneCountInString(Short("Cálculo", 5)))
}

func TestFormatRemaining(t *testing.T) {
	cases := map[time.Duration]string{
		-time.Hour:                   "0m",
		45 * time.Minute:             "45m",
		3 * time.Hour:                "3h",
		3*time.Hour + 20*time.Minute: "3h 20m",
		53 * time.Hour:               "2d 5h",
		7*24*time.Hour + time.Minute: "7d 0h",
	}
	for d, want := range cases {
		assert.Equal(t, want, FormatRemaining(d), d.String())
	}
}

func TestBadge(t *testing.T) {
	assert.Equal(t, "✅", Badge(model.SubmissionSubmitted))
	assert.Equal(t, "⚠️", Badge(model.SubmissionPending))
	assert.Equal(t, "❔", Badge(model.SubmissionUnknown))
}

func TestChunkReproducesInput(t *testing.T) {
	var paras []string
	for i := range 40 {
		paras = append(paras, strings.Repeat(fmt.Sprintf("p%d ", i), 10+i))
	}
	msg := strings.Join(paras, ParagraphSep)

	chunks := Chunk(msg, 300)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, msg, strings.Join(chunks, ParagraphSep))
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 300)
	}
}

func TestChunkOversizeParagraphStaysWhole(t *testing.T) {
	big := strings.Repeat("x", 50)
	msg := "a" + ParagraphSep + big + ParagraphSep + "b"

	chunks := Chunk(msg, 10)
	assert.Equal(t, []string{"a", big, "b"}, chunks)
	assert.Equal(t, msg, strings.Join(chunks, ParagraphSep))
}

func TestChunkShortMessage(t *testing.T) {
	assert.Equal(t, []string{"hola\n\nmundo"}, Chunk("hola\n\nmundo", 0))
}

func TestChangeBatch(t *testing.T) {
	var changed []model.Event
	for i := range 5 {
		changed = append(changed, ev(fmt.Sprint(i), time.Hour, model.SubmissionPending))
	}
	changed[0].Title = "<script>"
	changed[1].SubmissionURL = "https://ues.test/mod/assign/view.php?id=9"

	msg := ChangeBatch(changed, 3)
	assert.True(t, strings.HasPrefix(msg, "🆕 <b>Cambios detectados</b> (5)"))
	assert.Contains(t, msg, "&lt;script&gt;")
	assert.Contains(t, msg, "🔗 https://ues.test/mod/assign/view.php?id=9")
	assert.True(t, strings.HasSuffix(msg, "… (+2 más)"))
	assert.Equal(t, 5, len(strings.Split(msg, ParagraphSep)), "header, three items, trailer")
}

func TestSummarySectionsAndBudget(t *testing.T) {
	var events []model.Event
	// Eight urgent events: six shown, two in the trailer.
	for i := range 8 {
		events = append(events, ev(fmt.Sprintf("u%d", i), time.Duration(8-i)*time.Hour, model.SubmissionPending))
	}
	events = append(events,
		ev("o1", -time.Hour, model.SubmissionPending),
		ev("s1", -time.Hour, model.SubmissionSubmitted),
		ev("n1", 0, model.SubmissionUnknown),
		ev("p1", 3*24*time.Hour, model.SubmissionPending),
	)

	msg := Summary(events, now, SummaryOptions{Location: time.UTC, UrgentHours: 24, MaxLines: 8})

	assert.True(t, strings.HasPrefix(msg, "📌 <b>Resumen</b> — 2026-03-02 12:00 (UTC)"))
	assert.Contains(t, msg, "<b>🔥 Urgente (≤24h)</b>")
	assert.Contains(t, msg, "… (+2 más)")
	assert.Contains(t, msg, "<b>🕒 Vencidos (no enviados)</b>")
	// Budget 8: six urgent and one overdue, then one upcoming line.
	assert.Contains(t, msg, "<b>📅 Próximos (≤7d)</b>")
	assert.NotContains(t, msg, "✅ Enviados", "budget exhausted before the sent section")

	// Ascending deadline within the urgent bucket.
	assert.Less(t, strings.Index(msg, "Tarea u7"), strings.Index(msg, "Tarea u6"))
	assert.NotContains(t, msg, "Tarea u0")
}

func TestSummaryUndatedUsesDueText(t *testing.T) {
	e := ev("n1", 0, model.SubmissionUnknown)
	e.DueText = "Sin fecha"
	e.CourseName = ""
	msg := Summary([]model.Event{e}, now, SummaryOptions{Location: time.UTC})
	assert.Contains(t, msg, "<b>⌛ Sin fecha detectada</b>")
	assert.Contains(t, msg, "❔ Tarea n1 — <i>Sin materia</i> — <b>Sin fecha</b>")
}

func TestSortByDueUndatedLast(t *testing.T) {
	sorted := SortByDue([]model.Event{
		ev("n", 0, model.SubmissionUnknown),
		ev("b", 2*time.Hour, model.SubmissionUnknown),
		ev("a", time.Hour, model.SubmissionUnknown),
	})
	ids := []string{sorted[0].ID, sorted[1].ID, sorted[2].ID}
	assert.Equal(t, []string{"a", "b", "n"}, ids)
}

func TestUrgentAndPendingLists(t *testing.T) {
	events := []model.Event{
		ev("u", 2*time.Hour, model.SubmissionPending),
		ev("o", -2*time.Hour, model.SubmissionPending),
		ev("far", 10*24*time.Hour, model.SubmissionPending),
		ev("unk", time.Hour, model.SubmissionUnknown),
		ev("done", time.Hour, model.SubmissionSubmitted),
	}

	urgent := UrgentList(events, now, 24, 10)
	assert.Contains(t, urgent, "Tarea u ")
	assert.Contains(t, urgent, "Tarea o ")
	assert.NotContains(t, urgent, "Tarea far")
	assert.NotContains(t, urgent, "Tarea unk")

	pending := PendingList(events, now, 2)
	assert.True(t, strings.HasPrefix(pending, "📝 <b>Pendientes (sin enviar)</b>\n"))
	assert.Contains(t, pending, "… (+1 más)")

	assert.Contains(t, PendingList(nil, now, 5), "Sin resultados.")
}

func TestWeeklyCalendar(t *testing.T) {
	loc := time.FixedZone("MST", -7*3600)

	events := []model.Event{
		ev("a", 24*time.Hour, model.SubmissionPending),
		ev("b", 26*time.Hour, model.SubmissionSubmitted),
		ev("late", 9*24*time.Hour, model.SubmissionPending),
		ev("undated", 0, model.SubmissionPending),
	}
	msg := WeeklyCalendar(events, now, loc)

	assert.True(t, strings.HasPrefix(msg, "📅 <b>Calendario semanal</b>"))
	assert.Contains(t, msg, "<b>Mar 2026-03-03</b>")
	assert.Contains(t, msg, "Tarea a")
	assert.Contains(t, msg, "Tarea b")
	assert.NotContains(t, msg, "Tarea late")
	assert.NotContains(t, msg, "Tarea undated")

	empty := WeeklyCalendar(nil, now, loc)
	assert.Contains(t, empty, "Sin eventos en los próximos 7 días.")
}

func TestReminderAndNotices(t *testing.T) {
	e := ev("r", 5*time.Hour, model.SubmissionPending)
	msg := Reminder(e, "6h", now)
	assert.Contains(t, msg, "Recordatorio (6h)")
	assert.Contains(t, msg, "⏳ 5h")

	alert := Alert(3, "timeout <dial>")
	assert.Contains(t, alert, "3 veces")
	assert.Contains(t, alert, "timeout &lt;dial&gt;")

	assert.NotEmpty(t, WakeNotice())
}

func TestStatus(t *testing.T) {
	last := now.Add(-time.Hour)
	msg := Status(StatusView{
		Quiet:             "00:00 - 07:00",
		IntervalMinutes:   60,
		Tracked:           4,
		LastRun:           &last,
		ConsecutiveErrors: 1,
		LastError:         "boom",
	}, time.UTC)

	assert.Contains(t, msg, "Dormido hasta: <b>No</b>")
	assert.Contains(t, msg, "Intervalo: <b>60 min</b>")
	assert.Contains(t, msg, "Eventos trackeados: <b>4</b>")
	assert.Contains(t, msg, "Última ejecución: <b>2026-03-02 11:00</b>")
	assert.Contains(t, msg, "Último error: <b>boom</b>")
	assert.NotContains(t, msg, "Próxima ejecución")
}
