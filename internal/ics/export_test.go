package ics

import (
	"bytes"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uesbot/internal/model"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func event(id, title string, in time.Duration, sub model.Submission) model.Event {
	return model.Event{
		ID:               id,
		Title:            title,
		URL:              "https://x.test/event?id=" + id,
		Due:              now.Add(in),
		CourseName:       "Materia Test",
		SubmissionURL:    "https://x.test/mod/assign/view.php?id=" + id,
		Submission:       sub,
		SubmissionStatus: "Pendiente",
	}
}

func parse(t *testing.T, data []byte) *ical.Calendar {
	t.Helper()
	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	require.NoError(t, err)
	return cal
}

func TestExportIncludesPendingEvents(t *testing.T) {
	events := []model.Event{
		event("1", "Tarea Algebra", time.Hour, model.SubmissionPending),
		event("2", "Tarea Enviada", 2*time.Hour, model.SubmissionSubmitted),
		event("3", "Sin estado", 3*time.Hour, model.SubmissionUnknown),
	}

	data, count := Export(events, now, 30)
	assert.Equal(t, 2, count)
	assert.NotContains(t, string(data), "Tarea Enviada")

	cal := parse(t, data)
	vevents := cal.Events()
	require.Len(t, vevents, 2)

	first := vevents[0]
	assert.Equal(t, "1@ues-bot", first.Id())
	assert.Equal(t, "[UES] Tarea Algebra", first.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Contains(t, first.GetProperty(ical.ComponentPropertyDescription).Value, "Materia: Materia Test")

	start, err := first.GetStartAt()
	require.NoError(t, err)
	end, err := first.GetEndAt()
	require.NoError(t, err)
	assert.True(t, end.Equal(now.Add(time.Hour)))
	assert.Equal(t, 30*time.Minute, end.Sub(start))
}

func TestExportWindow(t *testing.T) {
	events := []model.Event{
		event("past", "Vencida", -100*time.Second, model.SubmissionPending),
		event("far", "Lejana", 31*24*time.Hour, model.SubmissionPending),
		{ID: "undated", Title: "Sin fecha"},
	}

	data, count := Export(events, now, 30)
	assert.Equal(t, 0, count)
	assert.Contains(t, string(data), "BEGIN:VCALENDAR")
	assert.NotContains(t, string(data), "BEGIN:VEVENT")
	assert.Contains(t, string(data), "X-WR-CALNAME:UES Entregas")
}

func TestExportDefaultsDays(t *testing.T) {
	events := []model.Event{event("1", "A", 29*24*time.Hour, model.SubmissionPending)}
	_, count := Export(events, now, 0)
	assert.Equal(t, 1, count)
}

func TestFilename(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	assert.Equal(t, "ues_entregas_20250310_0600.ics", Filename(now, loc))
}
