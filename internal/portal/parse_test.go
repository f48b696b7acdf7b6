package portal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uesbot/internal/model"
)

const dashboardHTML = `
<div class="event" data-region="event-item">
  <h6><a data-action="view-event" data-event-id="42" href="http://x.com/calendar/view.php?view=day&amp;time=1772400000&amp;event=42">Tarea   1</a></h6>
  <div class="date small"><a>Mañana, 23:59</a></div>
</div>
<div class="event" data-region="event-item">
  <h6><a data-action="view-event" href="http://x.com?event=43">Tarea 2</a></h6>
  <div class="date small"><a>2026-03-05</a></div>
</div>
<div class="event" data-region="event-item">
  <h6><span>no link</span></h6>
</div>
`

func TestParseDashboard(t *testing.T) {
	events, err := ParseDashboard(dashboardHTML)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "42", events[0].ID)
	assert.Equal(t, "Tarea 1", events[0].Title)
	assert.Equal(t, "Mañana, 23:59", events[0].DueText)
	assert.True(t, events[0].Due.Equal(time.Unix(1772400000, 0)))
	assert.Equal(t, model.DefaultCourseName, events[0].CourseName)

	assert.Equal(t, "43", events[1].ID, "id falls back to the event= parameter")
	assert.False(t, events[1].HasDue())
}

func TestParseDashboardEmpty(t *testing.T) {
	events, err := ParseDashboard("<html><body></body></html>")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseEventPage(t *testing.T) {
	html := `
	<a href="/course/view.php?id=5">Calculo II</a>
	<div class="description-content"><p>Entregar ejercicios</p><p>del capitulo 3.</p></div>`
	course, desc, err := ParseEventPage(html)
	require.NoError(t, err)
	assert.Equal(t, "Calculo II", course)
	assert.Equal(t, "Entregar ejercicios\ndel capitulo 3.", desc)

	course, desc, err = ParseEventPage("<p>nada</p>")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultCourseName, course)
	assert.Empty(t, desc)
}

func TestFindAssignmentURL(t *testing.T) {
	base := "https://ueslearning.ues.mx"

	got, err := FindAssignmentURL(`<a href="https://ueslearning.ues.mx/mod/assign/view.php?id=100">Ver</a>`, base)
	require.NoError(t, err)
	assert.Equal(t, "https://ueslearning.ues.mx/mod/assign/view.php?id=100", got)

	got, err = FindAssignmentURL(`<a href="/mod/quiz/view.php?id=7">Quiz</a>`, base+"/")
	require.NoError(t, err)
	assert.Equal(t, "https://ueslearning.ues.mx/mod/quiz/view.php?id=7", got)

	got, err = FindAssignmentURL(`<a href="https://other.com/mod/assign/view.php?id=1">Link</a>`, base)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseSubmission(t *testing.T) {
	cases := []struct {
		name string
		html string
		want model.Submission
		text string
	}{
		{
			name: "submitted cell",
			html: `<table class="generaltable"><tr><th>Submission status</th><td class="submissionstatussubmitted">Submitted for grading</td></tr></table>`,
			want: model.SubmissionSubmitted,
			text: "Submitted for grading",
		},
		{
			name: "no submission cell",
			html: `<table class="generaltable"><tr><th>Submission status</th><td class="submissionstatusnosubmission">No submission</td></tr></table>`,
			want: model.SubmissionPending,
			text: "No submission",
		},
		{
			name: "status row without accents",
			html: `<table class="generaltable"><tr><th>Estatus de la entrega</th><td>Aun no se ha hecho ninguna tarea</td></tr></table>`,
			want: model.SubmissionPending,
			text: "Aun no se ha hecho ninguna tarea",
		},
		{
			name: "status row with accents",
			html: `<table class="generaltable"><tr><th>Estado de la entrega</th><td>No se han realizado envíos</td></tr></table>`,
			want: model.SubmissionPending,
			text: "No se han realizado envíos",
		},
		{
			name: "status row submitted",
			html: `<table class="generaltable"><tr><th>Estado</th><td>x</td></tr><tr><th>Estado de la entrega</th><td>Enviado para calificar</td></tr></table>`,
			want: model.SubmissionSubmitted,
			text: "Enviado para calificar",
		},
		{
			name: "status row unknown phrase",
			html: `<table class="generaltable"><tr><th>Submission status</th><td>Something else</td></tr></table>`,
			want: model.SubmissionUnknown,
			text: "Something else",
		},
		{
			name: "nothing",
			html: `<html><body>Nothing here</body></html>`,
			want: model.SubmissionUnknown,
			text: "No detectado",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, err := ParseSubmission(tc.html)
			require.NoError(t, err)
			assert.Equal(t, tc.want, st.Submission)
			assert.Equal(t, tc.text, st.Text)
		})
	}
}

func TestFold(t *testing.T) {
	assert.Equal(t, "aun no se han realizado envios", fold("Aún no se han realizado ENVÍOS"))
}
