package portal

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"uesbot/internal/model"
)

const statusUndetected = "No detectado"

var (
	eventParam = regexp.MustCompile(`[?&]event=(\d+)`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)
)

// Phrases are compared after folding, so accents and case do not matter.
var (
	submittedPhrases = []string{
		"enviado para calificar",
		"entregado para calificar",
		"submitted for grading",
	}
	notSubmittedPhrases = []string{
		"aun no se ha hecho ninguna tarea",
		"no se han realizado envios",
		"no se han realizado entregas",
		"sin enviar",
		"borrador",
		"draft (not submitted)",
		"no submission",
	}
	statusLabels = []string{
		"estatus de la entrega",
		"estado de la entrega",
		"submission status",
	}
)

// fold lowercases s and strips combining marks ("Aún" -> "aun").
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// text returns the element text with whitespace runs collapsed.
func text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// textLines returns the trimmed text nodes under sel, one per line.
func textLines(sel *goquery.Selection) string {
	var lines []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				if t := strings.TrimSpace(c.Text()); t != "" {
					lines = append(lines, t)
				}
				return
			}
			walk(c)
		})
	}
	walk(sel)
	return strings.Join(lines, "\n")
}

func parseDoc(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// ParseDashboard extracts the event items of the dashboard timeline.
func ParseDashboard(html string) ([]model.Event, error) {
	doc, err := parseDoc(html)
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0)
	doc.Find(`div.event[data-region="event-item"]`).Each(func(_ int, item *goquery.Selection) {
		a := item.Find(`h6 a[data-action="view-event"]`).First()
		if a.Length() == 0 {
			return
		}

		title := text(a)
		href := strings.TrimSpace(a.AttrOr("href", ""))
		id := strings.TrimSpace(a.AttrOr("data-event-id", ""))
		if id == "" && href != "" {
			if m := eventParam.FindStringSubmatch(href); m != nil {
				id = m[1]
			}
		}
		if id == "" {
			id = href
		}
		if id == "" {
			id = title
		}

		events = append(events, model.Event{
			ID:         id,
			Title:      title,
			DueText:    text(item.Find("div.date.small a").First()),
			URL:        href,
			Due:        model.DueFromURL(href),
			CourseName: model.DefaultCourseName,
		})
	})
	return events, nil
}

// ParseEventPage reads the course name and description of an event page.
func ParseEventPage(html string) (course, description string, err error) {
	doc, err := parseDoc(html)
	if err != nil {
		return "", "", err
	}

	course = model.DefaultCourseName
	if a := doc.Find(`a[href*="/course/view.php?id="]`).First(); a.Length() > 0 {
		if t := text(a); t != "" {
			course = t
		}
	}
	if d := doc.Find("div.description-content").First(); d.Length() > 0 {
		description = strings.TrimSpace(blankRuns.ReplaceAllString(textLines(d), "\n\n"))
	}
	return course, description, nil
}

// FindAssignmentURL returns the first activity link on an event page
// (<base>/mod/<kind>/view.php?id=...). Relative links are resolved against
// base. It returns "" when none is present.
func FindAssignmentURL(html, base string) (string, error) {
	doc, err := parseDoc(html)
	if err != nil {
		return "", err
	}
	base = strings.TrimRight(base, "/")
	baseURL, err := url.Parse(base + "/")
	if err != nil {
		return "", err
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := baseURL.ResolveReference(ref).String()
		if strings.HasPrefix(abs, base+"/mod/") && strings.Contains(abs, "view.php?id=") {
			found = abs
			return false
		}
		return true
	})
	return found, nil
}

// ParseSubmission reads the submission state of an assignment page. Moodle
// marks the status cell with a class; older themes only have the status
// row of the summary table, which is matched by phrase.
func ParseSubmission(html string) (Status, error) {
	doc, err := parseDoc(html)
	if err != nil {
		return Status{}, err
	}

	if td := doc.Find("td.submissionstatussubmitted").First(); td.Length() > 0 {
		return Status{Submission: model.SubmissionSubmitted, Text: textOr(td, "Enviado para calificar")}, nil
	}
	if td := doc.Find("td.submissionstatusnosubmission").First(); td.Length() > 0 {
		return Status{Submission: model.SubmissionPending, Text: textOr(td, "Sin envío")}, nil
	}

	st := Status{Text: statusUndetected}
	doc.Find("table.generaltable tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		th, td := row.Find("th").First(), row.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return true
		}
		if !containsAny(fold(text(th)), statusLabels) {
			return true
		}

		value := text(td)
		v := fold(value)
		st.Text = value
		switch {
		case containsAny(v, submittedPhrases):
			st.Submission = model.SubmissionSubmitted
		case containsAny(v, notSubmittedPhrases):
			st.Submission = model.SubmissionPending
		}
		return false
	})
	return st, nil
}

func textOr(sel *goquery.Selection, fallback string) string {
	if t := text(sel); t != "" {
		return t
	}
	return fallback
}
