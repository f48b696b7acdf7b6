// Package changes decides which freshly fetched events are new or changed
// compared to what earlier cycles have already seen.
package changes

import "uesbot/internal/model"

// Detect diffs events against the known records and returns every event
// along with the subset that is new or whose title or due text changed.
//
// known is updated in place: every event seen gets its record overwritten
// with the latest title, due text and URL whether it changed or not, so a
// missed notification is not repeated on the next cycle. changed keeps the
// order of events.
func Detect(events []model.Event, known map[string]model.TrackedEvent) (all, changed []model.Event) {
	all = events
	changed = make([]model.Event, 0)

	for _, ev := range events {
		prev, seen := known[ev.ID]
		if !seen || prev.DueText != ev.DueText || prev.Title != ev.Title {
			changed = append(changed, ev)
		}
		known[ev.ID] = model.Track(ev)
	}

	return all, changed
}

// IDs returns the set of event IDs in events.
func IDs(events []model.Event) map[string]struct{} {
	out := make(map[string]struct{}, len(events))
	for _, ev := range events {
		out[ev.ID] = struct{}{}
	}
	return out
}
