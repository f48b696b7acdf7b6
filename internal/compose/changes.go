package compose

import (
	"fmt"
	"strings"

	"uesbot/internal/model"
)

// DefaultMaxChangeItems caps the blocks in a change batch.
const DefaultMaxChangeItems = 12

// ChangeBatch renders the "changes detected" message: a header with the
// total count, one block per event up to maxItems, and a "+N más" trailer.
func ChangeBatch(changed []model.Event, maxItems int) string {
	if maxItems <= 0 {
		maxItems = DefaultMaxChangeItems
	}
	items := changed
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	blocks := []string{fmt.Sprintf("🆕 <b>Cambios detectados</b> (%d)", len(changed))}
	for _, e := range items {
		due := strings.TrimSpace(e.DueText)
		if due == "" {
			due = noDue
		}
		blocks = append(blocks, fmt.Sprintf("%s <b>%s</b>\n• %s\n• ⏳ %s\n• 🔗 %s",
			Badge(e.Submission),
			Escape(Short(courseName(e), 40)),
			Escape(Short(e.Title, 70)),
			Escape(due),
			Escape(e.Link()),
		))
	}
	if extra := len(changed) - len(items); extra > 0 {
		blocks = append(blocks, fmt.Sprintf("… (+%d más)", extra))
	}
	return strings.Join(blocks, ParagraphSep)
}
