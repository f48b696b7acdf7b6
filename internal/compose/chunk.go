package compose

import (
	"strings"
	"unicode/utf8"
)

// ParagraphSep separates paragraphs in composed messages.
const ParagraphSep = "\n\n"

// Chunk splits msg on paragraph boundaries and greedily packs paragraphs
// into chunks of at most maxLen runes. A paragraph is never split; one that
// alone exceeds maxLen becomes its own chunk. Joining the result with
// ParagraphSep reproduces msg.
func Chunk(msg string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultChunkLen
	}
	if utf8.RuneCountInString(msg) <= maxLen {
		return []string{msg}
	}

	sepLen := utf8.RuneCountInString(ParagraphSep)
	var (
		parts  []string
		cur    []string
		curLen int
	)
	for _, block := range strings.Split(msg, ParagraphSep) {
		blen := utf8.RuneCountInString(block)
		if len(cur) > 0 && curLen+sepLen+blen > maxLen {
			parts = append(parts, strings.Join(cur, ParagraphSep))
			cur, curLen = nil, 0
		}
		if len(cur) > 0 {
			curLen += sepLen
		}
		cur = append(cur, block)
		curLen += blen
	}
	if len(cur) > 0 {
		parts = append(parts, strings.Join(cur, ParagraphSep))
	}
	return parts
}
