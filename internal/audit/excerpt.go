package audit

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/redactai/redactai/internal/redact"
	"github.com/redactai/redactai/internal/safety"
)

// DefaultExcerptLength caps the stored preview, in runes.
const DefaultExcerptLength = 100

// MaskExcerpt replaces every detected span with its category tag, runs the
// log redactor over the rest, collapses whitespace and caps the length.
func MaskExcerpt(text string, detections []safety.DetectionMatch, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultExcerptLength
	}
	spans := append([]safety.DetectionMatch(nil), detections...)
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})

	var b strings.Builder
	pos := 0
	for _, d := range spans {
		if d.Start < 0 || d.End > len(text) || d.Start >= d.End || d.End <= pos {
			continue
		}
		if d.Start >= pos {
			b.WriteString(text[pos:d.Start])
			b.WriteString(d.Kind.Tag())
		}
		pos = d.End
	}
	b.WriteString(text[pos:])

	masked := strings.Join(strings.Fields(redact.String(b.String())), " ")
	if utf8.RuneCountInString(masked) <= maxRunes {
		return masked
	}
	runes := []rune(masked)
	return string(runes[:maxRunes]) + "..."
}
