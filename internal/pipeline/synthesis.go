package pipeline

import (
	"strings"

	"github.com/driveline/driveline/internal/feeds"
)

// Synthesize builds a deterministic strategy briefing from the raw stage
// outputs. It is the non-AI fallback used when every consolidation attempt
// is exhausted, so it must always produce non-empty text from a non-empty
// analysis.
func Synthesize(snap Snapshot, analysis string, report *feeds.Report) string {
	var b strings.Builder

	b.WriteString("Strategy briefing (auto-assembled)\n\n")

	if snap.Address != "" {
		b.WriteString("Area: " + snap.Address + "\n")
	}
	if snap.LocalTime != "" {
		b.WriteString("As of: " + snap.LocalTime)
		if snap.DayOfWeek != "" {
			b.WriteString(" (" + snap.DayOfWeek + ")")
		}
		b.WriteString("\n")
	}

	conditions := describeConditions(report)
	if conditions != "" {
		b.WriteString("\nConditions:\n")
		b.WriteString(conditions)
	}

	b.WriteString("\nAnalysis:\n")
	b.WriteString(strings.TrimSpace(analysis))
	b.WriteString("\n")

	return b.String()
}
