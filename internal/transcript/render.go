package transcript

import "strings"

// Render formats a snapshot for display, collapsing the whitespace runs that
// incremental transcription deltas tend to leave behind. Empty sides are
// omitted.
func Render(s Snapshot) string {
	var lines []string
	if user := collapse(s.User); user != "" {
		lines = append(lines, "you: "+user)
	}
	if assistant := collapse(s.Assistant); assistant != "" {
		lines = append(lines, "assistant: "+assistant)
	}
	return strings.Join(lines, "\n")
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
