package channel

import (
	"fmt"
	"strings"
)

// SplitMessage splits text into chunks no longer than limit runes,
// preferring paragraph and line boundaries over mid-line cuts.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var chunks []string
	remaining := []rune(text)
	for len(remaining) > limit {
		cut := limit
		window := string(remaining[:limit])
		if idx := strings.LastIndex(window, "\n\n"); idx > limit/2 {
			cut = idx + 2
		} else if idx := strings.LastIndex(window, "\n"); idx > limit/2 {
			cut = idx + 1
		} else if idx := strings.LastIndex(window, " "); idx > limit/2 {
			cut = idx + 1
		}
		chunks = append(chunks, strings.TrimRight(string(remaining[:cut]), "\n "))
		remaining = remaining[cut:]
	}
	if len(remaining) > 0 {
		chunks = append(chunks, string(remaining))
	}
	return chunks
}

// MediaSummary formats a media attachment as a key-value block the agent
// can read. Pairs are alternating key, value strings; empty values are
// skipped.
func MediaSummary(mediaType string, pairs ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[media type=%s", mediaType)
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		fmt.Fprintf(&b, " %s=%q", pairs[i], pairs[i+1])
	}
	b.WriteString("]")
	return b.String()
}

func fmtSeconds(d int) string {
	return fmt.Sprintf("%ds", d)
}
