package agent

import "strings"

// ExtractThoughtSubject isolates a short subject line from a streamed
// thought chunk. Providers that mark reasoning content tend to open a
// thought with a bold "**Subject**" heading; when one is present it is
// returned without the markers, otherwise the first line is truncated to a
// readable length.
func ExtractThoughtSubject(chunk string) string {
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return ""
	}
	if strings.HasPrefix(chunk, "**") {
		rest := chunk[2:]
		if end := strings.Index(rest, "**"); end > 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	line := chunk
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	const maxSubject = 80
	if len(line) > maxSubject {
		cut := line[:maxSubject]
		if sp := strings.LastIndexByte(cut, ' '); sp > maxSubject/2 {
			cut = cut[:sp]
		}
		line = cut + "…"
	}
	return line
}
