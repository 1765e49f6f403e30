package structured

import (
	"regexp"
	"strings"
)

const cellSeparator = " | "

var lineBreakTag = regexp.MustCompile(`(?i)<br\s*/?>`)

// normalize unescapes `\|`, turns <br> tags into newlines and trims.
func normalize(s string) string {
	s = strings.ReplaceAll(s, `\|`, "|")
	s = lineBreakTag.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// splitCells splits a table line on " | ". Leading and trailing pipes of
// markdown-style rows are dropped first.
func splitCells(line string) []string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "|") {
		line = line[1:]
	}
	if strings.HasSuffix(line, "|") && !strings.HasSuffix(line, `\|`) {
		line = line[:len(line)-1]
	}

	parts := strings.Split(line, cellSeparator)
	cells := make([]string, len(parts))
	for i, part := range parts {
		cells[i] = normalize(part)
	}
	return cells
}
