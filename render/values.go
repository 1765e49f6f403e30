package render

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// StageLabels maps backend stage codes to display labels.
var StageLabels = map[string]string{
	"contact_before":   "待开发",
	"trust_building":   "建立信任",
	"product_matching": "需求分析",
	"closing":          "商务谈判",
}

// StageLabel returns the label for a stage code. Unknown values, including
// values that are already labels, are returned unchanged.
func StageLabel(code string) string {
	if label, ok := StageLabels[strings.ToLower(strings.TrimSpace(code))]; ok {
		return label
	}
	return code
}

// SectionKey identifies a table section across re-renders of the same
// message. Position is included because table names may repeat.
func SectionKey(index int, name string) string {
	return strconv.Itoa(index) + ":" + name
}

func isStageKey(key string) bool {
	return strings.Contains(key, "阶段") || strings.Contains(strings.ToLower(key), "stage")
}

func isRiskKey(key string) bool {
	return strings.Contains(key, "风险") || strings.Contains(strings.ToLower(key), "risk")
}

func basicValue(key, raw string, opts Options) Value {
	switch {
	case isStageKey(key):
		return Value{Text: StageLabel(raw), Badge: BadgeStage}
	case isRiskKey(key):
		return Value{Text: raw, Badge: BadgeRisk}
	}
	return truncate(raw, opts)
}

// IsLong reports whether a value needs the expand affordance.
func IsLong(s string, limit int) bool {
	return strings.Contains(s, "\n") || utf8.RuneCountInString(s) > limit
}

// truncate keeps the first PreviewLines lines (and at most LongValueRunes
// runes) of a long value; Full keeps the original.
func truncate(s string, opts Options) Value {
	if !IsLong(s, opts.LongValueRunes) {
		return Value{Text: s}
	}

	lines := strings.Split(s, "\n")
	if len(lines) > opts.PreviewLines {
		lines = lines[:opts.PreviewLines]
	}
	preview := strings.Join(lines, "\n")
	if utf8.RuneCountInString(preview) > opts.LongValueRunes {
		preview = string([]rune(preview)[:opts.LongValueRunes])
	}
	if preview == s {
		// Short multi-line values fit in the preview.
		return Value{Text: s}
	}
	return Value{Text: strings.TrimRight(preview, "\n") + "…", Truncated: true, Full: s}
}
