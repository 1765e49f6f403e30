package structured

import (
	"strconv"
	"strings"
)

// Section markers of the assistant's structured reply format.
const (
	DetailMarker = "【明细】"
	UpdatedAtKey = "更新时间"

	tableMarkerPrefix = "【表格"
	tableNamePrefix   = "表格"
)

var (
	BasicMarkers   = []string{"【基本信息】", "【基础信息】"}
	ArchiveMarkers = []string{"【档案记录】", "【历史档案】", "【档案】"}
)

type sectionKind int

const (
	sectionBasic sectionKind = iota
	sectionArchive
	sectionTable
)

type header struct {
	kind sectionKind
	name string
}

// HasStructuredMarkers is the fast-reject check: ordinary chat text carries
// none of the known section markers and is never parsed.
func HasStructuredMarkers(content string) bool {
	if strings.Contains(content, tableMarkerPrefix) || strings.Contains(content, DetailMarker) {
		return true
	}
	for _, m := range BasicMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}
	for _, m := range ArchiveMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}
	return false
}

// Parse extracts the basic-info section, table sections and archive entries
// from content. It returns nil when content has no recognised marker or when
// nothing could be extracted. Parse never panics on malformed or truncated
// input; lines that do not fit the expected shape are skipped.
func Parse(content string) *Info {
	if !HasStructuredMarkers(content) {
		return nil
	}

	p := &parser{lines: strings.Split(strings.ReplaceAll(content, "\r", ""), "\n")}
	info := &Info{}

	i := 0
	for i < len(p.lines) {
		h, ok := parseHeader(p.lines[i])
		i++
		if !ok {
			continue
		}
		switch h.kind {
		case sectionBasic:
			i = p.basic(i, info)
		case sectionArchive:
			i = p.archive(i, info)
		case sectionTable:
			i = p.table(i, h.name, info)
		}
	}

	if info.Empty() {
		return nil
	}
	if info.Tables == nil {
		info.Tables = []Table{}
	}
	if info.Archives == nil {
		info.Archives = []string{}
	}
	return info
}

type parser struct {
	lines []string
}

func (p *parser) line(i int) string {
	return strings.TrimSpace(p.lines[i])
}

// skipBlank returns the index of the first non-blank line at or after i.
func (p *parser) skipBlank(i int) int {
	for i < len(p.lines) && p.line(i) == "" {
		i++
	}
	return i
}

func (p *parser) basic(i int, info *Info) int {
	for ; i < len(p.lines); i++ {
		line := p.line(i)
		if line == "" {
			continue
		}
		if isHeader(line) {
			return i
		}
		if isDelimiter(line) {
			return i + 1
		}
		// Basic values are trimmed only; markup is left for the renderer.
		if key, value, ok := splitKeyValue(line); ok {
			info.Basic.Set(key, value)
		}
	}
	return i
}

func (p *parser) archive(i int, info *Info) int {
	for ; i < len(p.lines); i++ {
		line := p.line(i)
		if line == "" {
			continue
		}
		if isHeader(line) {
			return i
		}
		if isDelimiter(line) {
			return i + 1
		}
		entry := normalize(strings.TrimPrefix(line, "- "))
		if entry != "" {
			info.Archives = append(info.Archives, entry)
		}
	}
	return i
}

// table picks the grammar from the first non-blank line after the header.
func (p *parser) table(i int, name string, info *Info) int {
	i = p.skipBlank(i)
	if i >= len(p.lines) {
		return i
	}

	first := p.line(i)
	switch {
	case isHeader(first):
		return i
	case isDelimiter(first):
		return i + 1
	case first == DetailMarker || isUpdatedAtLine(first):
		return p.records(i, name, info)
	case strings.Contains(first, cellSeparator):
		return p.flat(i, name, info)
	}

	for ; i < len(p.lines); i++ {
		line := p.line(i)
		if isHeader(line) {
			return i
		}
		if isDelimiter(line) {
			return i + 1
		}
	}
	return i
}

func (p *parser) flat(i int, name string, info *Info) int {
	table := Table{
		Name:    name,
		Kind:    TableFlat,
		Columns: uniqueColumns(splitCells(p.line(i))),
	}
	i++

	if j := p.skipBlank(i); j < len(p.lines) && isSeparatorRow(p.line(j)) {
		i = j + 1
	}

	for ; i < len(p.lines); i++ {
		line := p.line(i)
		if line == "" {
			continue
		}
		if isHeader(line) {
			break
		}
		if isDelimiter(line) {
			i++
			break
		}
		if !strings.Contains(line, cellSeparator) {
			continue
		}

		cells := splitCells(line)
		row := make(map[string]string, len(table.Columns))
		for ci, col := range table.Columns {
			value := ""
			if ci < len(cells) {
				value = cells[ci]
			}
			row[col] = value
		}
		table.Rows = append(table.Rows, row)
	}

	info.Tables = append(info.Tables, table)
	return i
}

func (p *parser) records(i int, name string, info *Info) int {
	table := Table{Name: name, Kind: TableRecords}
	var current *Record

	flush := func() {
		if current != nil && (len(current.Fields) > 0 || current.UpdatedAt != "") {
			table.Records = append(table.Records, *current)
		}
		current = nil
	}

	for i < len(p.lines) {
		line := p.line(i)
		if line == "" {
			i++
			continue
		}
		if isHeader(line) {
			break
		}
		if line == DetailMarker {
			flush()
			current = &Record{}
			i++
			continue
		}
		if isDelimiter(line) {
			flush()
			i++
			next := p.skipBlank(i)
			if next < len(p.lines) && (p.line(next) == DetailMarker || isUpdatedAtLine(p.line(next))) {
				i = next
				continue
			}
			break
		}

		key, value, ok := splitKeyValue(strings.TrimPrefix(line, "- "))
		i++
		if !ok {
			continue
		}
		if current == nil {
			current = &Record{}
		}
		if strings.Contains(key, UpdatedAtKey) {
			if current.UpdatedAt != "" {
				flush()
				current = &Record{}
			}
			current.UpdatedAt = value
			continue
		}
		current.Fields.Set(key, normalize(value))
	}
	flush()

	if len(table.Records) > 0 {
		info.Tables = append(info.Tables, table)
	}
	return i
}

// parseHeader classifies a full-width bracket line. The detail marker is
// reserved for record tables and is never a section header.
func parseHeader(raw string) (header, bool) {
	line := strings.TrimSpace(raw)
	if !strings.HasPrefix(line, "【") || !strings.HasSuffix(line, "】") || line == DetailMarker {
		return header{}, false
	}
	inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(line, "【"), "】"))
	if inner == "" || strings.ContainsAny(inner, "【】") {
		return header{}, false
	}

	canonical := "【" + inner + "】"
	for _, m := range BasicMarkers {
		if canonical == m {
			return header{kind: sectionBasic}, true
		}
	}
	for _, m := range ArchiveMarkers {
		if canonical == m {
			return header{kind: sectionArchive}, true
		}
	}

	if rest, ok := strings.CutPrefix(inner, tableNamePrefix); ok {
		for _, colon := range []string{"：", ":"} {
			if name, ok := strings.CutPrefix(rest, colon); ok {
				if name = strings.TrimSpace(name); name != "" {
					return header{kind: sectionTable, name: name}, true
				}
				return header{kind: sectionTable, name: tableNamePrefix}, true
			}
		}
	}
	return header{kind: sectionTable, name: inner}, true
}

func isHeader(line string) bool {
	_, ok := parseHeader(line)
	return ok
}

// isDelimiter matches a trimmed run of three or more dashes.
func isDelimiter(line string) bool {
	return len(line) >= 3 && strings.Trim(line, "-") == ""
}

// isSeparatorRow matches a plain dash run or a markdown `---|---` rule.
func isSeparatorRow(line string) bool {
	if !strings.Contains(line, "-") {
		return false
	}
	return strings.Trim(line, "-|: ") == ""
}

func isUpdatedAtLine(line string) bool {
	key, _, ok := splitKeyValue(strings.TrimPrefix(line, "- "))
	return ok && strings.Contains(key, UpdatedAtKey)
}

// splitKeyValue splits on the first full-width colon, falling back to the
// first ASCII colon.
func splitKeyValue(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	key, value, ok := cutSeparator(line)
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

func cutSeparator(s string) (string, string, bool) {
	if before, after, ok := strings.Cut(s, "："); ok {
		return before, after, true
	}
	return strings.Cut(s, ":")
}

// uniqueColumns names blank header cells and suffixes repeated ones so every
// column keys its own row value.
func uniqueColumns(cells []string) []string {
	seen := make(map[string]int, len(cells))
	out := make([]string, len(cells))
	for i, c := range cells {
		if c == "" {
			c = "列" + strconv.Itoa(i+1)
		}
		seen[c]++
		if n := seen[c]; n > 1 {
			c = c + " (" + strconv.Itoa(n) + ")"
		}
		out[i] = c
	}
	return out
}
