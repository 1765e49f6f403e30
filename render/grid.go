package render

import (
	"strings"

	"github.com/Desarso/crmstream/structured"
)

// PreferredColumns are picked, highest priority first, when the user has not
// chosen columns for a flat table.
var PreferredColumns = []string{
	"姓名", "客户名称", "电话", "手机", "销售阶段", "阶段",
	"风险等级", "产品", "金额", "日期", "更新时间", "负责人",
}

// DefaultColumns picks the columns shown when the user has not chosen any:
// up to MaxColumns preferred names present in the table, displayed in table
// order, else the first MaxColumns.
func DefaultColumns(columns []string, opts Options) []string {
	opts = opts.withDefaults()
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}

	var picked []string
	for _, p := range opts.PreferredColumns {
		if present[p] {
			picked = append(picked, p)
			if len(picked) == opts.MaxColumns {
				break
			}
		}
	}
	if len(picked) > 0 {
		return orderLike(picked, columns)
	}

	if len(columns) > opts.MaxColumns {
		return append([]string(nil), columns[:opts.MaxColumns]...)
	}
	return append([]string(nil), columns...)
}

// orderLike returns subset in the order of reference.
func orderLike(subset, reference []string) []string {
	want := make(map[string]bool, len(subset))
	for _, s := range subset {
		want[s] = true
	}
	out := make([]string, 0, len(subset))
	for _, r := range reference {
		if want[r] {
			out = append(out, r)
		}
	}
	return out
}

func selectColumns(columns, requested []string, opts Options) []string {
	if len(requested) == 0 {
		return DefaultColumns(columns, opts)
	}
	picked := orderLike(requested, columns)
	if len(picked) == 0 {
		return DefaultColumns(columns, opts)
	}
	return picked
}

// MatchRow reports whether any cell of row contains query, ignoring case.
// An empty query matches everything.
func MatchRow(row map[string]string, query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	for _, v := range row {
		if strings.Contains(strings.ToLower(v), query) {
			return true
		}
	}
	return false
}

func projectGrid(table structured.Table, st TableState, opts Options) Grid {
	grid := Grid{
		Columns:  append([]string(nil), table.Columns...),
		Selected: selectColumns(table.Columns, st.Columns, opts),
		Query:    st.Query,
		Total:    len(table.Rows),
		PageSize: opts.PageSize,
	}

	var matched []map[string]string
	for _, row := range table.Rows {
		if MatchRow(row, st.Query) {
			matched = append(matched, row)
		}
	}
	grid.Matched = len(matched)

	grid.PageCount = (len(matched) + opts.PageSize - 1) / opts.PageSize
	if grid.PageCount == 0 {
		grid.PageCount = 1
	}
	grid.Page = clamp(st.Page, 0, grid.PageCount-1)

	start := grid.Page * opts.PageSize
	end := min(start+opts.PageSize, len(matched))
	for _, row := range matched[start:end] {
		cells := make([]Value, len(grid.Selected))
		for i, col := range grid.Selected {
			cells[i] = truncate(row[col], opts)
		}
		grid.Rows = append(grid.Rows, cells)
	}
	return grid
}

func projectCards(records []structured.Record, st TableState, opts Options) []Card {
	expanded := make(map[int]bool, len(st.ExpandedCards))
	for _, i := range st.ExpandedCards {
		expanded[i] = true
	}

	cards := make([]Card, 0, len(records))
	for i, rec := range records {
		card := Card{UpdatedAt: rec.UpdatedAt, Expanded: expanded[i]}
		fields := rec.Fields
		if !card.Expanded && len(fields) > opts.CardFieldLimit {
			card.Hidden = len(fields) - opts.CardFieldLimit
			fields = fields[:opts.CardFieldLimit]
		}
		for _, f := range fields {
			card.Fields = append(card.Fields, LabelValue{Label: f.Key, Value: basicValue(f.Key, f.Value, opts)})
		}
		cards = append(cards, card)
	}
	return cards
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
