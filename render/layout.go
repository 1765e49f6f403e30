// Package render projects parsed structured replies into a nested layout that
// a UI can draw directly: a label/value grid, collapsible table sections and
// record cards.
package render

import "github.com/Desarso/crmstream/structured"

// BadgeKind marks values that are drawn as badges instead of plain text.
type BadgeKind string

const (
	BadgeNone  BadgeKind = ""
	BadgeStage BadgeKind = "stage"
	BadgeRisk  BadgeKind = "risk"
)

// Value is one displayable cell.
type Value struct {
	Text      string    `json:"text"`
	Badge     BadgeKind `json:"badge,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
	Full      string    `json:"full,omitempty"` // set when Truncated
}

// LabelValue is a grid entry.
type LabelValue struct {
	Label string `json:"label"`
	Value Value  `json:"value"`
}

// Grid is the flat-table view with column selection, search and pagination
// already applied.
type Grid struct {
	Columns   []string  `json:"columns"`  // all columns, source order
	Selected  []string  `json:"selected"` // visible columns
	Rows      [][]Value `json:"rows"`     // current page, one cell per selected column
	Query     string    `json:"query,omitempty"`
	Matched   int       `json:"matched"`
	Total     int       `json:"total"`
	Page      int       `json:"page"`
	PageCount int       `json:"pageCount"`
	PageSize  int       `json:"pageSize"`
}

// Card is one record of a record-variant table.
type Card struct {
	UpdatedAt string       `json:"updatedAt,omitempty"`
	Fields    []LabelValue `json:"fields"`
	Hidden    int          `json:"hidden"`
	Expanded  bool         `json:"expanded"`
}

// Section is one collapsible table section. Exactly one of Grid and Cards is
// populated.
type Section struct {
	Key       string `json:"key"`
	Title     string `json:"title"`
	Collapsed bool   `json:"collapsed"`
	Count     int    `json:"count"`
	Grid      *Grid  `json:"grid,omitempty"`
	Cards     []Card `json:"cards,omitempty"`
}

// View is the layout for one message.
type View struct {
	Basic    []LabelValue `json:"basic"`
	Sections []Section    `json:"sections"`
	Archives []Value      `json:"archives"`
}

// Empty reports whether the view has nothing to draw.
func (v View) Empty() bool {
	return len(v.Basic) == 0 && len(v.Sections) == 0 && len(v.Archives) == 0
}

// Options are the projection limits.
type Options struct {
	PageSize         int
	MaxColumns       int
	CardFieldLimit   int
	LongValueRunes   int
	PreviewLines     int
	PreferredColumns []string
}

// DefaultOptions mirrors the dashboard's defaults.
func DefaultOptions() Options {
	return Options{
		PageSize:         10,
		MaxColumns:       6,
		CardFieldLimit:   10,
		LongValueRunes:   120,
		PreviewLines:     3,
		PreferredColumns: PreferredColumns,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.MaxColumns <= 0 {
		o.MaxColumns = d.MaxColumns
	}
	if o.CardFieldLimit <= 0 {
		o.CardFieldLimit = d.CardFieldLimit
	}
	if o.LongValueRunes <= 0 {
		o.LongValueRunes = d.LongValueRunes
	}
	if o.PreviewLines <= 0 {
		o.PreviewLines = d.PreviewLines
	}
	if o.PreferredColumns == nil {
		o.PreferredColumns = d.PreferredColumns
	}
	return o
}

// TableState is the user interaction state of one table section.
type TableState struct {
	Collapsed     bool     `json:"collapsed"`
	Columns       []string `json:"columns,omitempty"`
	Query         string   `json:"query,omitempty"`
	Page          int      `json:"page,omitempty"`
	ExpandedCards []int    `json:"expandedCards,omitempty"`
}

// State holds interaction state keyed by Section.Key. A nil map is valid.
type State map[string]TableState

// Project builds the view for info. A nil info yields an empty view; callers
// then fall back to the raw message text.
func Project(info *structured.Info, opts Options, state State) View {
	opts = opts.withDefaults()
	view := View{}
	if info == nil {
		return view
	}

	for _, f := range info.Basic {
		view.Basic = append(view.Basic, LabelValue{Label: f.Key, Value: basicValue(f.Key, f.Value, opts)})
	}

	for i, table := range info.Tables {
		key := SectionKey(i, table.Name)
		st := state[key]
		section := Section{
			Key:       key,
			Title:     table.Name,
			Collapsed: st.Collapsed,
		}
		switch table.Kind {
		case structured.TableRecords:
			section.Count = len(table.Records)
			section.Cards = projectCards(table.Records, st, opts)
		default:
			section.Count = len(table.Rows)
			grid := projectGrid(table, st, opts)
			section.Grid = &grid
		}
		view.Sections = append(view.Sections, section)
	}

	for _, a := range info.Archives {
		view.Archives = append(view.Archives, truncate(a, opts))
	}
	return view
}
