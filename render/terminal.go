package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	stageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("14")).Padding(0, 1)
	riskStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11")).Padding(0, 1)
	mutedStyle   = lipgloss.NewStyle().Faint(true)
	cardStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	archiveStyle = lipgloss.NewStyle().PaddingLeft(2)
)

// Terminal draws views for a terminal. Messages without structured content
// are rendered as markdown.
type Terminal struct {
	Width    int
	Options  Options
	markdown *glamour.TermRenderer
}

// NewTerminal builds a terminal renderer wrapping at width. style is a glamour
// style name; "notty" produces plain text.
func NewTerminal(width int, style string) (*Terminal, error) {
	if width <= 0 {
		width = 80
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStylePath(style))
	}
	md, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &Terminal{Width: width, Options: DefaultOptions(), markdown: md}, nil
}

// Markdown renders plain reply text.
func (t *Terminal) Markdown(content string) string {
	out, err := t.markdown.Render(content)
	if err != nil {
		return content
	}
	return out
}

// Message renders a reply: the structured view when v is not empty, the raw
// content as markdown otherwise.
func (t *Terminal) Message(content string, v View) string {
	if v.Empty() {
		return t.Markdown(content)
	}
	return t.View(v)
}

// View draws a projected view.
func (t *Terminal) View(v View) string {
	var blocks []string

	if len(v.Basic) > 0 {
		blocks = append(blocks, titleStyle.Render("基本信息"), t.basic(v.Basic))
	}
	for _, s := range v.Sections {
		blocks = append(blocks, t.section(s))
	}
	if len(v.Archives) > 0 {
		lines := make([]string, 0, len(v.Archives))
		for _, a := range v.Archives {
			lines = append(lines, "• "+a.Text)
		}
		blocks = append(blocks, titleStyle.Render("档案记录"), archiveStyle.Render(strings.Join(lines, "\n")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...) + "\n"
}

func (t *Terminal) basic(fields []LabelValue) string {
	width := 0
	for _, f := range fields {
		width = max(width, lipgloss.Width(f.Label))
	}
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		label := labelStyle.Width(width + 2).Render(f.Label + "：")
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, label, styledValue(f.Value)))
	}
	return strings.Join(lines, "\n")
}

func (t *Terminal) section(s Section) string {
	header := titleStyle.Render(fmt.Sprintf("%s (%d)", s.Title, s.Count))
	if s.Collapsed {
		return header + mutedStyle.Render(" ▸")
	}
	if s.Grid != nil {
		return lipgloss.JoinVertical(lipgloss.Left, header, t.grid(*s.Grid))
	}

	cards := make([]string, 0, len(s.Cards))
	for _, c := range s.Cards {
		cards = append(cards, t.card(c))
	}
	return lipgloss.JoinVertical(lipgloss.Left, append([]string{header}, cards...)...)
}

func (t *Terminal) grid(g Grid) string {
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(g.Selected...)
	for _, row := range g.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = c.Text
		}
		tbl = tbl.Row(cells...)
	}

	footer := fmt.Sprintf("第 %d/%d 页 · 共 %d 条", g.Page+1, g.PageCount, g.Total)
	if g.Query != "" {
		footer += fmt.Sprintf(" · 匹配 %d 条", g.Matched)
	}
	return lipgloss.JoinVertical(lipgloss.Left, tbl.String(), mutedStyle.Render(footer))
}

func (t *Terminal) card(c Card) string {
	var body []string
	if c.UpdatedAt != "" {
		body = append(body, mutedStyle.Render("更新时间 "+c.UpdatedAt))
	}
	body = append(body, t.basic(c.Fields))
	if c.Hidden > 0 {
		body = append(body, mutedStyle.Render(fmt.Sprintf("… 另有 %d 项", c.Hidden)))
	}
	return cardStyle.Render(strings.Join(body, "\n"))
}

func styledValue(v Value) string {
	switch v.Badge {
	case BadgeStage:
		return stageStyle.Render(v.Text)
	case BadgeRisk:
		return riskStyle.Render(v.Text)
	}
	return v.Text
}
