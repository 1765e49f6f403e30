package main

import (
	"github.com/spf13/cobra"

	"github.com/Desarso/crmstream/render"
	"github.com/Desarso/crmstream/structured"
)

// viewFlags are the rendering flags shared by ask and parse.
type viewFlags struct {
	width    int
	style    string
	pageSize int
	page     int
	query    string
	columns  []string
	expand   bool
}

func (f *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.width, "width", "w", 100, "terminal width")
	cmd.Flags().StringVar(&f.style, "style", "", `glamour style ("notty" for plain text, empty to detect)`)
	cmd.Flags().IntVar(&f.pageSize, "page-size", render.DefaultOptions().PageSize, "table rows per page")
	cmd.Flags().IntVar(&f.page, "page", 1, "table page to show")
	cmd.Flags().StringVarP(&f.query, "query", "q", "", "only show table rows containing this text")
	cmd.Flags().StringSliceVar(&f.columns, "columns", nil, "table columns to show")
	cmd.Flags().BoolVar(&f.expand, "expand", false, "show every field of record cards")
}

func (f *viewFlags) options() render.Options {
	opts := render.DefaultOptions()
	opts.PageSize = f.pageSize
	return opts
}

// state applies the flags to every table of info.
func (f *viewFlags) state(info *structured.Info) render.State {
	if info == nil {
		return nil
	}
	state := render.State{}
	for i, t := range info.Tables {
		st := render.TableState{Query: f.query, Columns: f.columns, Page: f.page - 1}
		if f.expand {
			for j := range t.Records {
				st.ExpandedCards = append(st.ExpandedCards, j)
			}
		}
		state[render.SectionKey(i, t.Name)] = st
	}
	return state
}

func (f *viewFlags) project(info *structured.Info) render.View {
	return render.Project(info, f.options(), f.state(info))
}

func (f *viewFlags) terminal() (*render.Terminal, error) {
	t, err := render.NewTerminal(f.width, f.style)
	if err != nil {
		return nil, err
	}
	t.Options = f.options()
	return t, nil
}
