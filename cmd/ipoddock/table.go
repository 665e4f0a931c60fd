package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column. Width 0 leaves the column unbounded;
// longer cells are cut with an ellipsis so long file names keep rows on one line.
type column struct {
	title string
	right bool
	width int
}

func col(title string) column { return column{title: title} }

func numCol(title string) column { return column{title: title, right: true} }

func wideCol(title string, width int) column { return column{title: title, width: width} }

func renderTable(columns []column, rows [][]string, footer string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, c := range columns {
		header[i] = c.title
		align := text.AlignLeft
		if c.right {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		}
		if c.width > 0 {
			configs[i].WidthMax = c.width
			configs[i].WidthMaxEnforcer = text.Trim
			configs[i].Transformer = ellipsis(c.width)
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	if footer != "" {
		tw.SetCaption("%s", footer)
	}
	return tw.Render()
}

func ellipsis(width int) text.Transformer {
	return func(val any) string {
		s, _ := val.(string)
		runes := []rune(s)
		if len(runes) <= width || width < 2 {
			return s
		}
		return string(runes[:width-1]) + "…"
	}
}
