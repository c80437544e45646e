package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"asinresolve/internal/lookup"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

var resultHeaders = []string{"#", "Title", "Author", "Status", "ASIN", "Source", "Confidence", "Cached"}

var resultAligns = []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}

func resultRows(results []lookup.Result) [][]string {
	rows := make([][]string, 0, len(results))
	for i, res := range results {
		conf := ""
		if res.Found() {
			conf = fmt.Sprintf("%.2f", res.Confidence)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			truncate(res.Request.Title, 40),
			truncate(res.Request.Author, 24),
			string(res.Status),
			res.Identifier,
			res.Source,
			conf,
			yesNo(res.Cached),
		})
	}
	return rows
}

func truncate(value string, width int) string {
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	return string(runes[:width-1]) + "…"
}
