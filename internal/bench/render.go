package bench

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable(title string) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(title)
	return tw
}

// RenderRecord formats rec as tables for terminal output.
func RenderRecord(rec Record) string {
	tw := newTable(fmt.Sprintf("Benchmark %s", rec.Name))
	tw.AppendHeader(table.Row{"Metric", "Value"})
	tw.AppendRows([]table.Row{
		{"Run ID", rec.ID},
		{"Started", rec.StartedAt.Format(time.RFC3339)},
		{"Requests", rec.Requests},
		{"Iterations", fmt.Sprintf("%d (+%d warm-up)", rec.Iterations, rec.Warmups)},
		{"Total time", rec.TotalTime.Round(time.Microsecond)},
		{"p50", rec.Latency.P50.Round(time.Microsecond)},
		{"p90", rec.Latency.P90.Round(time.Microsecond)},
		{"p95", rec.Latency.P95.Round(time.Microsecond)},
		{"p99", rec.Latency.P99.Round(time.Microsecond)},
		{"Cache hit rate", percent(rec.CacheHitRate)},
		{"Success rate", percent(rec.SuccessRate)},
		{"Mean confidence", fmt.Sprintf("%.3f", rec.MeanConf)},
	})
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})

	var b strings.Builder
	b.WriteString(tw.Render())
	b.WriteString("\n")

	if len(rec.SourceSuccess) > 0 {
		st := newTable("Successes by source")
		st.AppendHeader(table.Row{"Source", "Found"})
		names := make([]string, 0, len(rec.SourceSuccess))
		for name := range rec.SourceSuccess {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			st.AppendRow(table.Row{name, rec.SourceSuccess[name]})
		}
		b.WriteString(st.Render())
		b.WriteString("\n")
	}

	ht := newTable("Confidence distribution")
	ht.AppendHeader(table.Row{"Range", "Count", ""})
	peak := 0
	for _, n := range rec.Confidence {
		if n > peak {
			peak = n
		}
	}
	for i, n := range rec.Confidence {
		ht.AppendRow(table.Row{
			fmt.Sprintf("%.1f-%.1f", float64(i)/HistogramBuckets, float64(i+1)/HistogramBuckets),
			n,
			bar(n, peak, 30),
		})
	}
	b.WriteString(ht.Render())
	return b.String()
}

// RenderComparison formats cmp as a table with a verdict line.
func RenderComparison(cmp Comparison) string {
	tw := newTable("Baseline vs candidate")
	tw.AppendHeader(table.Row{"Metric", "Baseline", "Candidate", "Change", "Weight"})
	for _, d := range cmp.Deltas {
		tw.AppendRow(table.Row{
			d.Metric,
			formatMetric(d.Metric, d.Baseline),
			formatMetric(d.Metric, d.Candidate),
			fmt.Sprintf("%+.1f%%", d.Improvement*100),
			fmt.Sprintf("%.0f%%", d.Weight*100),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	verdict := "OK"
	if cmp.Regression {
		verdict = "REGRESSION"
	}
	return fmt.Sprintf("%s\nScore: %+.3f (tolerance %.3f) %s", tw.Render(), cmp.Score, cmp.Tolerance, verdict)
}

func formatMetric(metric string, v float64) string {
	switch metric {
	case MetricTotalTime, MetricP95Latency:
		return time.Duration(v * float64(time.Second)).Round(time.Microsecond).String()
	case MetricSuccessRate, MetricCacheHitRate:
		return percent(v)
	default:
		return fmt.Sprintf("%.3f", v)
	}
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func bar(n, peak, width int) string {
	if peak == 0 || n == 0 {
		return ""
	}
	w := n * width / peak
	if w == 0 {
		w = 1
	}
	return strings.Repeat("#", w)
}
