package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/orchestrator"
)

// newTable returns a borderless light table writing to w.
func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.SeparateRows = false

	return tbl
}

func printSummary(w io.Writer, summary *orchestrator.Summary) {
	switch {
	case summary.Failed() > 0:
		color.New(color.FgYellow).Fprintf(w, "Batch finished with %d failed item(s)\n", summary.Failed())
	default:
		color.New(color.FgGreen).Fprintf(w, "Batch finished\n")
	}

	tbl := newTable(w)
	tbl.AppendRows([]table.Row{
		{"Run", summary.RunID},
		{"Photos", summary.Total},
		{"Analyzed", summary.Analyzed},
		{"From cache", summary.Cached},
		{"Resumed", summary.Resumed},
		{"Failed", summary.Failed()},
		{"Duration", summary.Duration.Round(time.Millisecond)},
		{"Throughput", fmt.Sprintf("%.2f photos/s", summary.Concurrency.ItemsPerSec)},
		{"Slots", fmt.Sprintf("%d (avg latency %.0f ms)", summary.Concurrency.Max, summary.Concurrency.AvgLatencyMs)},
	})

	if summary.ResultsPath != "" {
		tbl.AppendRow(table.Row{"Results", summary.ResultsPath})
	}

	tbl.Render()

	if summary.Failed() == 0 {
		return
	}

	fmt.Fprintln(w)

	failures := newTable(w)
	failures.AppendHeader(table.Row{"Photo", "Kind", "Error"})

	for _, failure := range summary.Failures {
		failures.AppendRow(table.Row{failure.ID, failure.Kind, failure.Message})
	}

	failures.Render()
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}

	return humanize.IBytes(uint64(n))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return fmt.Sprintf("%s (%s)", t.Local().Format(time.DateTime), humanize.Time(t))
}
