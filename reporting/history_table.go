package reporting

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/unitgate/unitgate/history"
)

// RenderRunHistory renders recent run records as a table, newest first.
func RenderRunHistory(records []history.RunRecord) string {
	t := table.NewWriter()
	t.SetTitle("Run History")

	t.AppendHeader(table.Row{
		"Run ID", "Gate", "Started", "Duration", "Tests", "Passed", "Failed", "Skipped", "Status",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Run ID", WidthMax: 36},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
	})

	for _, rec := range records {
		t.AppendRow(table.Row{
			rec.RunID,
			rec.Gate,
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			formatDuration(rec.Duration),
			rec.Total,
			rec.Passed,
			rec.Failed,
			rec.Skipped,
			rec.Status,
		})
	}

	t.SetStyle(table.StyleLight)
	return t.Render()
}
