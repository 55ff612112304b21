package triage

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderAdvisoryTable renders open advisories with their deadlines. Overdue
// entries are flagged in the Due column.
func RenderAdvisoryTable(advisories []Advisory, now time.Time) string {
	t := table.NewWriter()
	t.SetTitle("Open Security Advisories")

	t.AppendHeader(table.Row{"ID", "Severity", "CVSS", "Title", "Status", "Ack By", "Remediate By", "Due"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Title", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "CVSS", Align: text.AlignRight},
	})

	overdue := false
	for _, adv := range advisories {
		due := "on track"
		if adv.Overdue(now) {
			due = "OVERDUE"
			overdue = true
		}
		t.AppendRow(table.Row{
			adv.ID,
			adv.Severity,
			adv.CVSS,
			adv.Title,
			adv.Status,
			adv.AckBy.Format("2006-01-02"),
			adv.RemediateBy.Format("2006-01-02"),
			due,
		})
	}

	if overdue {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	return t.Render()
}
