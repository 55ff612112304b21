// Package reporting renders run results for humans and for CI: the console
// table, the text summary file, and the step-summary status line.
package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/unitgate/unitgate/runner"
	"github.com/unitgate/unitgate/types"
)

// RenderResultsTable renders the gate/suite/test hierarchy as a table.
func RenderResultsTable(result *runner.RunnerResult) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Unit Test Results (%s)", formatDuration(result.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Skipped", "Status", "Error",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, gateID := range sortedGateIDs(result) {
		gate := result.Gates[gateID]
		t.AppendRow(table.Row{
			"Gate",
			gate.ID,
			formatDuration(gate.Duration),
			"-",
			gate.Stats.Passed,
			gate.Stats.Failed,
			gate.Stats.Skipped,
			ResultString(gate.Status),
			"",
		})

		suiteIDs := make([]string, 0, len(gate.Suites))
		for id := range gate.Suites {
			suiteIDs = append(suiteIDs, id)
		}
		sort.Strings(suiteIDs)

		for _, suiteID := range suiteIDs {
			suite := gate.Suites[suiteID]
			t.AppendRow(table.Row{
				"Suite",
				fmt.Sprintf("├── %s", suiteID),
				formatDuration(suite.Duration),
				"-",
				suite.Stats.Passed,
				suite.Stats.Failed,
				suite.Stats.Skipped,
				ResultString(suite.Status),
				"",
			})
			appendTestRows(t, suite.Tests, "│   ")
		}

		appendTestRows(t, gate.Tests, "")
		t.AppendSeparator()
	}

	switch result.Status {
	case types.TestStatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.TestStatusSkip:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(result.Duration),
		result.Stats.Total,
		result.Stats.Passed,
		result.Stats.Failed,
		result.Stats.Skipped,
		ResultString(result.Status),
		"",
	})

	return t.Render()
}

func appendTestRows(t table.Writer, tests map[string]*types.TestResult, indent string) {
	testIDs := make([]string, 0, len(tests))
	for id := range tests {
		testIDs = append(testIDs, id)
	}
	sort.Strings(testIDs)

	for i, testID := range testIDs {
		test := tests[testID]
		prefix := indent + "├──"
		if i == len(testIDs)-1 {
			prefix = indent + "└──"
		}

		displayName := types.GetTestDisplayName(testID, test.Metadata)
		t.AppendRow(table.Row{
			"Test",
			fmt.Sprintf("%s %s", prefix, displayName),
			formatDuration(test.Duration),
			"1",
			boolToInt(test.Status == types.TestStatusPass),
			boolToInt(test.Status == types.TestStatusFail),
			boolToInt(test.Status == types.TestStatusSkip),
			ResultString(test.Status),
			ExtractKeyErrorMessage(test.Error),
		})

		subIDs := make([]string, 0, len(test.SubTests))
		for id := range test.SubTests {
			subIDs = append(subIDs, id)
		}
		sort.Strings(subIDs)

		for j, subID := range subIDs {
			subTest := test.SubTests[subID]
			subPrefix := indent + "│   ├──"
			if j == len(subIDs)-1 {
				subPrefix = indent + "│   └──"
			}
			t.AppendRow(table.Row{
				"",
				fmt.Sprintf("%s %s", subPrefix, subID),
				formatDuration(subTest.Duration),
				"1",
				boolToInt(subTest.Status == types.TestStatusPass),
				boolToInt(subTest.Status == types.TestStatusFail),
				boolToInt(subTest.Status == types.TestStatusSkip),
				ResultString(subTest.Status),
				ExtractKeyErrorMessage(subTest.Error),
			})
		}
	}
}

func sortedGateIDs(result *runner.RunnerResult) []string {
	ids := make([]string, 0, len(result.Gates))
	for id := range result.Gates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResultString returns a glyph-decorated string for a test status.
func ResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓ pass"
	case types.TestStatusSkip:
		return "- skip"
	default:
		return "✗ fail"
	}
}

// ExtractKeyErrorMessage extracts the most pertinent part of an error for
// single-line display.
func ExtractKeyErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	for _, marker := range []string{"assertion failed:", "panic:", "Error:", "Fatal:"} {
		if idx := strings.Index(errStr, marker); idx != -1 {
			end := len(errStr)
			if newLine := strings.Index(errStr[idx:], "\n"); newLine != -1 {
				end = idx + newLine
			}
			return errStr[idx:end]
		}
	}

	if idx := strings.Index(errStr, "\n"); idx != -1 {
		return errStr[:idx]
	}
	if len(errStr) > 80 {
		return errStr[:70] + "..."
	}
	return errStr
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
