package admin

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/olekukonko/tablewriter"
)

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(header)
	table.AppendBulk(rows)
	table.Render()
}

func stringRows(rows [][]any) [][]string {
	res := make([][]string, len(rows))
	for i, row := range rows {
		res[i] = make([]string, len(row))
		for j, v := range row {
			if v == nil {
				res[i][j] = "NULL"
				continue
			}
			res[i][j] = fmt.Sprintf("%v", v)
		}
	}
	return res
}

// renderDiff returns a unified diff of two statements, one clause per line, or "" when equal.
func renderDiff(before, after string) string {
	before, after = splitClauses(before), splitClauses(after)
	if before == after {
		return ""
	}
	edits := myers.ComputeEdits(span.URIFromPath("generated.sql"), before, after)
	return fmt.Sprint(gotextdiff.ToUnified("generated.sql", "scoped.sql", before, edits))
}

var clauseRE = regexp.MustCompile(`(?i)\s+(FROM|(?:LEFT |RIGHT |INNER |FULL )?JOIN|WHERE|GROUP BY|ORDER BY|LIMIT)\s+`)

// splitClauses breaks a statement before its major clauses so diffs stay readable.
func splitClauses(sql string) string {
	return clauseRE.ReplaceAllString(strings.TrimSpace(sql), "\n$1 ") + "\n"
}
