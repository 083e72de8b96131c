package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/malbeclabs/sqlassist/pkg/matcher"
	"github.com/malbeclabs/sqlassist/pkg/schema"
)

const previewRows = 20

func formatHistory(messages []Message, limit int) string {
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s: %s", m.Role, m.Content)
	}
	return sb.String()
}

func formatTerms(terms map[string]matcher.Term) string {
	if len(terms) == 0 {
		return "No standard business terms matched."
	}
	keys := make([]string, 0, len(terms))
	for k := range terms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		t := terms[k]
		fmt.Fprintf(&sb, "- %s: standard name %q", k, t.StandardName)
		if t.AdditionalInfo != "" {
			fmt.Fprintf(&sb, " (%s)", t.AdditionalInfo)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatTableStructures(structures []schema.TableStructure) string {
	var sb strings.Builder
	for _, ts := range structures {
		fmt.Fprintf(&sb, "Table: %s\n", ts.TableName)
		sb.WriteString("| Column | Type | Comment |\n")
		sb.WriteString("|--------|------|---------|\n")
		for _, c := range ts.Columns {
			fmt.Fprintf(&sb, "| %s | %s | %s |\n", c.Name, c.Type, c.Comment)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatPreview renders at most previewRows rows as a markdown table.
func formatPreview(columns []string, rows [][]any) string {
	if len(rows) == 0 {
		return "(no data)"
	}

	var sb strings.Builder
	sb.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	sb.WriteString("|")
	for range columns {
		sb.WriteString("---|")
	}
	sb.WriteString("\n")
	for i, row := range rows {
		if i == previewRows {
			fmt.Fprintf(&sb, "... (%d more rows omitted)\n", len(rows)-previewRows)
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = formatValue(v)
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}
