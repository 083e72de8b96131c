package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/sqlassist/pkg/llm"
	"github.com/malbeclabs/sqlassist/pkg/sqlscan"
)

const noDataSourceReason = "None of the available data covers this question."

type generateResponse struct {
	IsFeasible       bool    `json:"is_feasible"`
	InfeasibleReason *string `json:"infeasible_reason,omitempty"`
	SQLQuery         *string `json:"sql_query,omitempty"`
}

// generateSQL judges feasibility and writes one SELECT over the resolved tables.
func (o *Orchestrator) generateSQL(ctx context.Context, s State) (PartialState, error) {
	if len(s.TableStructures) == 0 {
		return PartialState{GeneratedSQL: &GeneratedSQL{IsFeasible: false, InfeasibleReason: noDataSourceReason}}, nil
	}

	var userPrompt strings.Builder
	userPrompt.WriteString("## Request\n\n")
	userPrompt.WriteString(s.NormalizedQuery)
	userPrompt.WriteString("\n\n## Tables\n\n")
	userPrompt.WriteString(formatTableStructures(s.TableStructures))
	userPrompt.WriteString("\n\n## Business Terms\n\n")
	userPrompt.WriteString(formatTerms(s.TermMappings))

	response, err := o.cfg.LLM.Complete(ctx, o.prompts.Generate, userPrompt.String(), llm.WithCacheControl(), llm.WithJSONOutput())
	if err != nil {
		return PartialState{}, fmt.Errorf("LLM completion failed: %w", err)
	}
	out, err := o.schemas.generate.decode(response)
	if err != nil {
		return PartialState{}, err
	}

	sql := ""
	if out.SQLQuery != nil {
		sql = strings.TrimSpace(*out.SQLQuery)
	}
	if !out.IsFeasible {
		if sql != "" {
			return PartialState{}, malformed(NodeSQLGeneration, response, "SQL returned for an infeasible request")
		}
		reason := ""
		if out.InfeasibleReason != nil {
			reason = strings.TrimSpace(*out.InfeasibleReason)
		}
		if reason == "" {
			return PartialState{}, malformed(NodeSQLGeneration, response, "infeasible without a reason")
		}
		return PartialState{GeneratedSQL: &GeneratedSQL{IsFeasible: false, InfeasibleReason: reason}}, nil
	}

	if sql == "" {
		return PartialState{}, malformed(NodeSQLGeneration, response, "feasible without SQL")
	}
	// Statements the scanner cannot read are left to the permission check, which reports them
	// as unfixable.
	if err := sqlscan.CheckReadOnly(sql, o.cfg.Dialect.Scan()); err != nil && !errors.Is(err, sqlscan.ErrParse) {
		return PartialState{}, malformed(NodeSQLGeneration, response, "generated SQL rejected: %w", err)
	}
	return PartialState{GeneratedSQL: &GeneratedSQL{IsFeasible: true, SQLQuery: sql}}, nil
}
