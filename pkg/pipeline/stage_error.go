package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/sqlassist/pkg/llm"
	"github.com/malbeclabs/sqlassist/pkg/sqlscan"
)

type errorAnalysisResponse struct {
	IsSQLFixable  bool    `json:"is_sql_fixable"`
	ErrorAnalysis string  `json:"error_analysis"`
	FixedSQL      *string `json:"fixed_sql,omitempty"`
}

// analyzeError diagnoses a failed execution and proposes a corrected statement when the failure
// is in the SQL text. It never executes anything.
func (o *Orchestrator) analyzeError(ctx context.Context, s State) (PartialState, error) {
	if s.ExecutionResult == nil || s.ExecutionResult.Success {
		return PartialState{}, errors.New("no failed execution to analyze")
	}
	if s.GeneratedSQL == nil || s.GeneratedSQL.SQLQuery == "" {
		return PartialState{}, errors.New("no generated SQL to analyze")
	}

	var userPrompt strings.Builder
	userPrompt.WriteString("## Request\n\n")
	userPrompt.WriteString(s.NormalizedQuery)
	userPrompt.WriteString("\n\n## Tables\n\n")
	userPrompt.WriteString(formatTableStructures(s.TableStructures))
	userPrompt.WriteString("\n\n## Business Terms\n\n")
	userPrompt.WriteString(formatTerms(s.TermMappings))
	userPrompt.WriteString("\n\n## Failed SQL\n\n```sql\n")
	userPrompt.WriteString(s.GeneratedSQL.SQLQuery)
	userPrompt.WriteString("\n```\n\n## Error\n\n")
	userPrompt.WriteString(s.ExecutionResult.Error)

	// Identical failures must be re-analyzed, not served from the response cache.
	response, err := o.cfg.LLM.Complete(ctx, o.prompts.ErrorAnalysis, userPrompt.String(),
		llm.WithCacheControl(), llm.WithJSONOutput(), llm.WithoutResponseCache())
	if err != nil {
		return PartialState{}, fmt.Errorf("LLM completion failed: %w", err)
	}
	out, err := o.schemas.errorAnalysis.decode(response)
	if err != nil {
		return PartialState{}, err
	}

	analysis := &ErrorAnalysis{IsFixable: out.IsSQLFixable, Analysis: strings.TrimSpace(out.ErrorAnalysis)}
	if out.IsSQLFixable {
		if out.FixedSQL == nil || strings.TrimSpace(*out.FixedSQL) == "" {
			return PartialState{}, malformed(NodeErrorAnalysis, response, "fixable error without fixed SQL")
		}
		fixed := strings.TrimSpace(*out.FixedSQL)
		if err := sqlscan.CheckReadOnly(fixed, o.cfg.Dialect.Scan()); err != nil && !errors.Is(err, sqlscan.ErrParse) {
			return PartialState{}, malformed(NodeErrorAnalysis, response, "fixed SQL rejected: %w", err)
		}
		analysis.FixedSQL = fixed
	}
	o.log.Info("pipeline: analyzed execution error", "fixable", analysis.IsFixable, "retry_count", s.RetryCount)
	return PartialState{ErrorAnalysis: analysis}, nil
}
