package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/sqlassist/pkg/llm"
)

type resultResponse struct {
	ResultDescription string `json:"result_description"`
}

// describeResult turns a successful execution into the user's answer.
func (o *Orchestrator) describeResult(ctx context.Context, s State) (PartialState, error) {
	res := s.ExecutionResult
	if res == nil || !res.Success {
		return PartialState{}, errors.New("no successful execution to describe")
	}

	sources := make([]string, 0, len(s.TableStructures))
	for _, ts := range s.TableStructures {
		sources = append(sources, ts.TableName)
	}

	var userPrompt strings.Builder
	userPrompt.WriteString("## Question\n\n")
	userPrompt.WriteString(s.NormalizedQuery)
	userPrompt.WriteString("\n\n## Result\n\n")
	fmt.Fprintf(&userPrompt, "Rows returned: %d\n", res.RowCount)
	fmt.Fprintf(&userPrompt, "Truncated: %t\n", res.Truncated)
	fmt.Fprintf(&userPrompt, "Data sources: %s\n\n", strings.Join(sources, ", "))
	userPrompt.WriteString("Executed SQL:\n```sql\n")
	userPrompt.WriteString(res.ExecutedSQL)
	userPrompt.WriteString("\n```\n\nPreview:\n")
	userPrompt.WriteString(formatPreview(res.Columns, res.Rows))
	userPrompt.WriteString("\n\n## Business Terms\n\n")
	userPrompt.WriteString(formatTerms(s.TermMappings))

	response, err := o.cfg.LLM.Complete(ctx, o.prompts.Result, userPrompt.String(),
		llm.WithCacheControl(), llm.WithJSONOutput(), llm.WithoutResponseCache())
	if err != nil {
		return PartialState{}, fmt.Errorf("LLM completion failed: %w", err)
	}
	out, err := o.schemas.result.decode(response)
	if err != nil {
		return PartialState{}, err
	}
	desc := strings.TrimSpace(out.ResultDescription)
	if desc == "" {
		return PartialState{}, malformed(NodeResultGeneration, response, "empty result description")
	}
	return PartialState{Answer: ptr(desc)}, nil
}
