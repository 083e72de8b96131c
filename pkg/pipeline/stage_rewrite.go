package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/sqlassist/pkg/llm"
)

type rewriteResponse struct {
	NormalizedQuery string `json:"normalized_query"`
}

func (o *Orchestrator) rewriteQuery(ctx context.Context, s State) (PartialState, error) {
	var userPrompt strings.Builder
	userPrompt.WriteString("## Conversation\n\n")
	userPrompt.WriteString(formatHistory(s.Messages, o.cfg.MaxHistory))
	userPrompt.WriteString("\n\n## Business Terms\n\n")
	userPrompt.WriteString(formatTerms(s.TermMappings))

	response, err := o.cfg.LLM.Complete(ctx, o.prompts.Rewrite, userPrompt.String(), llm.WithCacheControl(), llm.WithJSONOutput())
	if err != nil {
		return PartialState{}, fmt.Errorf("LLM completion failed: %w", err)
	}
	out, err := o.schemas.rewrite.decode(response)
	if err != nil {
		return PartialState{}, err
	}
	q := strings.TrimSpace(out.NormalizedQuery)
	if q == "" {
		return PartialState{}, malformed(NodeQueryRewrite, response, "empty normalized query")
	}
	return PartialState{NormalizedQuery: ptr(q)}, nil
}
