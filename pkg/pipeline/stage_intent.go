package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/sqlassist/pkg/llm"
)

type intentResponse struct {
	IsIntentClear         bool    `json:"is_intent_clear"`
	ClarificationQuestion *string `json:"clarification_question,omitempty"`
}

// analyzeIntent decides whether the dialog so far is a clear, answerable data request.
func (o *Orchestrator) analyzeIntent(ctx context.Context, s State) (PartialState, error) {
	var userPrompt strings.Builder
	userPrompt.WriteString("## Conversation\n\n")
	userPrompt.WriteString(formatHistory(s.Messages, o.cfg.MaxHistory))
	userPrompt.WriteString("\n\nDoes the conversation contain enough information to query the database?")

	response, err := o.cfg.LLM.Complete(ctx, o.prompts.Intent, userPrompt.String(), llm.WithCacheControl(), llm.WithJSONOutput())
	if err != nil {
		return PartialState{}, fmt.Errorf("LLM completion failed: %w", err)
	}
	out, err := o.schemas.intent.decode(response)
	if err != nil {
		return PartialState{}, err
	}

	intent := &Intent{IsClear: out.IsIntentClear}
	if !out.IsIntentClear {
		if out.ClarificationQuestion == nil || strings.TrimSpace(*out.ClarificationQuestion) == "" {
			return PartialState{}, malformed(NodeIntentAnalysis, response, "unclear intent without a clarification question")
		}
		intent.ClarificationQuestion = strings.TrimSpace(*out.ClarificationQuestion)
	}
	return PartialState{Intent: intent}, nil
}
