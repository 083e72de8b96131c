package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/sqlassist/pkg/llm"
)

type keywordsResponse struct {
	Keywords []string `json:"keywords"`
}

func (o *Orchestrator) extractKeywords(ctx context.Context, s State) (PartialState, error) {
	userPrompt := "## Conversation\n\n" + formatHistory(s.Messages, o.cfg.MaxHistory) +
		"\n\nExtract the entity names that must be matched exactly."

	response, err := o.cfg.LLM.Complete(ctx, o.prompts.Keywords, userPrompt, llm.WithCacheControl(), llm.WithJSONOutput())
	if err != nil {
		return PartialState{}, fmt.Errorf("LLM completion failed: %w", err)
	}
	out, err := o.schemas.keywords.decode(response)
	if err != nil {
		return PartialState{}, err
	}
	return PartialState{Keywords: dedupeKeywords(out.Keywords)}, nil
}

// dedupeKeywords trims, drops empties and removes duplicates. The result is never nil.
func dedupeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
