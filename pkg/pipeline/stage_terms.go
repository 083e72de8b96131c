package pipeline

import (
	"context"
	"fmt"

	"github.com/malbeclabs/sqlassist/pkg/matcher"
)

// mapTerms resolves keywords to curated domain terms. Without a matcher nothing is mapped.
func (o *Orchestrator) mapTerms(ctx context.Context, s State) (PartialState, error) {
	if o.cfg.Matcher == nil || len(s.Keywords) == 0 {
		return PartialState{TermMappings: map[string]matcher.Term{}}, nil
	}
	terms, err := o.cfg.Matcher.MapTerms(ctx, s.Keywords)
	if err != nil {
		return PartialState{}, fmt.Errorf("failed to map terms: %w", err)
	}
	if terms == nil {
		terms = map[string]matcher.Term{}
	}
	return PartialState{TermMappings: terms}, nil
}
