package pipeline

import (
	"context"
	"fmt"

	"github.com/malbeclabs/sqlassist/pkg/schema"
)

func (o *Orchestrator) loadTableStructures(ctx context.Context, s State) (PartialState, error) {
	names := make([]string, 0, len(s.MatchedTables))
	for _, t := range s.MatchedTables {
		names = append(names, t.TableName)
	}
	if len(names) == 0 {
		return PartialState{TableStructures: []schema.TableStructure{}}, nil
	}
	structures, err := o.cfg.Inspector.Structures(ctx, names)
	if err != nil {
		return PartialState{}, fmt.Errorf("failed to load table structures: %w", err)
	}
	return PartialState{TableStructures: structures}, nil
}
