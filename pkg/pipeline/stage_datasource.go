package pipeline

import (
	"context"
	"fmt"

	"github.com/malbeclabs/sqlassist/pkg/matcher"
)

// identifyDataSources picks the tables relevant to the normalized query. Without a matcher every
// table of the database is a candidate.
func (o *Orchestrator) identifyDataSources(ctx context.Context, s State) (PartialState, error) {
	if o.cfg.Matcher != nil {
		tables, err := o.cfg.Matcher.MatchTables(ctx, s.NormalizedQuery)
		if err != nil {
			return PartialState{}, fmt.Errorf("failed to match tables: %w", err)
		}
		if tables == nil {
			tables = []matcher.MatchedTable{}
		}
		return PartialState{MatchedTables: tables}, nil
	}

	all, err := o.cfg.Inspector.Tables(ctx)
	if err != nil {
		return PartialState{}, fmt.Errorf("failed to list tables: %w", err)
	}
	tables := make([]matcher.MatchedTable, 0, len(all))
	for _, t := range all {
		tables = append(tables, matcher.MatchedTable{TableName: t.Name, Description: t.Comment})
	}
	return PartialState{MatchedTables: tables}, nil
}
