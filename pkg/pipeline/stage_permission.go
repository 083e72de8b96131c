package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/malbeclabs/sqlassist/pkg/sqlscan"
)

// checkPermission validates the generated statement and records its scoped form.
func (o *Orchestrator) checkPermission(ctx context.Context, s State) (PartialState, error) {
	if s.GeneratedSQL == nil || s.GeneratedSQL.SQLQuery == "" {
		return PartialState{}, errors.New("no generated SQL to check")
	}

	outcome, scoped, err := o.scope(ctx, s, s.GeneratedSQL.SQLQuery)
	if err != nil {
		return PartialState{}, err
	}
	update := PartialState{Permission: outcome}
	if outcome.Approved {
		generated := *s.GeneratedSQL
		generated.PermissionControlledSQL = scoped
		update.GeneratedSQL = &generated
	}
	return update, nil
}

// scope runs the permission check for sql. Statements that cannot be parsed come back as an
// unapproved outcome with Error set; only infrastructure failures are returned as errors.
func (o *Orchestrator) scope(ctx context.Context, s State, sql string) (*PermissionOutcome, string, error) {
	decision, err := o.cfg.Permissions.Check(ctx, s.Auth, sql)
	if err != nil {
		if errors.Is(err, sqlscan.ErrParse) {
			o.log.Warn("pipeline: generated SQL could not be validated", "error", err, "sql", sql)
			return &PermissionOutcome{Approved: false, Error: err.Error()}, "", nil
		}
		return nil, "", fmt.Errorf("failed to check permissions: %w", err)
	}
	if !decision.Approved {
		return &PermissionOutcome{Approved: false, UnauthorizedTables: decision.Unauthorized}, "", nil
	}
	return &PermissionOutcome{Approved: true}, decision.SQL, nil
}
