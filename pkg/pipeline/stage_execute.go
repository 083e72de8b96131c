package pipeline

import (
	"context"
	"errors"
)

// executeSQL runs the scoped statement. After a fixable failure it runs the corrected statement
// instead, which replaces the generated one and is scoped again first.
func (o *Orchestrator) executeSQL(ctx context.Context, s State) (PartialState, error) {
	if s.GeneratedSQL == nil || !s.GeneratedSQL.IsFeasible {
		return PartialState{}, errors.New("no generated SQL to execute")
	}

	var update PartialState
	source := SQLSourceGeneration
	sql := s.GeneratedSQL.PermissionControlledSQL

	if isRetry(s) {
		source = SQLSourceErrorAnalysis
		fixed := s.ErrorAnalysis.FixedSQL
		outcome, scoped, err := o.scope(ctx, s, fixed)
		if err != nil {
			return PartialState{}, err
		}
		update.Permission = outcome
		if !outcome.Approved {
			return update, nil
		}
		update.GeneratedSQL = &GeneratedSQL{IsFeasible: true, SQLQuery: fixed, PermissionControlledSQL: scoped}
		sql = scoped
		RetriesTotal.Inc()
	}

	retryNumber := s.RetryCount
	o.log.Debug("pipeline: executing SQL", "retry_number", retryNumber, "source", source, "sql", sql)
	res := o.cfg.Executor.Execute(ctx, sql)

	update.ExecutionResult = &ExecutionResult{
		Result:      res,
		ExecutedSQL: sql,
		SQLSource:   source,
		RetryNumber: retryNumber,
	}
	update.RetryCount = ptr(s.RetryCount + 1)
	return update, nil
}

// isRetry reports whether the last execution failed and error analysis proposed a fix.
func isRetry(s State) bool {
	return s.ExecutionResult != nil && !s.ExecutionResult.Success &&
		s.ErrorAnalysis != nil && s.ErrorAnalysis.IsFixable && s.ErrorAnalysis.FixedSQL != ""
}
