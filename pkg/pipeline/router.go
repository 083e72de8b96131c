package pipeline

// route picks the node after `after` from the merged state. It returns NodeEnd with the terminal
// outcome when the turn is over.
func route(after Node, s *State, maxRetries int) (Node, Outcome) {
	switch after {
	case NodeIntentAnalysis:
		if s.Intent == nil || !s.Intent.IsClear {
			return NodeEnd, OutcomeClarification
		}
		return NodeKeywordExtraction, ""
	case NodeKeywordExtraction:
		return NodeTermMapping, ""
	case NodeTermMapping:
		return NodeQueryRewrite, ""
	case NodeQueryRewrite:
		return NodeDataSource, ""
	case NodeDataSource:
		return NodeTableStructure, ""
	case NodeTableStructure:
		return NodeSQLGeneration, ""
	case NodeSQLGeneration:
		if s.GeneratedSQL == nil || !s.GeneratedSQL.IsFeasible {
			return NodeEnd, OutcomeInfeasible
		}
		return NodePermissionCheck, ""
	case NodePermissionCheck:
		if out, denied := permissionOutcome(s); denied {
			return NodeEnd, out
		}
		return NodeSQLExecution, ""
	case NodeSQLExecution:
		// A corrected statement is scoped again before it runs and can be denied there.
		if out, denied := permissionOutcome(s); denied {
			return NodeEnd, out
		}
		if s.ExecutionResult != nil && s.ExecutionResult.Success {
			return NodeResultGeneration, ""
		}
		return NodeErrorAnalysis, ""
	case NodeErrorAnalysis:
		if s.ErrorAnalysis == nil || !s.ErrorAnalysis.IsFixable {
			return NodeEnd, OutcomeUnfixable
		}
		if s.RetryCount-1 < maxRetries {
			return NodeSQLExecution, ""
		}
		return NodeEnd, OutcomeRetryExhausted
	case NodeResultGeneration:
		return NodeEnd, OutcomeAnswered
	}
	return NodeEnd, OutcomeUnfixable
}

func permissionOutcome(s *State) (Outcome, bool) {
	p := s.Permission
	if p == nil || p.Approved {
		return "", false
	}
	if len(p.UnauthorizedTables) > 0 {
		return OutcomePermissionDenied, true
	}
	// The statement could not be parsed for validation.
	return OutcomeUnfixable, true
}
