package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/sqlassist/pkg/checkpoint"
	"github.com/malbeclabs/sqlassist/pkg/executor"
	"github.com/malbeclabs/sqlassist/pkg/matcher"
)

func TestPipeline_Orchestrator_New_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorContains(t, err, "logger is required")

	_, err = New(Config{Logger: testLogger})
	require.ErrorContains(t, err, "LLM client is required")

	h := newHarness(t)
	require.Equal(t, DefaultMaxRetries, h.orch.cfg.MaxRetries)
	require.Equal(t, defaultLockTTL, h.orch.cfg.LockTTL)
	require.Zero(t, h.orch.cfg.LockWait)
}

func TestPipeline_Run_DepartmentScopedAnswer(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scriptUpToGeneration("List all employees in department X.")
	h.llm.on(NodeSQLGeneration, feasible("SELECT e.name FROM employees e ORDER BY e.name"))
	h.llm.on(NodeResultGeneration, resultResp("There are 2 employees: Ann and Bo."))
	h.exec.results = []executor.Result{succeeded([]string{"name"}, []any{"Ann"}, []any{"Bo"})}

	var (
		mu     sync.Mutex
		stages []ProgressStage
	)
	answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s1", UserID: testUserID, Query: "list all employees in department X"}, func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, p.Stage)
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeAnswered, answer.Outcome)
	require.Equal(t, "There are 2 employees: Ann and Bo.", answer.Message)
	require.Equal(t, "s1", answer.SessionID)

	sqls := h.exec.SQLs()
	require.Len(t, sqls, 1)
	require.Equal(t,
		"SELECT e.name FROM (SELECT * FROM employees WHERE dept_path ~ '"+testDeptPattern+"') AS e ORDER BY e.name",
		sqls[0])

	st := answer.State
	require.Equal(t, "SELECT e.name FROM employees e ORDER BY e.name", st.GeneratedSQL.SQLQuery)
	require.Equal(t, sqls[0], st.GeneratedSQL.PermissionControlledSQL)
	require.Equal(t, 0, st.ExecutionResult.RetryNumber)
	require.Equal(t, SQLSourceGeneration, st.ExecutionResult.SQLSource)
	require.Equal(t, 2, st.ExecutionResult.RowCount)
	require.Equal(t, 1, st.RetryCount)
	require.Len(t, st.MatchedTables, 3)
	require.Equal(t, []Message{
		{Role: RoleUser, Content: "list all employees in department X"},
		{Role: RoleAssistant, Content: "There are 2 employees: Ann and Bo."},
	}, st.Messages)

	require.Equal(t, []ProgressStage{
		StageAnalyzingIntent, StageExtractingKeywords, StageMappingTerms, StageRewriting,
		StageIdentifyingSources, StageLoadingSchema, StageGenerating, StageCheckingPermissions,
		StageExecuting, StageDescribing, StageComplete,
	}, stages)

	snap, err := h.store.Load(t.Context(), "s1")
	require.NoError(t, err)
	require.Empty(t, snap.Next)
}

func TestPipeline_Run_PermissionDenied(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scriptUpToGeneration("Average salary per department.")
	h.llm.on(NodeSQLGeneration, feasible("SELECT d.name, AVG(s.amount) FROM salaries s JOIN departments d ON d.id = s.dept_id GROUP BY d.name"))

	answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testRestricted, Query: "average salary per department"}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomePermissionDenied, answer.Outcome)
	require.Equal(t, []string{"salaries"}, answer.State.Permission.UnauthorizedTables)
	require.Contains(t, answer.Message, "salaries")
	require.NotContains(t, answer.Message, "departments")
	require.Empty(t, h.exec.SQLs())
	require.Nil(t, answer.State.ExecutionResult)
	require.Zero(t, h.llm.Calls(NodeErrorAnalysis))
}

func TestPipeline_Run_FixableErrorRetriesOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scriptUpToGeneration("Names of all employees.")
	h.llm.on(NodeSQLGeneration, feasible("SELECT e.nme FROM employees e"))
	h.llm.on(NodeErrorAnalysis, fixable("SELECT e.name FROM employees e"))
	h.llm.on(NodeResultGeneration, resultResp("One employee: Ann."))
	h.exec.results = []executor.Result{
		failed(`column e.nme does not exist`),
		succeeded([]string{"name"}, []any{"Ann"}),
	}

	answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "employee names"}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeAnswered, answer.Outcome)

	st := answer.State
	require.Equal(t, 1, st.ExecutionResult.RetryNumber)
	require.Equal(t, SQLSourceErrorAnalysis, st.ExecutionResult.SQLSource)
	require.Equal(t, 2, st.RetryCount)
	require.Equal(t, "SELECT e.name FROM employees e", st.GeneratedSQL.SQLQuery)

	sqls := h.exec.SQLs()
	require.Len(t, sqls, 2)
	// The corrected statement is scoped like the original.
	require.Contains(t, sqls[1], "dept_path ~ '"+testDeptPattern+"'")
	require.Contains(t, sqls[1], "SELECT e.name FROM (SELECT")

	// The analyzer saw the failing statement and the database error.
	prompts := h.llm.UserPrompts(NodeErrorAnalysis)
	require.Len(t, prompts, 1)
	require.Contains(t, prompts[0], "SELECT e.nme FROM employees e")
	require.Contains(t, prompts[0], "column e.nme does not exist")
}

func TestPipeline_Run_RetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scriptUpToGeneration("Names of all employees.")
	h.llm.on(NodeSQLGeneration, feasible("SELECT e.nme FROM employees e"))
	h.llm.on(NodeErrorAnalysis,
		fixable("SELECT e.nam FROM employees e"),
		fixable("SELECT e.nm FROM employees e"),
		fixable("SELECT e.n FROM employees e"),
	)
	h.exec.results = []executor.Result{failed("column does not exist")}

	answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "employee names"}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeRetryExhausted, answer.Outcome)
	require.Contains(t, answer.Message, "still failed")

	require.Len(t, h.exec.SQLs(), 3)
	require.Equal(t, 3, h.llm.Calls(NodeErrorAnalysis))
	require.Equal(t, 3, answer.State.RetryCount)
	require.Equal(t, 2, answer.State.ExecutionResult.RetryNumber)
	require.Zero(t, h.llm.Calls(NodeResultGeneration))
}

func TestPipeline_Run_RetryCounterEqualsFailedExecutions(t *testing.T) {
	t.Parallel()

	for failures := 1; failures <= 3; failures++ {
		h := newHarness(t)
		h.scriptUpToGeneration("Names.")
		h.llm.on(NodeSQLGeneration, feasible("SELECT e.x FROM employees e"))
		h.llm.on(NodeErrorAnalysis, fixable("SELECT e.y FROM employees e"))
		h.llm.on(NodeResultGeneration, resultResp("ok"))
		var results []executor.Result
		for range failures {
			results = append(results, failed("boom"))
		}
		h.exec.results = append(results, succeeded([]string{"y"}, []any{1}))

		answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "names"}, nil)
		require.NoError(t, err)

		executions := len(h.exec.SQLs())
		require.LessOrEqual(t, executions, 3)
		if failures < 3 {
			require.Equal(t, OutcomeAnswered, answer.Outcome)
			require.Equal(t, failures+1, answer.State.RetryCount)
			require.Equal(t, failures, answer.State.ExecutionResult.RetryNumber)
		} else {
			require.Equal(t, OutcomeRetryExhausted, answer.Outcome)
			require.Equal(t, failures, answer.State.RetryCount)
		}
	}
}

func TestPipeline_Run_UnfixableError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scriptUpToGeneration("Names.")
	h.llm.on(NodeSQLGeneration, feasible("SELECT e.name FROM employees e"))
	h.llm.on(NodeErrorAnalysis, mustJSON(map[string]any{
		"is_sql_fixable": false,
		"error_analysis": "the database is unreachable",
		"fixed_sql":      nil,
	}))
	h.exec.results = []executor.Result{failed("dial tcp: connection refused")}

	answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "names"}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeUnfixable, answer.Outcome)
	require.NotContains(t, answer.Message, "connection refused")
	require.Len(t, h.exec.SQLs(), 1)
	require.Equal(t, "the database is unreachable", answer.State.ErrorAnalysis.Analysis)
}

func TestPipeline_Run_FixedSQLIsCheckedAgain(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scriptUpToGeneration("Employee names.")
	h.llm.on(NodeSQLGeneration, feasible("SELECT e.nme FROM employees e"))
	h.llm.on(NodeErrorAnalysis, fixable("SELECT s.amount FROM salaries s"))
	h.exec.results = []executor.Result{failed("column does not exist")}

	answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testRestricted, Query: "employee names"}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomePermissionDenied, answer.Outcome)
	require.Equal(t, []string{"salaries"}, answer.State.Permission.UnauthorizedTables)
	require.Len(t, h.exec.SQLs(), 1)
}

func TestPipeline_Run_UnparseableSQLIsUnfixable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scriptUpToGeneration("Employee names.")
	h.llm.on(NodeSQLGeneration, feasible("SELECT name FROM (employees"))

	answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "employee names"}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeUnfixable, answer.Outcome)
	require.NotEmpty(t, answer.State.Permission.Error)
	require.Empty(t, h.exec.SQLs())
}

func TestPipeline_Run_Infeasible(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scriptUpToGeneration("Weather in Paris.")
	h.llm.on(NodeSQLGeneration, mustJSON(map[string]any{
		"is_feasible":       false,
		"infeasible_reason": "Weather data is not available.",
		"sql_query":         nil,
	}))

	answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "weather in paris"}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeInfeasible, answer.Outcome)
	require.Equal(t, "Weather data is not available.", answer.Message)
	require.Empty(t, answer.State.GeneratedSQL.SQLQuery)
	require.Empty(t, h.exec.SQLs())
}

func TestPipeline_Run_EmptyAggregateResult(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scriptUpToGeneration("Average salary in department nonexistent.")
	h.llm.on(NodeSQLGeneration, feasible("SELECT AVG(s.amount) AS avg_salary FROM salaries s WHERE s.dept = 'nonexistent'"))
	h.llm.on(NodeResultGeneration, resultResp("No salaries matched the filter dept = 'nonexistent'; the department name may be misspelled."))
	h.exec.results = []executor.Result{succeeded([]string{"avg_salary"})}

	answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "average salary where dept = 'nonexistent'"}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeAnswered, answer.Outcome)
	require.Equal(t, 0, answer.State.ExecutionResult.RowCount)
	require.Contains(t, answer.Message, "nonexistent")

	prompts := h.llm.UserPrompts(NodeResultGeneration)
	require.Len(t, prompts, 1)
	require.Contains(t, prompts[0], "Rows returned: 0")
	require.Contains(t, prompts[0], "(no data)")
	require.Contains(t, prompts[0], "s.dept = 'nonexistent'")
	require.Contains(t, prompts[0], "Data sources: employees, departments, salaries")
}

func TestPipeline_Run_ClarificationRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.llm.on(NodeIntentAnalysis,
		mustJSON(map[string]any{"is_intent_clear": false, "clarification_question": "Which year do you mean?"}),
		clearIntent(),
	)

	answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "headcount trend"}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeClarification, answer.Outcome)
	require.Equal(t, "Which year do you mean?", answer.Message)
	require.Zero(t, h.llm.Calls(NodeKeywordExtraction))

	h.llm.on(NodeKeywordExtraction, keywordsResp())
	h.llm.on(NodeQueryRewrite, rewriteResp("Monthly headcount in 2024."))
	h.llm.on(NodeSQLGeneration, feasible("SELECT COUNT(*) FROM employees"))
	h.llm.on(NodeResultGeneration, resultResp("Headcount was 12."))

	answer, err = h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "2024"}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeAnswered, answer.Outcome)
	require.Len(t, answer.State.Messages, 4)

	// The second intent analysis saw the whole dialog.
	prompts := h.llm.UserPrompts(NodeIntentAnalysis)
	require.Len(t, prompts, 2)
	require.Contains(t, prompts[1], "user: headcount trend")
	require.Contains(t, prompts[1], "assistant: Which year do you mean?")
	require.Contains(t, prompts[1], "user: 2024")
}

func TestPipeline_Run_NewTurnResetsRetryCounter(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scriptUpToGeneration("Names.")
	h.llm.on(NodeSQLGeneration, feasible("SELECT e.name FROM employees e"))
	h.llm.on(NodeErrorAnalysis, fixable("SELECT e.name FROM employees e"))
	h.llm.on(NodeResultGeneration, resultResp("ok"))
	h.exec.results = []executor.Result{failed("boom"), succeeded([]string{"name"}), succeeded([]string{"name"})}

	first, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "names"}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, first.State.RetryCount)

	second, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "names again"}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, second.State.RetryCount)
	require.Equal(t, 0, second.State.ExecutionResult.RetryNumber)
}

func TestPipeline_Run_MalformedResponseThenResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.llm.on(NodeIntentAnalysis, clearIntent())
	h.llm.on(NodeKeywordExtraction, keywordsResp())
	h.llm.on(NodeQueryRewrite, rewriteResp("Names."))
	// SQL present although the request is infeasible.
	h.llm.on(NodeSQLGeneration, mustJSON(map[string]any{"is_feasible": false, "infeasible_reason": "no", "sql_query": "SELECT 1"}))

	var progressErr error
	_, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "names"}, func(p Progress) {
		if p.Stage == StageError {
			progressErr = p.Error
		}
	})
	var malformedErr *MalformedResponseError
	require.ErrorAs(t, err, &malformedErr)
	require.Equal(t, NodeSQLGeneration, malformedErr.Stage)
	require.ErrorIs(t, progressErr, malformedErr)

	snap, err := h.store.Load(t.Context(), "s")
	require.NoError(t, err)
	require.Equal(t, string(NodeSQLGeneration), snap.Next)

	// Resuming starts at the failed stage; earlier stages are not re-run.
	h.llm.mu.Lock()
	h.llm.responses[NodeSQLGeneration] = []string{feasible("SELECT e.name FROM employees e")}
	h.llm.mu.Unlock()
	h.llm.on(NodeResultGeneration, resultResp("Ann."))
	h.exec.results = []executor.Result{succeeded([]string{"name"}, []any{"Ann"})}

	answer, err := h.orch.Resume(t.Context(), "s", testUserID, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeAnswered, answer.Outcome)
	require.Equal(t, 1, h.llm.Calls(NodeIntentAnalysis))
	require.Equal(t, 1, h.llm.Calls(NodeQueryRewrite))
	require.Equal(t, 2, h.llm.Calls(NodeSQLGeneration))

	_, err = h.orch.Resume(t.Context(), "s", testUserID, nil)
	require.ErrorIs(t, err, ErrNothingToResume)
}

func TestPipeline_Resume_OtherUserIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scriptUpToGeneration("Names.")
	h.llm.on(NodeSQLGeneration, feasible("SELECT e.name FROM employees e"))
	h.llm.on(NodeResultGeneration, "no json here")
	h.exec.results = []executor.Result{succeeded([]string{"name"}, []any{"Ann"})}

	_, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "names"}, nil)
	var malformedErr *MalformedResponseError
	require.ErrorAs(t, err, &malformedErr)
	require.Equal(t, NodeResultGeneration, malformedErr.Stage)
	before, err := h.store.Load(t.Context(), "s")
	require.NoError(t, err)
	require.Equal(t, string(NodeResultGeneration), before.Next)

	_, err = h.orch.Resume(t.Context(), "s", testRestricted, nil)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Equal(t, 1, h.llm.Calls(NodeResultGeneration))

	after, err := h.store.Load(t.Context(), "s")
	require.NoError(t, err)
	require.Equal(t, before, after)

	// The owner can still resume.
	h.llm.mu.Lock()
	h.llm.responses[NodeResultGeneration] = []string{resultResp("Ann.")}
	h.llm.mu.Unlock()
	answer, err := h.orch.Resume(t.Context(), "s", testUserID, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeAnswered, answer.Outcome)
	require.Equal(t, int64(testUserID), answer.State.OwnerID)
}

func TestPipeline_Run_OtherUserSessionIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.llm.on(NodeIntentAnalysis, mustJSON(map[string]any{"is_intent_clear": false, "clarification_question": "Which?"}))

	_, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "salary of Ann"}, nil)
	require.NoError(t, err)

	_, err = h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testRestricted, Query: "what did I just ask?"}, nil)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Equal(t, 1, h.llm.Calls(NodeIntentAnalysis))

	// The session keeps its owner across turns.
	answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "2024"}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(testUserID), answer.State.OwnerID)
	require.Len(t, answer.State.Messages, 4)
}

func TestPipeline_Run_LLMErrorIsPipelineError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	boom := errors.New("upstream unavailable")
	h.llm.Hook = func(context.Context, Node) error { return boom }

	_, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "names"}, nil)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "intent_analysis failed")
}

func TestPipeline_Run_LockedSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.store.Lock(t.Context(), "busy", "someone-else", time.Minute))

	_, err := h.orch.Run(t.Context(), Turn{SessionID: "busy", UserID: testUserID, Query: "names"}, nil)
	require.ErrorIs(t, err, checkpoint.ErrLocked)
	require.Zero(t, h.llm.Calls(NodeIntentAnalysis))
}

func TestPipeline_Run_ReleasesLock(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.llm.on(NodeIntentAnalysis, mustJSON(map[string]any{"is_intent_clear": false, "clarification_question": "Which?"}))

	_, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "x"}, nil)
	require.NoError(t, err)
	require.NoError(t, h.store.Lock(t.Context(), "s", "other", time.Minute))
}

func TestPipeline_Run_CancelledTurnIsDiscarded(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scriptUpToGeneration("Names.")
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	h.llm.Hook = func(ctx context.Context, stage Node) error {
		if stage == NodeSQLGeneration {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	_, err := h.orch.Run(ctx, Turn{SessionID: "s", UserID: testUserID, Query: "names"}, nil)
	require.ErrorIs(t, err, context.Canceled)

	_, err = h.store.Load(t.Context(), "s")
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
	// The lock was released despite the cancellation.
	require.NoError(t, h.store.Lock(t.Context(), "s", "other", time.Minute))
}

func TestPipeline_Run_GeneratesSessionID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.llm.on(NodeIntentAnalysis, mustJSON(map[string]any{"is_intent_clear": false, "clarification_question": "Which?"}))

	answer, err := h.orch.Run(t.Context(), Turn{UserID: testUserID, Query: "x"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, answer.SessionID)

	_, err = h.orch.Run(t.Context(), Turn{UserID: testUserID, Query: "  "}, nil)
	require.Error(t, err)
}

type mockMatcher struct {
	terms  map[string]matcher.Term
	tables []matcher.MatchedTable
	seen   []string
}

func (m *mockMatcher) MapTerms(_ context.Context, keywords []string) (map[string]matcher.Term, error) {
	m.seen = keywords
	return m.terms, nil
}

func (m *mockMatcher) MatchTables(context.Context, string) ([]matcher.MatchedTable, error) {
	return m.tables, nil
}

func TestPipeline_Run_UsesMatcher(t *testing.T) {
	t.Parallel()

	mm := &mockMatcher{
		terms: map[string]matcher.Term{
			"Apollo": {OriginalTerm: "Apollo", StandardName: "Project Apollo", AdditionalInfo: "R&D program"},
		},
		tables: []matcher.MatchedTable{{TableName: "employees", Description: "Staff", SimilarityScore: 0.8}},
	}
	h := newHarness(t, func(c *Config) { c.Matcher = mm })
	h.llm.on(NodeIntentAnalysis, clearIntent())
	h.llm.on(NodeKeywordExtraction, keywordsResp("Apollo", "Apollo", " "))
	h.llm.on(NodeQueryRewrite, rewriteResp("Employees on Project Apollo."))
	h.llm.on(NodeSQLGeneration, feasible("SELECT e.name FROM employees e WHERE e.project = 'Project Apollo'"))
	h.llm.on(NodeResultGeneration, resultResp("Ann works on Apollo."))

	answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "who works on Apollo"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Apollo"}, mm.seen)
	require.Equal(t, []string{"Apollo"}, answer.State.Keywords)
	require.Len(t, answer.State.TableStructures, 1)
	require.Equal(t, "employees", answer.State.TableStructures[0].TableName)

	rewrite := h.llm.UserPrompts(NodeQueryRewrite)[0]
	require.Contains(t, rewrite, `Apollo: standard name "Project Apollo" (R&D program)`)
	generate := h.llm.UserPrompts(NodeSQLGeneration)[0]
	require.Contains(t, generate, "Table: employees")
	require.NotContains(t, generate, "Table: salaries")
}

func TestPipeline_Run_NoMatchedTablesIsInfeasible(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config) { c.Matcher = &mockMatcher{} })
	h.scriptUpToGeneration("Something unrelated.")

	answer, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "something"}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeInfeasible, answer.Outcome)
	require.Equal(t, noDataSourceReason, answer.Message)
	require.Zero(t, h.llm.Calls(NodeSQLGeneration))
}

func TestPipeline_State_PersistsWithoutAuth(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.llm.on(NodeIntentAnalysis, mustJSON(map[string]any{"is_intent_clear": false, "clarification_question": "Which?"}))
	_, err := h.orch.Run(t.Context(), Turn{SessionID: "s", UserID: testUserID, Query: "x"}, nil)
	require.NoError(t, err)

	snap, err := h.store.Load(t.Context(), "s")
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(snap.State, &raw))
	require.NotContains(t, raw, "Auth")
	require.Equal(t, "clarification", raw["outcome"])
	require.False(t, strings.Contains(string(snap.State), "DeptIDs"))
}
