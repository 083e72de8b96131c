package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/sqlassist/pkg/checkpoint"
	"github.com/malbeclabs/sqlassist/pkg/executor"
	"github.com/malbeclabs/sqlassist/pkg/llm"
	"github.com/malbeclabs/sqlassist/pkg/permission"
	"github.com/malbeclabs/sqlassist/pkg/schema"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const (
	testUserID      = 1
	testRestricted  = 2
	testDeptPattern = "(^|>)X(>|$)"
)

// scriptedLLM answers each stage from its own queue, identified by the stage's system prompt.
type scriptedLLM struct {
	prompts *Prompts

	mu        sync.Mutex
	responses map[Node][]string
	calls     map[Node]int
	user      map[Node][]string
	// Hook runs before a response is popped. A non-nil error is returned to the stage.
	Hook func(ctx context.Context, stage Node) error
}

func newScriptedLLM(t *testing.T) *scriptedLLM {
	t.Helper()
	prompts, err := LoadPrompts(permission.DialectPostgres)
	require.NoError(t, err)
	return &scriptedLLM{
		prompts:   prompts,
		responses: map[Node][]string{},
		calls:     map[Node]int{},
		user:      map[Node][]string{},
	}
}

func (l *scriptedLLM) on(stage Node, responses ...string) *scriptedLLM {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.responses[stage] = append(l.responses[stage], responses...)
	return l
}

func (l *scriptedLLM) stageOf(system string) Node {
	switch system {
	case l.prompts.Intent:
		return NodeIntentAnalysis
	case l.prompts.Keywords:
		return NodeKeywordExtraction
	case l.prompts.Rewrite:
		return NodeQueryRewrite
	case l.prompts.Generate:
		return NodeSQLGeneration
	case l.prompts.ErrorAnalysis:
		return NodeErrorAnalysis
	case l.prompts.Result:
		return NodeResultGeneration
	}
	return ""
}

func (l *scriptedLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, _ ...llm.CompleteOption) (string, error) {
	stage := l.stageOf(systemPrompt)
	if l.Hook != nil {
		if err := l.Hook(ctx, stage); err != nil {
			return "", err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[stage]++
	l.user[stage] = append(l.user[stage], userPrompt)
	queue := l.responses[stage]
	if len(queue) == 0 {
		return "", fmt.Errorf("no scripted response for %s", stage)
	}
	// The last response repeats.
	resp := queue[0]
	if len(queue) > 1 {
		l.responses[stage] = queue[1:]
	}
	return resp, nil
}

func (l *scriptedLLM) Calls(stage Node) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[stage]
}

func (l *scriptedLLM) UserPrompts(stage Node) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.user[stage]...)
}

// mustJSON renders a response the way a model would, inside a fence with some prose.
func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return "Here is the result:\n```json\n" + string(data) + "\n```"
}

func clearIntent() string {
	return mustJSON(map[string]any{"is_intent_clear": true, "clarification_question": nil})
}

func keywordsResp(kw ...string) string {
	return mustJSON(map[string]any{"keywords": kw})
}

func rewriteResp(q string) string {
	return mustJSON(map[string]any{"normalized_query": q})
}

func feasible(sql string) string {
	return mustJSON(map[string]any{"is_feasible": true, "infeasible_reason": nil, "sql_query": sql})
}

func fixable(sql string) string {
	return mustJSON(map[string]any{"is_sql_fixable": true, "error_analysis": "wrong column name", "fixed_sql": sql})
}

func resultResp(desc string) string {
	return mustJSON(map[string]any{"result_description": desc})
}

type mockInspector struct{}

func (mockInspector) Tables(context.Context) ([]schema.Table, error) {
	return []schema.Table{
		{Name: "employees", Comment: "Staff records"},
		{Name: "departments", Comment: "Org units"},
		{Name: "salaries", Comment: "Payroll"},
	}, nil
}

func (mockInspector) Structures(_ context.Context, tables []string) ([]schema.TableStructure, error) {
	out := make([]schema.TableStructure, 0, len(tables))
	for _, t := range tables {
		out = append(out, schema.TableStructure{
			TableName: t,
			Columns: []schema.Column{
				{Name: "id", Type: "bigint", Comment: "primary key"},
				{Name: "name", Type: "text", Comment: "display name"},
			},
		})
	}
	return out, nil
}

// mockExecutor records every statement and answers from a queue; the last result repeats.
type mockExecutor struct {
	mu      sync.Mutex
	results []executor.Result
	sqls    []string
}

func (e *mockExecutor) Execute(_ context.Context, sql string) executor.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sqls = append(e.sqls, sql)
	if len(e.results) == 0 {
		return executor.Result{Success: true, Columns: []string{}, Rows: [][]any{}}
	}
	res := e.results[0]
	if len(e.results) > 1 {
		e.results = e.results[1:]
	}
	return res
}

func (e *mockExecutor) SQLs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.sqls...)
}

func failed(msg string) executor.Result {
	return executor.Result{Success: false, Error: msg}
}

func succeeded(columns []string, rows ...[]any) executor.Result {
	if rows == nil {
		rows = [][]any{}
	}
	return executor.Result{Success: true, Columns: columns, Rows: rows, RowCount: len(rows)}
}

func newTestValidator(t *testing.T) *permission.Validator {
	t.Helper()
	store, err := permission.NewFileStore(permission.FileConfig{
		Tables: []permission.TableConfig{
			{TableName: "employees", NeedDeptControl: true, DeptPathField: "dept_path"},
			{TableName: "departments"},
			{TableName: "salaries", NeedDeptControl: true, DeptPathField: "org_path"},
		},
		Roles: []permission.FileRole{
			{Name: "hr", Tables: []string{"employees", "departments", "salaries"}},
			{Name: "staff", Tables: []string{"employees", "departments"}},
		},
		Users: []permission.FileUser{
			{ID: testUserID, Username: "alice", Roles: []string{"hr"}, Departments: []string{"X"}},
			{ID: testRestricted, Username: "bob", Roles: []string{"staff"}, Departments: []string{"X"}},
		},
	})
	require.NoError(t, err)
	v, err := permission.NewValidator(permission.ValidatorConfig{
		Logger:  testLogger,
		Store:   store,
		Dialect: permission.DialectPostgres,
		Enabled: true,
	})
	require.NoError(t, err)
	return v
}

type harness struct {
	llm   *scriptedLLM
	exec  *mockExecutor
	store *checkpoint.MemoryStore
	orch  *Orchestrator
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		llm:   newScriptedLLM(t),
		exec:  &mockExecutor{},
		store: checkpoint.NewMemoryStore(nil),
	}
	cfg := Config{
		Logger:      testLogger,
		LLM:         h.llm,
		Inspector:   mockInspector{},
		Permissions: newTestValidator(t),
		Executor:    h.exec,
		Checkpoints: h.store,
		Prompts:     h.llm.prompts,
		LockWait:    -1,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	orch, err := New(cfg)
	require.NoError(t, err)
	h.orch = orch
	return h
}

// scriptUpToGeneration queues clear intent, keywords and rewrite responses.
func (h *harness) scriptUpToGeneration(query string) {
	h.llm.on(NodeIntentAnalysis, clearIntent())
	h.llm.on(NodeKeywordExtraction, keywordsResp())
	h.llm.on(NodeQueryRewrite, rewriteResp(query))
}
