package pipeline

import (
	"github.com/malbeclabs/sqlassist/pkg/executor"
	"github.com/malbeclabs/sqlassist/pkg/matcher"
	"github.com/malbeclabs/sqlassist/pkg/permission"
	"github.com/malbeclabs/sqlassist/pkg/schema"
)

// Node is a state of the orchestration graph.
type Node string

const (
	NodeIntentAnalysis    Node = "intent_analysis"
	NodeKeywordExtraction Node = "keyword_extraction"
	NodeTermMapping       Node = "term_mapping"
	NodeQueryRewrite      Node = "query_rewrite"
	NodeDataSource        Node = "data_source_id"
	NodeTableStructure    Node = "table_structure"
	NodeSQLGeneration     Node = "sql_generation"
	NodePermissionCheck   Node = "permission_check"
	NodeSQLExecution      Node = "sql_execution"
	NodeResultGeneration  Node = "result_generation"
	NodeErrorAnalysis     Node = "error_analysis"
	NodeEnd               Node = "end"
)

// Outcome is how a turn ended.
type Outcome string

const (
	OutcomeAnswered         Outcome = "answered"
	OutcomeClarification    Outcome = "clarification"
	OutcomeInfeasible       Outcome = "infeasible"
	OutcomePermissionDenied Outcome = "permission_denied"
	OutcomeUnfixable        Outcome = "unfixable"
	OutcomeRetryExhausted   Outcome = "retry_exhausted"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Intent struct {
	IsClear               bool   `json:"is_clear"`
	ClarificationQuestion string `json:"clarification_question,omitempty"`
}

// GeneratedSQL holds SQLQuery iff IsFeasible. PermissionControlledSQL is the scoped statement
// that actually runs.
type GeneratedSQL struct {
	IsFeasible              bool   `json:"is_feasible"`
	InfeasibleReason        string `json:"infeasible_reason,omitempty"`
	SQLQuery                string `json:"sql_query,omitempty"`
	PermissionControlledSQL string `json:"permission_controlled_sql,omitempty"`
}

type PermissionOutcome struct {
	Approved           bool     `json:"approved"`
	UnauthorizedTables []string `json:"unauthorized_tables,omitempty"`
	// Error is set when the statement could not be parsed for validation.
	Error string `json:"error,omitempty"`
}

type SQLSource string

const (
	SQLSourceGeneration    SQLSource = "generation"
	SQLSourceErrorAnalysis SQLSource = "error_analysis"
)

type ExecutionResult struct {
	executor.Result
	ExecutedSQL string    `json:"executed_sql"`
	SQLSource   SQLSource `json:"sql_source"`
	// RetryNumber is 0 for the first execution of a turn.
	RetryNumber int `json:"retry_number"`
}

type ErrorAnalysis struct {
	IsFixable bool   `json:"is_fixable"`
	Analysis  string `json:"analysis"`
	FixedSQL  string `json:"fixed_sql,omitempty"`
}

// State is threaded through every stage of a turn and persisted between turns.
type State struct {
	// OwnerID is the user who started the session. Only that user can run or resume it.
	OwnerID         int64                   `json:"owner_id"`
	Messages        []Message               `json:"messages"`
	Intent          *Intent                 `json:"intent,omitempty"`
	Keywords        []string                `json:"keywords,omitempty"`
	TermMappings    map[string]matcher.Term `json:"term_mappings,omitempty"`
	NormalizedQuery string                  `json:"normalized_query,omitempty"`
	MatchedTables   []matcher.MatchedTable  `json:"matched_tables,omitempty"`
	TableStructures []schema.TableStructure `json:"table_structures,omitempty"`
	GeneratedSQL    *GeneratedSQL           `json:"generated_sql,omitempty"`
	Permission      *PermissionOutcome      `json:"permission,omitempty"`
	ExecutionResult *ExecutionResult        `json:"execution_result,omitempty"`
	ErrorAnalysis   *ErrorAnalysis          `json:"error_analysis,omitempty"`
	// RetryCount is the number of executions performed in the current turn.
	RetryCount int     `json:"retry_count"`
	Answer     string  `json:"answer,omitempty"`
	Outcome    Outcome `json:"outcome,omitempty"`

	// Auth is rebuilt for every turn and never persisted.
	Auth permission.AuthContext `json:"-"`
}

// PartialState is a stage's update. Nil fields are left unchanged; Messages are appended.
type PartialState struct {
	Messages        []Message
	Intent          *Intent
	Keywords        []string
	TermMappings    map[string]matcher.Term
	NormalizedQuery *string
	MatchedTables   []matcher.MatchedTable
	TableStructures []schema.TableStructure
	GeneratedSQL    *GeneratedSQL
	Permission      *PermissionOutcome
	ExecutionResult *ExecutionResult
	ErrorAnalysis   *ErrorAnalysis
	RetryCount      *int
	Answer          *string
}

// merge applies p last-write-wins per field. The retry counter never decreases.
func (s *State) merge(p PartialState) {
	s.Messages = append(s.Messages, p.Messages...)
	if p.Intent != nil {
		s.Intent = p.Intent
	}
	if p.Keywords != nil {
		s.Keywords = p.Keywords
	}
	if p.TermMappings != nil {
		s.TermMappings = p.TermMappings
	}
	if p.NormalizedQuery != nil {
		s.NormalizedQuery = *p.NormalizedQuery
	}
	if p.MatchedTables != nil {
		s.MatchedTables = p.MatchedTables
	}
	if p.TableStructures != nil {
		s.TableStructures = p.TableStructures
	}
	if p.GeneratedSQL != nil {
		s.GeneratedSQL = p.GeneratedSQL
	}
	if p.Permission != nil {
		s.Permission = p.Permission
	}
	if p.ExecutionResult != nil {
		s.ExecutionResult = p.ExecutionResult
	}
	if p.ErrorAnalysis != nil {
		s.ErrorAnalysis = p.ErrorAnalysis
	}
	if p.RetryCount != nil && *p.RetryCount > s.RetryCount {
		s.RetryCount = *p.RetryCount
	}
	if p.Answer != nil {
		s.Answer = *p.Answer
	}
}

// beginTurn clears the per-turn fields and records the user's query. History is kept.
func (s *State) beginTurn(query string) {
	*s = State{
		OwnerID:  s.OwnerID,
		Messages: append(s.Messages, Message{Role: RoleUser, Content: query}),
		Auth:     s.Auth,
	}
}

// LastUserMessage returns the most recent user message, or "".
func (s *State) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

func ptr[T any](v T) *T { return &v }
