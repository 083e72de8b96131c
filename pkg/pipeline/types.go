package pipeline

import (
	"context"

	"github.com/malbeclabs/sqlassist/pkg/executor"
	"github.com/malbeclabs/sqlassist/pkg/matcher"
	"github.com/malbeclabs/sqlassist/pkg/permission"
	"github.com/malbeclabs/sqlassist/pkg/schema"
)

// Matcher maps keywords to domain terms and finds the tables relevant to a query.
type Matcher interface {
	MapTerms(ctx context.Context, keywords []string) (map[string]matcher.Term, error)
	MatchTables(ctx context.Context, query string) ([]matcher.MatchedTable, error)
}

// SchemaInspector reads table metadata.
type SchemaInspector interface {
	Tables(ctx context.Context) ([]schema.Table, error)
	Structures(ctx context.Context, tables []string) ([]schema.TableStructure, error)
}

// PermissionChecker validates and scopes statements for a user.
type PermissionChecker interface {
	AuthContext(ctx context.Context, userID int64) (permission.AuthContext, error)
	Check(ctx context.Context, auth permission.AuthContext, sql string) (permission.Decision, error)
}

// Executor runs a read-only statement. It never returns an error; failures are in the result.
type Executor interface {
	Execute(ctx context.Context, sql string) executor.Result
}

// ProgressStage represents a stage in the pipeline execution.
type ProgressStage string

const (
	StageAnalyzingIntent     ProgressStage = "analyzing_intent"
	StageExtractingKeywords  ProgressStage = "extracting_keywords"
	StageMappingTerms        ProgressStage = "mapping_terms"
	StageRewriting           ProgressStage = "rewriting"
	StageIdentifyingSources  ProgressStage = "identifying_sources"
	StageLoadingSchema       ProgressStage = "loading_schema"
	StageGenerating          ProgressStage = "generating"
	StageCheckingPermissions ProgressStage = "checking_permissions"
	StageExecuting           ProgressStage = "executing"
	StageAnalyzingError      ProgressStage = "analyzing_error"
	StageDescribing          ProgressStage = "describing"
	StageComplete            ProgressStage = "complete"
	StageError               ProgressStage = "error"
)

var progressStages = map[Node]ProgressStage{
	NodeIntentAnalysis:    StageAnalyzingIntent,
	NodeKeywordExtraction: StageExtractingKeywords,
	NodeTermMapping:       StageMappingTerms,
	NodeQueryRewrite:      StageRewriting,
	NodeDataSource:        StageIdentifyingSources,
	NodeTableStructure:    StageLoadingSchema,
	NodeSQLGeneration:     StageGenerating,
	NodePermissionCheck:   StageCheckingPermissions,
	NodeSQLExecution:      StageExecuting,
	NodeErrorAnalysis:     StageAnalyzingError,
	NodeResultGeneration:  StageDescribing,
}

// Progress represents the current state of a turn.
type Progress struct {
	Stage      ProgressStage
	Node       Node
	RetryCount int     // Executions so far
	Outcome    Outcome // Set on complete
	Error      error   // Set on error
}

// ProgressCallback is called at each stage transition.
type ProgressCallback func(Progress)

// Turn is one user query on a session.
type Turn struct {
	SessionID string
	UserID    int64
	Query     string
}

// Answer is the user-visible result of a turn.
type Answer struct {
	SessionID string
	Message   string
	Outcome   Outcome
	State     State
}
