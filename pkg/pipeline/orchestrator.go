// Package pipeline turns a conversational data question into a permission-scoped, executed SQL
// answer.
//
// A turn walks a fixed graph of stages: intent analysis, keyword extraction, term mapping, query
// rewrite, data-source identification, table-structure loading, SQL generation, permission check
// and execution, followed by either result generation or error analysis with a bounded retry.
// Every stage returns a PartialState that the orchestrator merges; routing is a pure function of
// the merged state.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/malbeclabs/sqlassist/pkg/checkpoint"
	"github.com/malbeclabs/sqlassist/pkg/llm"
	"github.com/malbeclabs/sqlassist/pkg/permission"
)

const (
	DefaultMaxRetries = 2

	defaultMaxHistory = 20
	defaultLockTTL    = 5 * time.Minute
	defaultLockWait   = 2 * time.Second
)

// Config holds the configuration for the orchestrator.
type Config struct {
	Logger      *slog.Logger
	LLM         llm.Client
	Inspector   SchemaInspector
	Permissions PermissionChecker
	Executor    Executor
	Matcher     Matcher          // Optional; without it no terms are mapped and every table is a candidate
	Checkpoints checkpoint.Store // Defaults to an in-memory store
	Prompts     *Prompts         // Defaults to the embedded prompts
	Dialect     permission.Dialect
	MaxRetries  int // Re-executions of corrected SQL per turn
	MaxHistory  int // Messages included in prompts
	LockTTL     time.Duration
	LockWait    time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LLM == nil {
		return errors.New("LLM client is required")
	}
	if cfg.Inspector == nil {
		return errors.New("schema inspector is required")
	}
	if cfg.Permissions == nil {
		return errors.New("permission checker is required")
	}
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.Checkpoints == nil {
		cfg.Checkpoints = checkpoint.NewMemoryStore(nil)
	}
	if cfg.Dialect == "" {
		cfg.Dialect = permission.DialectPostgres
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.LockWait < 0 {
		cfg.LockWait = 0
	} else if cfg.LockWait == 0 {
		cfg.LockWait = defaultLockWait
	}
	return nil
}

type stageFunc func(ctx context.Context, s State) (PartialState, error)

type responseSchemas struct {
	intent        *responseSchema[intentResponse]
	keywords      *responseSchema[keywordsResponse]
	rewrite       *responseSchema[rewriteResponse]
	generate      *responseSchema[generateResponse]
	errorAnalysis *responseSchema[errorAnalysisResponse]
	result        *responseSchema[resultResponse]
}

// Orchestrator runs turns through the stage graph and persists state between turns.
type Orchestrator struct {
	log     *slog.Logger
	cfg     Config
	prompts *Prompts
	schemas responseSchemas
	stages  map[Node]stageFunc
}

func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate pipeline config: %w", err)
	}

	prompts := cfg.Prompts
	if prompts == nil {
		var err error
		if prompts, err = LoadPrompts(cfg.Dialect); err != nil {
			return nil, err
		}
	}

	o := &Orchestrator{log: cfg.Logger, cfg: cfg, prompts: prompts}

	var err error
	if o.schemas.intent, err = newResponseSchema[intentResponse](NodeIntentAnalysis); err != nil {
		return nil, err
	}
	if o.schemas.keywords, err = newResponseSchema[keywordsResponse](NodeKeywordExtraction); err != nil {
		return nil, err
	}
	if o.schemas.rewrite, err = newResponseSchema[rewriteResponse](NodeQueryRewrite); err != nil {
		return nil, err
	}
	if o.schemas.generate, err = newResponseSchema[generateResponse](NodeSQLGeneration); err != nil {
		return nil, err
	}
	if o.schemas.errorAnalysis, err = newResponseSchema[errorAnalysisResponse](NodeErrorAnalysis); err != nil {
		return nil, err
	}
	if o.schemas.result, err = newResponseSchema[resultResponse](NodeResultGeneration); err != nil {
		return nil, err
	}

	o.stages = map[Node]stageFunc{
		NodeIntentAnalysis:    o.analyzeIntent,
		NodeKeywordExtraction: o.extractKeywords,
		NodeTermMapping:       o.mapTerms,
		NodeQueryRewrite:      o.rewriteQuery,
		NodeDataSource:        o.identifyDataSources,
		NodeTableStructure:    o.loadTableStructures,
		NodeSQLGeneration:     o.generateSQL,
		NodePermissionCheck:   o.checkPermission,
		NodeSQLExecution:      o.executeSQL,
		NodeErrorAnalysis:     o.analyzeError,
		NodeResultGeneration:  o.describeResult,
	}
	return o, nil
}

// Run executes a new turn. The session's history is kept; everything else starts fresh at intent
// analysis. Returns checkpoint.ErrLocked when another turn holds the session and
// ErrSessionNotFound when it belongs to another user.
func (o *Orchestrator) Run(ctx context.Context, turn Turn, onProgress ProgressCallback) (*Answer, error) {
	if strings.TrimSpace(turn.Query) == "" {
		return nil, errors.New("query is required")
	}
	if turn.SessionID == "" {
		turn.SessionID = uuid.NewString()
	}
	return o.withSession(ctx, turn.SessionID, turn.UserID, onProgress, func(state *State, _ checkpoint.Snapshot, _ bool) (Node, error) {
		state.beginTurn(turn.Query)
		return NodeIntentAnalysis, nil
	})
}

// Resume continues a turn that stopped on a stage error, starting at the stage that failed.
// Returns ErrNothingToResume when the session's last turn finished, and ErrSessionNotFound when
// the session belongs to another user.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string, userID int64, onProgress ProgressCallback) (*Answer, error) {
	return o.withSession(ctx, sessionID, userID, onProgress, func(_ *State, snap checkpoint.Snapshot, found bool) (Node, error) {
		if !found || snap.Next == "" {
			return "", ErrNothingToResume
		}
		node := Node(snap.Next)
		if _, ok := o.stages[node]; !ok {
			return "", fmt.Errorf("checkpoint has unknown pending node %q", snap.Next)
		}
		return node, nil
	})
}

type prepareFunc func(state *State, snap checkpoint.Snapshot, found bool) (Node, error)

func (o *Orchestrator) withSession(ctx context.Context, sessionID string, userID int64, onProgress ProgressCallback, prepare prepareFunc) (*Answer, error) {
	store := o.cfg.Checkpoints
	owner := uuid.NewString()
	if err := checkpoint.AcquireLock(ctx, store, sessionID, owner, o.cfg.LockTTL, o.cfg.LockWait); err != nil {
		return nil, err
	}
	defer func() {
		if err := store.Unlock(context.WithoutCancel(ctx), sessionID, owner); err != nil {
			o.log.Warn("pipeline: failed to release session lock", "session_id", sessionID, "error", err)
		}
	}()

	var state State
	snap, err := store.Load(ctx, sessionID)
	found := err == nil
	if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if found && len(snap.State) > 0 {
		if err := json.Unmarshal(snap.State, &state); err != nil {
			return nil, fmt.Errorf("failed to decode session state: %w", err)
		}
	}
	if !found {
		state.OwnerID = userID
	} else if state.OwnerID != userID {
		// Another user's session is indistinguishable from a missing one.
		o.log.Warn("pipeline: session belongs to another user", "session_id", sessionID, "user_id", userID)
		return nil, ErrSessionNotFound
	}

	start, err := prepare(&state, snap, found)
	if err != nil {
		return nil, err
	}

	auth, err := o.cfg.Permissions.AuthContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	state.Auth = auth

	log := o.log.With("session_id", sessionID, "user_id", userID)
	failed, runErr := o.loop(ctx, log, &state, start, onProgress)

	// A cancelled turn leaves the previous checkpoint untouched.
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Info("pipeline: turn cancelled, discarding state", "error", ctxErr)
		return nil, ctxErr
	}

	next := ""
	if runErr != nil {
		next = string(failed)
	}
	if err := o.save(ctx, sessionID, &state, next); err != nil {
		if runErr != nil {
			return nil, errors.Join(runErr, err)
		}
		return nil, err
	}
	if runErr != nil {
		TurnsTotal.WithLabelValues("error").Inc()
		return nil, runErr
	}

	TurnsTotal.WithLabelValues(string(state.Outcome)).Inc()
	return &Answer{SessionID: sessionID, Message: state.Answer, Outcome: state.Outcome, State: state}, nil
}

func (o *Orchestrator) save(ctx context.Context, sessionID string, state *State, next string) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	if err := o.cfg.Checkpoints.Save(ctx, sessionID, checkpoint.Snapshot{State: data, Next: next}); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// loop runs stages from start until the router reaches NodeEnd. On a stage error it returns the
// failing node; state then holds everything merged before that stage.
func (o *Orchestrator) loop(ctx context.Context, log *slog.Logger, state *State, node Node, onProgress ProgressCallback) (Node, error) {
	notify := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	for node != NodeEnd {
		stage := o.stages[node]
		notify(Progress{Stage: progressStages[node], Node: node, RetryCount: state.RetryCount})

		start := time.Now()
		update, err := o.runStage(ctx, node, stage, *state)
		StageDuration.WithLabelValues(string(node)).Observe(time.Since(start).Seconds())
		if err != nil {
			StageErrorsTotal.WithLabelValues(string(node)).Inc()
			err = fmt.Errorf("%s failed: %w", node, err)
			log.Error("pipeline: stage failed", "stage", node, "error", err)
			notify(Progress{Stage: StageError, Node: node, RetryCount: state.RetryCount, Error: err})
			return node, err
		}
		state.merge(update)

		next, outcome := route(node, state, o.cfg.MaxRetries)
		log.Debug("pipeline: stage complete", "stage", node, "next", next, "duration", time.Since(start))
		if next == NodeEnd {
			o.finish(state, outcome)
			log.Info("pipeline: turn complete", "outcome", outcome, "executions", state.RetryCount)
			notify(Progress{Stage: StageComplete, Node: node, RetryCount: state.RetryCount, Outcome: outcome})
		}
		node = next
	}
	return "", nil
}

// runStage keeps stage panics inside the turn.
func (o *Orchestrator) runStage(ctx context.Context, node Node, stage stageFunc, s State) (update PartialState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", node, r)
		}
	}()
	return stage(ctx, s)
}

// finish records the terminal outcome and the user-visible message, and appends it to history.
func (o *Orchestrator) finish(state *State, outcome Outcome) {
	state.Outcome = outcome
	state.Answer = o.message(state, outcome)
	state.Messages = append(state.Messages, Message{Role: RoleAssistant, Content: state.Answer})
}

func (o *Orchestrator) message(s *State, outcome Outcome) string {
	switch outcome {
	case OutcomeAnswered:
		return s.Answer
	case OutcomeClarification:
		if s.Intent != nil {
			return s.Intent.ClarificationQuestion
		}
	case OutcomeInfeasible:
		if s.GeneratedSQL != nil {
			return s.GeneratedSQL.InfeasibleReason
		}
	case OutcomePermissionDenied:
		return "Permission denied: you do not have access to " + strings.Join(s.Permission.UnauthorizedTables, ", ") + "."
	case OutcomeRetryExhausted:
		return fmt.Sprintf("The query still failed after %d corrections. The question may need to be rephrased or the data checked.", o.cfg.MaxRetries)
	}
	return "The query could not be completed. Please try again later or rephrase the question."
}
