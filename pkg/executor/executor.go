// Package executor runs generated read-only statements against the analytics database and returns
// a uniform, JSON-safe result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/sqlassist/pkg/sqlscan"
)

const (
	defaultTimeout = 30 * time.Second
	defaultMaxRows = 100
)

// Backend runs one statement in a read-only context. Implementations return at most limit rows
// of raw driver values and enforce timeout on the server side where the engine supports it.
type Backend interface {
	Query(ctx context.Context, sql string, limit int, timeout time.Duration) (columns []string, rows [][]any, err error)
	Name() string
}

type Config struct {
	Logger  *slog.Logger
	Backend Backend
	Clock   clockwork.Clock
	// Dialect selects the tokenizer rules for the read-only check. The zero value is the strictest.
	Dialect sqlscan.Dialect
	// Timeout is the per-statement budget.
	Timeout time.Duration
	// MaxRows caps the rows returned to the caller.
	MaxRows int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Backend == nil {
		return errors.New("backend is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return nil
}

// Result is the outcome of one execution. Error is empty iff Success.
type Result struct {
	Success   bool     `json:"success"`
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
	Error     string   `json:"error,omitempty"`
	ElapsedMs int64    `json:"elapsed_ms"`
}

type Executor struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate executor config: %w", err)
	}
	return &Executor{log: cfg.Logger, cfg: cfg}, nil
}

func (e *Executor) MaxRows() int { return e.cfg.MaxRows }

// Execute runs sql and never returns an error: every failure, including a rejected statement or
// a panicking driver, is reported through Result.
func (e *Executor) Execute(ctx context.Context, sql string) (res Result) {
	start := e.cfg.Clock.Now()
	backend := e.cfg.Backend.Name()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("executor: recovered from panic", "panic", r)
			res = Result{Error: fmt.Sprintf("internal error: %v", r)}
		}
		elapsed := e.cfg.Clock.Since(start)
		res.ElapsedMs = elapsed.Milliseconds()
		status := "success"
		if !res.Success {
			status = "error"
		}
		ExecutionsTotal.WithLabelValues(backend, status).Inc()
		ExecutionDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	}()

	if err := sqlscan.CheckReadOnly(sql, e.cfg.Dialect); err != nil {
		RejectedTotal.Inc()
		e.log.Warn("executor: rejected statement", "error", err)
		return Result{Error: err.Error()}
	}
	sql = sqlscan.Normalize(sql)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	columns, rows, err := e.cfg.Backend.Query(ctx, sql, e.cfg.MaxRows+1, e.cfg.Timeout)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("statement timed out after %s: %v", e.cfg.Timeout, err)
		}
		e.log.Debug("executor: statement failed", "backend", backend, "error", err)
		return Result{Error: msg}
	}

	truncated := len(rows) > e.cfg.MaxRows
	if truncated {
		rows = rows[:e.cfg.MaxRows]
		TruncatedTotal.Inc()
	}
	for _, row := range rows {
		for i, v := range row {
			row[i] = NormalizeValue(v)
		}
	}
	if rows == nil {
		rows = [][]any{}
	}

	return Result{
		Success:   true,
		Columns:   columns,
		Rows:      rows,
		RowCount:  len(rows),
		Truncated: truncated,
	}
}
