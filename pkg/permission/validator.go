package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/sqlassist/pkg/sqlscan"
)

type ValidatorConfig struct {
	Logger  *slog.Logger
	Store   Store
	Dialect Dialect
	// Enabled turns access control on. When off, every statement is approved unchanged.
	Enabled bool
}

func (cfg *ValidatorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil && cfg.Enabled {
		return errors.New("store is required when access control is enabled")
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DialectPostgres
	}
	return nil
}

// Validator applies table-level and department-level access control to generated SQL.
type Validator struct {
	log *slog.Logger
	cfg ValidatorConfig
}

func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate permission config: %w", err)
	}
	return &Validator{log: cfg.Logger, cfg: cfg}, nil
}

func (v *Validator) Enabled() bool { return v.cfg.Enabled }

// AuthContext loads the authorization context for a user. With access control disabled it
// returns an empty context.
func (v *Validator) AuthContext(ctx context.Context, userID int64) (AuthContext, error) {
	if !v.cfg.Enabled {
		return NewAuthContext(userID, nil, nil), nil
	}
	auth, err := v.cfg.Store.AuthContext(ctx, userID)
	if err != nil {
		return AuthContext{}, fmt.Errorf("failed to load auth context: %w", err)
	}
	return auth, nil
}

// Check validates sql for auth and returns the statement to execute.
func (v *Validator) Check(ctx context.Context, auth AuthContext, sql string) (Decision, error) {
	if !v.cfg.Enabled {
		return Decision{Approved: true, SQL: sql}, nil
	}

	configs, err := v.cfg.Store.TableConfigs(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load table permission configs: %w", err)
	}

	decision, err := Rewrite(sql, configs, auth, v.cfg.Dialect)
	if err != nil {
		if errors.Is(err, sqlscan.ErrParse) {
			ParseErrorsTotal.Inc()
		}
		return Decision{}, err
	}

	if !decision.Approved {
		DeniedTotal.Inc()
		v.log.Info("permission: access denied", "user_id", auth.UserID, "tables", decision.Unauthorized)
		return decision, nil
	}
	if len(decision.Scoped) > 0 {
		ScopedTotal.Add(float64(len(decision.Scoped)))
		v.log.Debug("permission: applied department scoping", "user_id", auth.UserID, "tables", decision.Scoped, "sql", decision.SQL)
	}
	return decision, nil
}
