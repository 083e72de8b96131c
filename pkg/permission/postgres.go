package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads users, roles and table permissions from the access-control tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) LookupUser(ctx context.Context, username string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, username FROM users WHERE username = $1 AND status = 1
	`, username).Scan(&u.ID, &u.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("failed to look up user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) TableConfigs(ctx context.Context) (TableConfigs, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_name, need_dept_control, COALESCE(dept_path_field, '')
		FROM table_permission_config
		WHERE status = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query table permission configs: %w", err)
	}
	cfgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TableConfig, error) {
		var c TableConfig
		err := row.Scan(&c.TableName, &c.NeedDeptControl, &c.DeptPathField)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan table permission configs: %w", err)
	}
	return NewTableConfigs(cfgs...), nil
}

func (s *PostgresStore) AuthContext(ctx context.Context, userID int64) (AuthContext, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT tpc.table_name
		FROM user_role ur
		JOIN role_table_permission rtp ON ur.role_id = rtp.role_id
		JOIN table_permission_config tpc ON rtp.table_permission_id = tpc.table_permission_id
		WHERE ur.user_id = $1 AND tpc.status = 1
	`, userID)
	if err != nil {
		return AuthContext{}, fmt.Errorf("failed to query accessible tables: %w", err)
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return AuthContext{}, fmt.Errorf("failed to scan accessible tables: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT dept_id FROM user_department WHERE user_id = $1 ORDER BY dept_id
	`, userID)
	if err != nil {
		return AuthContext{}, fmt.Errorf("failed to query user departments: %w", err)
	}
	depts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return AuthContext{}, fmt.Errorf("failed to scan user departments: %w", err)
	}

	return NewAuthContext(userID, tables, depts), nil
}

// Migrate creates the access-control tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				user_id BIGSERIAL PRIMARY KEY,
				username VARCHAR(255) NOT NULL UNIQUE,
				status SMALLINT NOT NULL DEFAULT 1,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`},
		{"table_permission_config", `
			CREATE TABLE IF NOT EXISTS table_permission_config (
				table_permission_id BIGSERIAL PRIMARY KEY,
				table_name VARCHAR(255) NOT NULL UNIQUE,
				need_dept_control BOOLEAN NOT NULL DEFAULT FALSE,
				dept_path_field VARCHAR(255),
				status SMALLINT NOT NULL DEFAULT 1
			)`},
		{"user_role", `
			CREATE TABLE IF NOT EXISTS user_role (
				user_id BIGINT NOT NULL REFERENCES users (user_id) ON DELETE CASCADE,
				role_id BIGINT NOT NULL,
				PRIMARY KEY (user_id, role_id)
			)`},
		{"role_table_permission", `
			CREATE TABLE IF NOT EXISTS role_table_permission (
				role_id BIGINT NOT NULL,
				table_permission_id BIGINT NOT NULL REFERENCES table_permission_config (table_permission_id) ON DELETE CASCADE,
				PRIMARY KEY (role_id, table_permission_id)
			)`},
		{"user_department", `
			CREATE TABLE IF NOT EXISTS user_department (
				user_id BIGINT NOT NULL REFERENCES users (user_id) ON DELETE CASCADE,
				dept_id VARCHAR(64) NOT NULL,
				PRIMARY KEY (user_id, dept_id)
			)`},
	}
	for _, st := range stmts {
		if _, err := s.pool.Exec(ctx, st.sql); err != nil {
			return fmt.Errorf("failed to create %s table: %w", st.name, err)
		}
	}
	return nil
}
