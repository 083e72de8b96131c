// Package permission decides whether a user may run a generated SQL statement and rewrites it so
// that department-controlled tables only expose rows under the user's departments.
package permission

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidConfig = errors.New("invalid permission config")
)

// TableConfig is the administrative access-control entry for one table.
type TableConfig struct {
	TableName       string `yaml:"table_name" json:"table_name"`
	NeedDeptControl bool   `yaml:"need_dept_control" json:"need_dept_control"`
	DeptPathField   string `yaml:"dept_path_field" json:"dept_path_field"`
}

// TableConfigs is keyed by lower-cased table name.
type TableConfigs map[string]TableConfig

func NewTableConfigs(cfgs ...TableConfig) TableConfigs {
	out := make(TableConfigs, len(cfgs))
	for _, c := range cfgs {
		out[strings.ToLower(c.TableName)] = c
	}
	return out
}

func (c TableConfigs) Get(table string) (TableConfig, bool) {
	cfg, ok := c[strings.ToLower(table)]
	return cfg, ok
}

func (c TableConfigs) Known(table string) bool {
	_, ok := c[strings.ToLower(table)]
	return ok
}

type User struct {
	ID       int64
	Username string
}

// AuthContext is built once per query and never mutated afterwards.
type AuthContext struct {
	UserID int64
	// Tables holds the lower-cased names of the tables the user may reference.
	Tables map[string]struct{}
	// DeptIDs are the department node ids the user belongs to.
	DeptIDs []string
}

func NewAuthContext(userID int64, tables []string, deptIDs []string) AuthContext {
	set := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		set[strings.ToLower(t)] = struct{}{}
	}
	return AuthContext{UserID: userID, Tables: set, DeptIDs: append([]string(nil), deptIDs...)}
}

func (a AuthContext) CanAccess(table string) bool {
	_, ok := a.Tables[strings.ToLower(table)]
	return ok
}

// Store is the read-only source of users and access-control data.
type Store interface {
	// LookupUser resolves an active username. Returns ErrUserNotFound when there is none.
	LookupUser(ctx context.Context, username string) (User, error)
	// TableConfigs returns the active table permission entries.
	TableConfigs(ctx context.Context) (TableConfigs, error)
	// AuthContext returns the accessible tables and department ids of a user.
	AuthContext(ctx context.Context, userID int64) (AuthContext, error)
}
