package permission

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML document read by FileStore.
//
//	tables:
//	  - table_name: employees
//	    need_dept_control: true
//	    dept_path_field: dept_path
//	roles:
//	  - name: hr
//	    tables: [employees, departments]
//	users:
//	  - id: 1
//	    username: alice
//	    roles: [hr]
//	    departments: ["10"]
type FileConfig struct {
	Tables []TableConfig `yaml:"tables"`
	Roles  []FileRole    `yaml:"roles"`
	Users  []FileUser    `yaml:"users"`
}

type FileRole struct {
	Name   string   `yaml:"name"`
	Tables []string `yaml:"tables"`
}

type FileUser struct {
	ID          int64    `yaml:"id"`
	Username    string   `yaml:"username"`
	Disabled    bool     `yaml:"disabled"`
	Roles       []string `yaml:"roles"`
	Departments []string `yaml:"departments"`
}

// FileStore serves access-control data from a static YAML document.
type FileStore struct {
	configs TableConfigs
	users   map[string]FileUser
	byID    map[int64]FileUser
	roles   map[string]FileRole
}

func LoadFileStore(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read permission file: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse permission file: %w", err)
	}
	return NewFileStore(cfg)
}

func NewFileStore(cfg FileConfig) (*FileStore, error) {
	s := &FileStore{
		configs: NewTableConfigs(cfg.Tables...),
		users:   make(map[string]FileUser, len(cfg.Users)),
		byID:    make(map[int64]FileUser, len(cfg.Users)),
		roles:   make(map[string]FileRole, len(cfg.Roles)),
	}
	for _, r := range cfg.Roles {
		for _, t := range r.Tables {
			if !s.configs.Known(t) {
				return nil, fmt.Errorf("%w: role %q references unconfigured table %q", ErrInvalidConfig, r.Name, t)
			}
		}
		s.roles[r.Name] = r
	}
	for _, u := range cfg.Users {
		if _, ok := s.byID[u.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate user id %d", ErrInvalidConfig, u.ID)
		}
		for _, r := range u.Roles {
			if _, ok := s.roles[r]; !ok {
				return nil, fmt.Errorf("%w: user %q has unknown role %q", ErrInvalidConfig, u.Username, r)
			}
		}
		s.users[strings.ToLower(u.Username)] = u
		s.byID[u.ID] = u
	}
	return s, nil
}

func (s *FileStore) LookupUser(_ context.Context, username string) (User, error) {
	u, ok := s.users[strings.ToLower(username)]
	if !ok || u.Disabled {
		return User{}, ErrUserNotFound
	}
	return User{ID: u.ID, Username: u.Username}, nil
}

func (s *FileStore) TableConfigs(context.Context) (TableConfigs, error) {
	return s.configs, nil
}

func (s *FileStore) AuthContext(_ context.Context, userID int64) (AuthContext, error) {
	u, ok := s.byID[userID]
	if !ok {
		return AuthContext{}, ErrUserNotFound
	}
	var tables []string
	for _, r := range u.Roles {
		tables = append(tables, s.roles[r].Tables...)
	}
	return NewAuthContext(userID, tables, u.Departments), nil
}
