package permission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testPermissionFile = `
tables:
  - table_name: employees
    need_dept_control: true
    dept_path_field: dept_path
  - table_name: departments
roles:
  - name: hr
    tables: [employees, departments]
  - name: viewer
    tables: [departments]
users:
  - id: 1
    username: alice
    roles: [hr]
    departments: ["10", "12"]
  - id: 2
    username: bob
    roles: [viewer]
  - id: 3
    username: carol
    disabled: true
    roles: [viewer]
`

func TestPermission_FileStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "permissions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPermissionFile), 0o600))

	store, err := LoadFileStore(path)
	require.NoError(t, err)

	u, err := store.LookupUser(t.Context(), "Alice")
	require.NoError(t, err)
	require.Equal(t, User{ID: 1, Username: "alice"}, u)

	_, err = store.LookupUser(t.Context(), "carol")
	require.ErrorIs(t, err, ErrUserNotFound)
	_, err = store.LookupUser(t.Context(), "nobody")
	require.ErrorIs(t, err, ErrUserNotFound)

	configs, err := store.TableConfigs(t.Context())
	require.NoError(t, err)
	cfg, ok := configs.Get("employees")
	require.True(t, ok)
	require.True(t, cfg.NeedDeptControl)
	require.Equal(t, "dept_path", cfg.DeptPathField)

	auth, err := store.AuthContext(t.Context(), 1)
	require.NoError(t, err)
	require.True(t, auth.CanAccess("employees"))
	require.Equal(t, []string{"10", "12"}, auth.DeptIDs)

	auth, err = store.AuthContext(t.Context(), 2)
	require.NoError(t, err)
	require.False(t, auth.CanAccess("employees"))
	require.Empty(t, auth.DeptIDs)
}

func TestPermission_FileStore_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  FileConfig
	}{
		{
			name: "role references unknown table",
			cfg: FileConfig{
				Roles: []FileRole{{Name: "r", Tables: []string{"ghost"}}},
			},
		},
		{
			name: "user references unknown role",
			cfg: FileConfig{
				Users: []FileUser{{ID: 1, Username: "a", Roles: []string{"missing"}}},
			},
		},
		{
			name: "duplicate user id",
			cfg: FileConfig{
				Users: []FileUser{{ID: 1, Username: "a"}, {ID: 1, Username: "b"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewFileStore(tt.cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := LoadFileStore(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
