package postgrestesting

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	pg "github.com/malbeclabs/sqlassist/pkg/postgres"
)

type DBConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "testdb"
	}
	if cfg.Username == "" {
		cfg.Username = "testuser"
	}
	if cfg.Password == "" {
		cfg.Password = "testpass"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

type DB struct {
	Pool *pgxpool.Pool
	DSN  string
}

// NewDB starts a throwaway Postgres container and returns a connected pool. The container and
// pool are cleaned up when the test finishes. Skipped in -short mode.
func NewDB(t testing.TB, cfg *DBConfig) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := t.Context()

	if cfg == nil {
		cfg = &DBConfig{}
	}
	require.NoError(t, cfg.Validate())

	var container *postgres.PostgresContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = postgres.Run(ctx, cfg.ContainerImage,
			postgres.WithDatabase(cfg.Database),
			postgres.WithUsername(cfg.Username),
			postgres.WithPassword(cfg.Password),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			lastErr = err
			if isRetryableContainerStartErr(err) && attempt < 3 {
				time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
				continue
			}
			require.NoError(t, err)
		}
		break
	}
	if container == nil {
		t.Fatalf("failed to start postgres container after retries: %v", lastErr)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to cleanup postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := pg.DSN(host, port.Port(), cfg.Database, cfg.Username, cfg.Password)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	pool, err := pg.Connect(ctx, pg.Config{Logger: log, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return &DB{Pool: pool, DSN: dsn}
}

func isRetryableContainerStartErr(err error) bool {
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "https://github.com/docker/docker/issues/8539")
}
