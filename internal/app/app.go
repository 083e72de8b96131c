package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/malbeclabs/sqlassist/pkg/checkpoint"
	"github.com/malbeclabs/sqlassist/pkg/executor"
	"github.com/malbeclabs/sqlassist/pkg/llm"
	"github.com/malbeclabs/sqlassist/pkg/matcher"
	"github.com/malbeclabs/sqlassist/pkg/permission"
	"github.com/malbeclabs/sqlassist/pkg/pipeline"
	"github.com/malbeclabs/sqlassist/pkg/postgres"
	"github.com/malbeclabs/sqlassist/pkg/schema"
)

// App is the set of connected components behind a pipeline. The LLM client and matcher are
// built on first use by Orchestrator so that commands which never ask a question do not need them.
type App struct {
	log *slog.Logger
	cfg Config

	Pool        *pgxpool.Pool
	Dialect     permission.Dialect
	Inspector   *schema.Inspector
	Executor    *executor.Executor
	Permissions permission.Store
	Validator   *permission.Validator
	Checkpoints checkpoint.Store

	closers []func() error
}

// Open connects every configured backend. Close releases them.
func Open(ctx context.Context, log *slog.Logger, cfg Config) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{log: log, cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.needsPostgres() {
		pool, err := postgres.Connect(ctx, postgres.Config{Logger: log, DSN: cfg.PostgresDSN})
		if err != nil {
			return nil, err
		}
		a.Pool = pool
		a.onClose(func() error { pool.Close(); return nil })
	}

	backend, source, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}

	a.Inspector, err = schema.New(schema.Config{Logger: log, Source: source, TTL: cfg.SchemaCacheTTL})
	if err != nil {
		return nil, err
	}
	a.Executor, err = executor.New(executor.Config{
		Logger:  log,
		Backend: backend,
		Dialect: a.Dialect.Scan(),
		Timeout: cfg.StatementTimeout,
		MaxRows: cfg.MaxRows,
	})
	if err != nil {
		return nil, err
	}

	if err := a.openPermissions(); err != nil {
		return nil, err
	}
	if err := a.openCheckpoints(ctx); err != nil {
		return nil, err
	}

	log.Info("app: components ready",
		"backend", cfg.Backend,
		"dialect", a.Dialect,
		"permissions", cfg.Permissions,
		"auth_enabled", cfg.AuthEnabled,
		"checkpoints", cfg.Checkpoints,
		"matcher", cfg.Matcher)
	return a, nil
}

func (a *App) onClose(f func() error) {
	a.closers = append(a.closers, f)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("app: failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

func (a *App) openBackend(ctx context.Context) (executor.Backend, schema.Source, error) {
	switch a.cfg.Backend {
	case BackendPostgres:
		a.Dialect = permission.DialectPostgres
		return executor.NewPostgresBackend(a.Pool), schema.NewPostgresSource(a.Pool, a.cfg.PostgresSchema), nil

	case BackendSQL:
		db, err := executor.OpenPQ(a.cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		a.onClose(db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		a.Dialect = permission.DialectPostgres
		return executor.NewPQBackend(db), schema.NewPostgresSource(a.Pool, a.cfg.PostgresSchema), nil

	case BackendClickHouse:
		conn, err := executor.OpenClickHouse(ctx, executor.ClickHouseConfig{
			Logger:   a.log,
			Addr:     a.cfg.ClickHouseAddr,
			Database: a.cfg.ClickHouseDatabase,
			Username: a.cfg.ClickHouseUsername,
			Password: a.cfg.ClickHousePassword,
			Secure:   a.cfg.ClickHouseSecure,
		})
		if err != nil {
			return nil, nil, err
		}
		a.onClose(conn.Close)
		a.Dialect = permission.DialectClickHouse
		return executor.NewClickHouseBackend(conn), clickHouseSource(conn, a.cfg.ClickHouseDatabase), nil

	case BackendDuckDB:
		db, err := executor.OpenDuckDB(a.cfg.DuckDBPath)
		if err != nil {
			return nil, nil, err
		}
		a.onClose(db.Close)
		a.Dialect = permission.DialectDuckDB
		return executor.NewDuckDBBackend(db), duckDBSource(db), nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", a.cfg.Backend)
}

func clickHouseSource(conn driver.Conn, database string) schema.Source {
	if database == "" {
		database = "default"
	}
	return schema.NewClickHouseSource(conn, database)
}

func duckDBSource(db *sql.DB) schema.Source {
	return schema.NewDuckDBSource(db, "main")
}

func (a *App) openPermissions() error {
	if a.cfg.AuthEnabled {
		var store permission.Store
		switch a.cfg.Permissions {
		case StorePostgres:
			store = permission.NewPostgresStore(a.Pool)
		case StoreFile:
			fs, err := permission.LoadFileStore(a.cfg.PermissionFile)
			if err != nil {
				return err
			}
			store = fs
		}
		a.Permissions = permission.NewCachedStore(store, a.cfg.PermissionTTL)
	}

	v, err := permission.NewValidator(permission.ValidatorConfig{
		Logger:  a.log,
		Store:   a.Permissions,
		Dialect: a.Dialect,
		Enabled: a.cfg.AuthEnabled,
	})
	if err != nil {
		return err
	}
	a.Validator = v
	return nil
}

func (a *App) openCheckpoints(ctx context.Context) error {
	switch a.cfg.Checkpoints {
	case StoreMemory:
		a.Checkpoints = checkpoint.NewMemoryStore(nil)
	case StorePostgres:
		a.Checkpoints = checkpoint.NewPostgresStore(a.Pool)
	case StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		a.onClose(client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		a.Checkpoints = checkpoint.NewRedisStore(client, "", 0)
	}
	return nil
}

// Users returns the username resolver, or nil when access control is disabled.
func (a *App) Users() permission.Store {
	return a.Permissions
}

// Migrate creates the permission, checkpoint and vector tables in Postgres.
func (a *App) Migrate(ctx context.Context) error {
	if a.Pool == nil {
		return errors.New("migrations require --postgres-dsn")
	}
	if err := permission.NewPostgresStore(a.Pool).Migrate(ctx); err != nil {
		return err
	}
	if err := checkpoint.NewPostgresStore(a.Pool).Migrate(ctx); err != nil {
		return err
	}
	if err := matcher.NewPostgresStore(a.Pool).Migrate(ctx, a.cfg.EmbedDimensions); err != nil {
		return err
	}
	a.log.Info("app: migrations applied")
	return nil
}

// LLM builds the configured completion client wrapped with retries and a response cache.
func (a *App) LLM() (llm.Client, error) {
	var base llm.Client
	switch a.cfg.LLMProvider {
	case ProviderAnthropic:
		c, err := llm.NewAnthropicClient(llm.AnthropicConfig{Logger: a.log, Model: a.cfg.LLMModel})
		if err != nil {
			return nil, err
		}
		base = c
	case ProviderOllama:
		c, err := llm.NewOllamaClient(llm.OllamaConfig{Logger: a.log, BaseURL: a.cfg.OllamaURL, Model: a.cfg.LLMModel})
		if err != nil {
			return nil, err
		}
		base = c
	default:
		return nil, fmt.Errorf("unknown llm provider %q", a.cfg.LLMProvider)
	}

	var client llm.Client = llm.NewRetryingClient(a.log, base, a.cfg.LLMMaxAttempts)
	if a.cfg.LLMCacheEntries > 0 {
		cached, err := llm.NewCachingClient(client, a.cfg.LLMCacheEntries, a.cfg.LLMCacheTTL)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error { cached.Close(); return nil })
		client = cached
	}
	return client, nil
}

// Embedder returns the Ollama embedding client used by the matcher and the indexer.
func (a *App) Embedder() (*matcher.OllamaEmbedder, error) {
	return matcher.NewOllamaEmbedder(matcher.OllamaEmbedderConfig{
		Logger:  a.log,
		BaseURL: a.cfg.OllamaURL,
		Model:   a.cfg.EmbedModel,
	})
}

// Matcher builds the configured matcher. It returns nil when matching is disabled.
func (a *App) Matcher(ctx context.Context) (*matcher.Matcher, error) {
	if a.cfg.Matcher == StoreNone {
		return nil, nil
	}
	emb, err := a.Embedder()
	if err != nil {
		return nil, err
	}

	var store matcher.Store
	switch a.cfg.Matcher {
	case StorePostgres:
		store = matcher.NewPostgresStore(a.Pool)
	case StoreMemory:
		catalog, err := matcher.LoadCatalog(a.cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		mem := matcher.NewMemoryStore()
		if err := matcher.Index(ctx, emb, mem, catalog); err != nil {
			return nil, fmt.Errorf("failed to index catalog: %w", err)
		}
		a.log.Info("app: indexed catalog", "terms", len(catalog.Terms), "tables", len(catalog.Tables))
		store = mem
	}
	return matcher.New(matcher.Config{Logger: a.log, Embedder: emb, Store: store})
}

// Orchestrator builds the pipeline over the connected components.
func (a *App) Orchestrator(ctx context.Context) (*pipeline.Orchestrator, error) {
	client, err := a.LLM()
	if err != nil {
		return nil, err
	}
	m, err := a.Matcher(ctx)
	if err != nil {
		return nil, err
	}

	cfg := pipeline.Config{
		Logger:      a.log,
		LLM:         client,
		Inspector:   a.Inspector,
		Permissions: a.Validator,
		Executor:    a.Executor,
		Checkpoints: a.Checkpoints,
		Dialect:     a.Dialect,
		MaxRetries:  a.cfg.MaxRetries,
		LockTTL:     a.cfg.LockTTL,
		LockWait:    a.cfg.LockWait,
	}
	// A nil *Matcher must not become a non-nil interface.
	if m != nil {
		cfg.Matcher = m
	}
	return pipeline.New(cfg)
}
