// Package app holds the configuration and component wiring shared by the sqlassist binaries.
package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

const envPrefix = "SQLASSIST_"

const (
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
	BackendDuckDB     = "duckdb"
	// BackendSQL runs statements through database/sql with lib/pq.
	BackendSQL = "sql"

	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreFile     = "file"
	StoreNone     = "none"
)

type Config struct {
	PostgresDSN    string
	PostgresSchema string

	Backend            string
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
	ClickHouseSecure   bool
	DuckDBPath         string

	LLMProvider     string
	LLMModel        string
	OllamaURL       string
	LLMMaxAttempts  uint
	LLMCacheEntries int64
	LLMCacheTTL     time.Duration

	Matcher         string
	CatalogPath     string
	EmbedModel      string
	EmbedDimensions int

	Checkpoints   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Permissions      string
	PermissionFile   string
	PermissionTTL    time.Duration
	AuthEnabled      bool
	SchemaCacheTTL   time.Duration
	StatementTimeout time.Duration
	MaxRows          int
	MaxRetries       int
	TurnTimeout      time.Duration
	LockTTL          time.Duration
	LockWait         time.Duration
}

// RegisterFlags binds every option to fs. Each flag can also be set through an environment
// variable named SQLASSIST_<FLAG_NAME>, see ApplyEnv.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.PostgresDSN, "postgres-dsn", "", "Postgres connection string for data, permissions, checkpoints and vectors")
	fs.StringVar(&c.PostgresSchema, "postgres-schema", "public", "Postgres schema holding the queryable tables")

	fs.StringVar(&c.Backend, "backend", BackendPostgres, "query backend (postgres, clickhouse, duckdb, sql)")
	fs.StringVar(&c.ClickHouseAddr, "clickhouse-addr", "localhost:9000", "ClickHouse address (host:port)")
	fs.StringVar(&c.ClickHouseDatabase, "clickhouse-database", "default", "ClickHouse database name")
	fs.StringVar(&c.ClickHouseUsername, "clickhouse-username", "default", "ClickHouse username")
	fs.StringVar(&c.ClickHousePassword, "clickhouse-password", "", "ClickHouse password")
	fs.BoolVar(&c.ClickHouseSecure, "clickhouse-secure", false, "use TLS for ClickHouse")
	fs.StringVar(&c.DuckDBPath, "duckdb-path", "", "DuckDB database file, opened read-only")

	fs.StringVar(&c.LLMProvider, "llm-provider", ProviderAnthropic, "LLM provider (anthropic, ollama)")
	fs.StringVar(&c.LLMModel, "llm-model", "", "LLM model; required for ollama")
	fs.StringVar(&c.OllamaURL, "ollama-url", "http://localhost:11434", "Ollama base URL for chat and embeddings")
	fs.UintVar(&c.LLMMaxAttempts, "llm-max-attempts", 3, "attempts per LLM call on transient errors")
	fs.Int64Var(&c.LLMCacheEntries, "llm-cache-entries", 1000, "LLM response cache size (0 disables)")
	fs.DurationVar(&c.LLMCacheTTL, "llm-cache-ttl", time.Hour, "LLM response cache TTL")

	fs.StringVar(&c.Matcher, "matcher", StoreNone, "term and table matcher store (none, memory, postgres)")
	fs.StringVar(&c.CatalogPath, "catalog", "", "YAML catalog of terms and table descriptions; indexed at startup for the memory matcher")
	fs.StringVar(&c.EmbedModel, "embed-model", "nomic-embed-text", "Ollama embedding model")
	fs.IntVar(&c.EmbedDimensions, "embed-dimensions", 768, "embedding dimensions of the vector tables")

	fs.StringVar(&c.Checkpoints, "checkpoints", StoreMemory, "checkpoint store (memory, postgres, redis)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "localhost:6379", "Redis address for the redis checkpoint store")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "Redis database number")

	fs.StringVar(&c.Permissions, "permissions", StorePostgres, "permission source (postgres, file)")
	fs.StringVar(&c.PermissionFile, "permission-file", "", "YAML permission file for the file source")
	fs.DurationVar(&c.PermissionTTL, "permission-cache-ttl", time.Minute, "permission data cache TTL")
	fs.BoolVar(&c.AuthEnabled, "auth-enabled", true, "enforce table and department access control")
	fs.DurationVar(&c.SchemaCacheTTL, "schema-cache-ttl", 5*time.Minute, "table metadata cache TTL")
	fs.DurationVar(&c.StatementTimeout, "statement-timeout", 30*time.Second, "per-statement execution timeout")
	fs.IntVar(&c.MaxRows, "max-rows", 100, "maximum rows returned per statement")
	fs.IntVar(&c.MaxRetries, "max-retries", 2, "re-executions of corrected SQL per turn")
	fs.DurationVar(&c.TurnTimeout, "turn-timeout", 5*time.Minute, "upper bound on one query turn")
	fs.DurationVar(&c.LockTTL, "session-lock-ttl", 5*time.Minute, "session lock expiry; must cover --turn-timeout")
	fs.DurationVar(&c.LockWait, "session-lock-wait", 2*time.Second, "how long a turn waits for a busy session")
}

// ApplyEnv sets every flag not given on the command line from its environment variable.
func ApplyEnv(fs *flag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		if f.Changed {
			return
		}
		v, ok := os.LookupEnv(EnvName(f.Name))
		if !ok || v == "" {
			return
		}
		if err := fs.Set(f.Name, v); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", EnvName(f.Name), err))
		}
	})
	return errors.Join(errs...)
}

func EnvName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func (c *Config) Validate() error {
	if err := oneOf("backend", c.Backend, BackendPostgres, BackendClickHouse, BackendDuckDB, BackendSQL); err != nil {
		return err
	}
	if err := oneOf("llm-provider", c.LLMProvider, ProviderAnthropic, ProviderOllama); err != nil {
		return err
	}
	if err := oneOf("matcher", c.Matcher, StoreNone, StoreMemory, StorePostgres); err != nil {
		return err
	}
	if err := oneOf("checkpoints", c.Checkpoints, StoreMemory, StorePostgres, StoreRedis); err != nil {
		return err
	}
	if err := oneOf("permissions", c.Permissions, StorePostgres, StoreFile); err != nil {
		return err
	}
	if c.needsPostgres() && c.PostgresDSN == "" {
		return errors.New("--postgres-dsn is required for the selected backends")
	}
	if c.Backend == BackendDuckDB && c.DuckDBPath == "" {
		return errors.New("--duckdb-path is required for the duckdb backend")
	}
	if c.Permissions == StoreFile && c.AuthEnabled && c.PermissionFile == "" {
		return errors.New("--permission-file is required for the file permission source")
	}
	if c.Matcher == StoreMemory && c.CatalogPath == "" {
		return errors.New("--catalog is required for the memory matcher")
	}
	if c.MaxRetries < 1 {
		return errors.New("--max-retries must be at least 1")
	}
	if c.TurnTimeout <= 0 {
		return errors.New("--turn-timeout must be positive")
	}
	// A lock that expires mid-turn would let a second turn write the same session.
	if c.LockTTL < c.TurnTimeout {
		return fmt.Errorf("--session-lock-ttl (%s) must be at least --turn-timeout (%s)", c.LockTTL, c.TurnTimeout)
	}
	return nil
}

func (c *Config) needsPostgres() bool {
	return c.Backend == BackendPostgres ||
		c.Backend == BackendSQL ||
		(c.Permissions == StorePostgres && c.AuthEnabled) ||
		c.Checkpoints == StorePostgres ||
		c.Matcher == StorePostgres
}

func oneOf(name, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("invalid --%s %q (want one of %s)", name, v, strings.Join(allowed, ", "))
}
