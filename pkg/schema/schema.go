// Package schema introspects table and column metadata of the analytics database.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const defaultCacheTTL = 5 * time.Minute

var ErrTableNotFound = errors.New("table not found")

type Table struct {
	Name    string `json:"table_name"`
	Comment string `json:"comment"`
}

type Column struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Comment string `json:"comment"`
}

// TableStructure lists a table's columns in declaration order.
type TableStructure struct {
	TableName string   `json:"table_name"`
	Columns   []Column `json:"columns"`
}

// Source reads metadata from one database engine.
type Source interface {
	Tables(ctx context.Context) ([]Table, error)
	// Columns returns ErrTableNotFound when the table has no columns or does not exist.
	Columns(ctx context.Context, table string) ([]Column, error)
}

type Config struct {
	Logger *slog.Logger
	Source Source
	TTL    time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("source is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	return nil
}

// Inspector serves metadata through a TTL cache shared across requests.
type Inspector struct {
	log   *slog.Logger
	cfg   Config
	cache *ttlcache.Cache[string, any]
}

func New(cfg Config) (*Inspector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate schema config: %w", err)
	}
	return &Inspector{
		log:   cfg.Logger,
		cfg:   cfg,
		cache: ttlcache.New(ttlcache.WithTTL[string, any](cfg.TTL)),
	}, nil
}

func (i *Inspector) Tables(ctx context.Context) ([]Table, error) {
	const key = "tables"
	if item := i.cache.Get(key); item != nil {
		return item.Value().([]Table), nil
	}
	tables, err := i.cfg.Source.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	i.cache.Set(key, tables, ttlcache.DefaultTTL)
	return tables, nil
}

func (i *Inspector) Structure(ctx context.Context, table string) (TableStructure, error) {
	key := "columns:" + strings.ToLower(table)
	if item := i.cache.Get(key); item != nil {
		return item.Value().(TableStructure), nil
	}
	cols, err := i.cfg.Source.Columns(ctx, table)
	if err != nil {
		return TableStructure{}, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	st := TableStructure{TableName: table, Columns: cols}
	i.cache.Set(key, st, ttlcache.DefaultTTL)
	return st, nil
}

// Structures describes each table once, in the order given.
func (i *Inspector) Structures(ctx context.Context, tables []string) ([]TableStructure, error) {
	seen := make(map[string]struct{}, len(tables))
	out := make([]TableStructure, 0, len(tables))
	for _, t := range tables {
		k := strings.ToLower(t)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		st, err := i.Structure(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	i.log.Debug("schema: described tables", "count", len(out))
	return out, nil
}

// Invalidate drops all cached metadata.
func (i *Inspector) Invalidate() {
	i.cache.DeleteAll()
}
