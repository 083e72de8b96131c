// Package matcher maps user keywords to domain terms and picks the tables most relevant to a
// query by embedding similarity.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	defaultTermThreshold = 0.9
	defaultTableTopK     = 2
)

// Term is a curated domain term.
type Term struct {
	OriginalTerm   string `json:"original_term" yaml:"original_term"`
	StandardName   string `json:"standard_name" yaml:"standard_name"`
	AdditionalInfo string `json:"additional_info" yaml:"additional_info"`
}

type TermHit struct {
	Term
	Similarity float64
}

// TableDescription is a catalogued table with a natural-language description.
type TableDescription struct {
	TableName   string `json:"table_name" yaml:"table_name"`
	Description string `json:"description" yaml:"description"`
}

type MatchedTable struct {
	TableName       string  `json:"table_name"`
	Description     string  `json:"description"`
	SimilarityScore float64 `json:"similarity_score"`
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store runs nearest-neighbour searches by cosine similarity.
type Store interface {
	SearchTerms(ctx context.Context, vec []float32, k int) ([]TermHit, error)
	SearchTables(ctx context.Context, vec []float32, k int) ([]MatchedTable, error)
}

type Config struct {
	Logger   *slog.Logger
	Embedder Embedder
	Store    Store
	// TermThreshold is the similarity a term hit must exceed to count as a mapping.
	TermThreshold float64
	TableTopK     int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Embedder == nil {
		return errors.New("embedder is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.TermThreshold <= 0 {
		cfg.TermThreshold = defaultTermThreshold
	}
	if cfg.TableTopK <= 0 {
		cfg.TableTopK = defaultTableTopK
	}
	return nil
}

type Matcher struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate matcher config: %w", err)
	}
	return &Matcher{log: cfg.Logger, cfg: cfg}, nil
}

// MapTerms maps each keyword to its best term when that term is similar enough. A keyword that
// fails to embed or search is skipped and logged; it does not fail the whole mapping.
func (m *Matcher) MapTerms(ctx context.Context, keywords []string) (map[string]Term, error) {
	out := make(map[string]Term, len(keywords))
	for _, kw := range keywords {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := m.cfg.Embedder.Embed(ctx, kw)
		if err != nil {
			m.log.Warn("matcher: failed to embed keyword", "keyword", kw, "error", err)
			continue
		}
		hits, err := m.cfg.Store.SearchTerms(ctx, vec, 1)
		if err != nil {
			m.log.Warn("matcher: failed to search terms", "keyword", kw, "error", err)
			continue
		}
		if len(hits) > 0 && hits[0].Similarity > m.cfg.TermThreshold {
			out[kw] = hits[0].Term
		}
	}
	m.log.Debug("matcher: mapped terms", "keywords", len(keywords), "mapped", len(out))
	return out, nil
}

// MatchTables returns the top-k tables for query, most similar first.
func (m *Matcher) MatchTables(ctx context.Context, query string) ([]MatchedTable, error) {
	vec, err := m.cfg.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	tables, err := m.cfg.Store.SearchTables(ctx, vec, m.cfg.TableTopK)
	if err != nil {
		return nil, fmt.Errorf("failed to search tables: %w", err)
	}
	return tables, nil
}
