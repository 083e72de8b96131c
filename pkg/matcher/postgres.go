package matcher

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore keeps term and table embeddings in pgvector columns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the vector extension and embedding tables for vectors of the given size.
func (s *PostgresStore) Migrate(ctx context.Context, dimensions int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS term_embeddings (
			original_term TEXT PRIMARY KEY,
			standard_name TEXT NOT NULL,
			additional_info TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL
		)`, dimensions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS table_embeddings (
			table_name TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, dimensions),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate embeddings: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertTerm(ctx context.Context, t Term, vec []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO term_embeddings (original_term, standard_name, additional_info, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (original_term) DO UPDATE
		SET standard_name = EXCLUDED.standard_name,
			additional_info = EXCLUDED.additional_info,
			embedding = EXCLUDED.embedding
	`, t.OriginalTerm, t.StandardName, t.AdditionalInfo, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("failed to upsert term: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertTable(ctx context.Context, t TableDescription, vec []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO table_embeddings (table_name, description, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (table_name) DO UPDATE
		SET description = EXCLUDED.description, embedding = EXCLUDED.embedding
	`, t.TableName, t.Description, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("failed to upsert table: %w", err)
	}
	return nil
}

func (s *PostgresStore) SearchTerms(ctx context.Context, vec []float32, k int) ([]TermHit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT original_term, standard_name, additional_info, 1 - (embedding <=> $1) AS similarity
		FROM term_embeddings
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search terms: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TermHit, error) {
		var h TermHit
		err := row.Scan(&h.OriginalTerm, &h.StandardName, &h.AdditionalInfo, &h.Similarity)
		return h, err
	})
}

func (s *PostgresStore) SearchTables(ctx context.Context, vec []float32, k int) ([]MatchedTable, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_name, description, 1 - (embedding <=> $1) AS similarity
		FROM table_embeddings
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search tables: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (MatchedTable, error) {
		var t MatchedTable
		err := row.Scan(&t.TableName, &t.Description, &t.SimilarityScore)
		return t, err
	})
}
