package matcher

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the curated set of terms and table descriptions to index.
type Catalog struct {
	Terms  []Term             `yaml:"terms"`
	Tables []TableDescription `yaml:"tables"`
}

func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return c, nil
}

// Indexer accepts embedded catalog entries.
type Indexer interface {
	UpsertTerm(ctx context.Context, t Term, vec []float32) error
	UpsertTable(ctx context.Context, t TableDescription, vec []float32) error
}

// Index embeds every catalog entry and writes it to idx. Terms are embedded by their original
// wording and tables by their description.
func Index(ctx context.Context, emb Embedder, idx Indexer, c Catalog) error {
	for _, t := range c.Terms {
		vec, err := emb.Embed(ctx, t.OriginalTerm)
		if err != nil {
			return fmt.Errorf("failed to embed term %q: %w", t.OriginalTerm, err)
		}
		if err := idx.UpsertTerm(ctx, t, vec); err != nil {
			return err
		}
	}
	for _, t := range c.Tables {
		vec, err := emb.Embed(ctx, t.Description)
		if err != nil {
			return fmt.Errorf("failed to embed table %q: %w", t.TableName, err)
		}
		if err := idx.UpsertTable(ctx, t, vec); err != nil {
			return err
		}
	}
	return nil
}
