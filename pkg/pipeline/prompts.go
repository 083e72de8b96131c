package pipeline

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/sqlassist/pkg/permission"
	"github.com/malbeclabs/sqlassist/pkg/pipeline/prompts"
)

// Prompts holds the system prompt of each inference stage.
type Prompts struct {
	Intent        string
	Keywords      string
	Rewrite       string
	Generate      string
	ErrorAnalysis string
	Result        string
}

// LoadPrompts loads all prompts from the embedded filesystem and fills in the SQL dialect.
func LoadPrompts(dialect permission.Dialect) (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Intent, err = loadPrompt("INTENT.md"); err != nil {
		return nil, fmt.Errorf("failed to load INTENT: %w", err)
	}
	if p.Keywords, err = loadPrompt("KEYWORDS.md"); err != nil {
		return nil, fmt.Errorf("failed to load KEYWORDS: %w", err)
	}
	if p.Rewrite, err = loadPrompt("REWRITE.md"); err != nil {
		return nil, fmt.Errorf("failed to load REWRITE: %w", err)
	}
	if p.Generate, err = loadPrompt("GENERATE.md"); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE: %w", err)
	}
	if p.ErrorAnalysis, err = loadPrompt("ERROR_ANALYSIS.md"); err != nil {
		return nil, fmt.Errorf("failed to load ERROR_ANALYSIS: %w", err)
	}
	if p.Result, err = loadPrompt("RESULT.md"); err != nil {
		return nil, fmt.Errorf("failed to load RESULT: %w", err)
	}

	name := dialectName(dialect)
	p.Generate = strings.ReplaceAll(p.Generate, "{{DIALECT}}", name)
	p.ErrorAnalysis = strings.ReplaceAll(p.ErrorAnalysis, "{{DIALECT}}", name)

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func dialectName(d permission.Dialect) string {
	switch d {
	case permission.DialectMySQL:
		return "MySQL"
	case permission.DialectClickHouse:
		return "ClickHouse"
	case permission.DialectDuckDB:
		return "DuckDB"
	default:
		return "PostgreSQL"
	}
}
