package server

import (
	"context"
	"errors"
	"time"

	"github.com/malbeclabs/sqlassist/pkg/permission"
	"github.com/malbeclabs/sqlassist/pkg/pipeline"
)

const (
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxBodySize       = 64 << 10 // 64 KiB
	defaultReadHeaderTimeout = 10 * time.Second
	defaultTurnTimeout       = 5 * time.Minute
)

// Pipeline answers turns. Implemented by *pipeline.Orchestrator.
type Pipeline interface {
	Run(ctx context.Context, turn pipeline.Turn, onProgress pipeline.ProgressCallback) (*pipeline.Answer, error)
	Resume(ctx context.Context, sessionID string, userID int64, onProgress pipeline.ProgressCallback) (*pipeline.Answer, error)
}

// UserLookup resolves the username sent with a request.
type UserLookup interface {
	LookupUser(ctx context.Context, username string) (permission.User, error)
}

type Config struct {
	Pipeline Pipeline
	// Users resolves request usernames. When nil every request runs as user 0, which only makes
	// sense with access control disabled.
	Users UserLookup

	// Optional configuration.
	Version           string
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	TurnTimeout       time.Duration
	MaxBodySize       int64
}

func (c *Config) Validate() error {
	if c.Pipeline == nil {
		return errors.New("pipeline is required")
	}

	// Optional configuration.
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = defaultTurnTimeout
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = defaultMaxBodySize
	}
	return nil
}
