package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const askToolName = "ask"

type AskInput struct {
	Query     string `json:"query" jsonschema:"the question in natural language"`
	SessionID string `json:"session_id,omitempty" jsonschema:"continue an existing conversation"`
	User      string `json:"user,omitempty" jsonschema:"username the query runs as"`
}

type AskOutput struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome"`
}

// newMCPHandler exposes the pipeline as a single MCP tool over streamable HTTP.
func (h *Handler) newMCPHandler() (http.Handler, error) {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "sqlassist",
		Version: h.cfg.Version,
	}, nil)

	in, err := jsonschema.For[AskInput](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ask input schema: %w", err)
	}
	out, err := jsonschema.For[AskOutput](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ask output schema: %w", err)
	}

	mcp.AddTool(srv, &mcp.Tool{
		Name: askToolName,
		Description: `Answer a question about the analytics database. The question is translated to SQL,
checked against the caller's table and department permissions, executed read-only, and
described in natural language. Pass session_id from a previous answer to ask a follow-up
or to reply to a clarification question.`,
		InputSchema:  in,
		OutputSchema: out,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req AskInput) (*mcp.CallToolResult, AskOutput, error) {
		res, err := h.handleAsk(ctx, req)
		if err != nil {
			ToolCallsTotal.WithLabelValues(askToolName, "error").Inc()
			return nil, AskOutput{}, err
		}
		ToolCallsTotal.WithLabelValues(askToolName, "success").Inc()
		return nil, res, nil
	})

	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return srv
	}, &mcp.StreamableHTTPOptions{Stateless: true}), nil
}

func (h *Handler) handleAsk(ctx context.Context, req AskInput) (AskOutput, error) {
	if req.Query == "" {
		return AskOutput{}, errors.New("query is required")
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.TurnTimeout)
	defer cancel()

	start := time.Now()
	answer, err := h.ask(ctx, QueryRequest(req))
	if err != nil {
		_, msg := turnErrorStatus(err)
		h.log.Info("server: mcp ask failed", "session_id", req.SessionID, "error", err)
		return AskOutput{}, errors.New(msg)
	}
	h.log.Debug("server: mcp ask answered", "session_id", answer.SessionID, "outcome", answer.Outcome, "duration", time.Since(start))
	return AskOutput{
		Message:   answer.Message,
		SessionID: answer.SessionID,
		Outcome:   string(answer.Outcome),
	}, nil
}
