package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/malbeclabs/sqlassist/pkg/checkpoint"
	"github.com/malbeclabs/sqlassist/pkg/permission"
	"github.com/malbeclabs/sqlassist/pkg/pipeline"
)

type Handler struct {
	log *slog.Logger
	cfg Config
}

func NewHandler(log *slog.Logger, cfg Config) (*Handler, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("handler config validation failed: %w", err)
	}
	return &Handler{log: log, cfg: cfg}, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeJSONError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg, Code: status})
}

func (h *Handler) Register(r chi.Router) {
	r.Get(HealthPath, h.healthHandler)
	r.Post(QueryPath, h.queryHandler)
	r.Post(ResumePath, h.resumeHandler)
}

func (h *Handler) healthHandler(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) queryHandler(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.TurnTimeout)
	defer cancel()

	answer, err := h.ask(ctx, req)
	if err != nil {
		h.writeTurnError(w, req.SessionID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(answer))
}

func (h *Handler) resumeHandler(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if !h.decode(w, r, &req) {
		return
	}
	sessionID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.TurnTimeout)
	defer cancel()

	userID, err := h.resolveUser(ctx, req.User)
	if err != nil {
		h.writeTurnError(w, sessionID, err)
		return
	}
	answer, err := h.cfg.Pipeline.Resume(ctx, sessionID, userID, h.progressLogger(sessionID))
	if err != nil {
		h.writeTurnError(w, sessionID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(answer))
}

// ask resolves the requesting user and runs one turn. Shared by the HTTP and MCP surfaces.
func (h *Handler) ask(ctx context.Context, req QueryRequest) (*pipeline.Answer, error) {
	userID, err := h.resolveUser(ctx, req.User)
	if err != nil {
		return nil, err
	}
	return h.cfg.Pipeline.Run(ctx, pipeline.Turn{
		SessionID: req.SessionID,
		UserID:    userID,
		Query:     req.Query,
	}, h.progressLogger(req.SessionID))
}

func (h *Handler) resolveUser(ctx context.Context, username string) (int64, error) {
	if h.cfg.Users == nil {
		return 0, nil
	}
	if strings.TrimSpace(username) == "" {
		return 0, permission.ErrUserNotFound
	}
	user, err := h.cfg.Users.LookupUser(ctx, username)
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

func (h *Handler) progressLogger(sessionID string) pipeline.ProgressCallback {
	return func(p pipeline.Progress) {
		h.log.Debug("server: turn progress", "session_id", sessionID, "stage", p.Stage, "retry_count", p.RetryCount)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.writeJSONError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *Handler) writeTurnError(w http.ResponseWriter, sessionID string, err error) {
	status, msg := turnErrorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error("server: turn failed", "session_id", sessionID, "error", err)
	} else {
		h.log.Info("server: turn rejected", "session_id", sessionID, "status", status, "error", err)
	}
	h.writeJSONError(w, status, msg)
}

func turnErrorStatus(err error) (int, string) {
	var malformed *pipeline.MalformedResponseError
	switch {
	case errors.Is(err, permission.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, pipeline.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, checkpoint.ErrLocked):
		return http.StatusConflict, "another query is in progress on this session"
	case errors.Is(err, pipeline.ErrNothingToResume):
		return http.StatusConflict, "session has no interrupted query to resume"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "query timed out"
	case errors.As(err, &malformed):
		return http.StatusInternalServerError, fmt.Sprintf("the %s step produced an invalid response; resume the session to retry", malformed.Stage)
	default:
		return http.StatusInternalServerError, "failed to process query"
	}
}

func toResponse(a *pipeline.Answer) QueryResponse {
	return QueryResponse{
		Message:   a.Message,
		SessionID: a.SessionID,
		Outcome:   string(a.Outcome),
	}
}
