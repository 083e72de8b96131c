package server

const (
	HealthPath = "/health"
	QueryPath  = "/query"
	ResumePath = "/sessions/{id}/resume"
	MCPPath    = "/mcp"
)

type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	User      string `json:"user"`
}

type ResumeRequest struct {
	User string `json:"user"`
}

type QueryResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
