package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrNothingToResume = errors.New("session has no interrupted turn to resume")
	// ErrSessionNotFound is returned for a session that does not exist or belongs to another user.
	ErrSessionNotFound = errors.New("session not found")
)

// MalformedResponseError reports an inference response that does not satisfy the stage's output
// contract. It is fatal for the turn.
type MalformedResponseError struct {
	Stage    Node
	Response string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %v", e.Stage, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

func malformed(stage Node, response string, format string, args ...any) error {
	MalformedResponsesTotal.WithLabelValues(string(stage)).Inc()
	return &MalformedResponseError{Stage: stage, Response: truncateString(response, 500), Err: fmt.Errorf(format, args...)}
}
