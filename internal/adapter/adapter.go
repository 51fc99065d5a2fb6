package adapter

import (
	"context"
	"fmt"

	"github.com/mlorentedev/icdcoder/internal/prompt"
)

// LLMAdapter defines the contract for completion backends.
type LLMAdapter interface {
	Name() string
	// Complete blocks until the model finishes and returns the full text.
	Complete(ctx context.Context, p prompt.Prompt) (string, error)
	// Stream starts generation and returns its chunks as they arrive.
	Stream(ctx context.Context, p prompt.Prompt) (Stream, error)
	Available() bool
}

// ModelInfo is exposed via GET /api/models.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// UpstreamError is returned for any failure reported by, or on the way to,
// the model provider. Err is the unmodified cause.
type UpstreamError struct {
	Provider string
	Status   int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func upstream(provider string, status int, err error) error {
	return &UpstreamError{Provider: provider, Status: status, Err: err}
}
