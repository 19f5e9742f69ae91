// Package llm wraps the hosted text-generation collaborator behind a small
// client interface. Cross-cutting concerns (retries, request pacing) are
// layered on via Middleware rather than baked into any one client.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrEmptyResponse is returned when the model replies with no usable content.
var ErrEmptyResponse = errors.New("llm: empty response from model")

// Client is the text-generation collaborator. GenerateJSON asks for a JSON
// reply (best effort; callers still validate), GenerateText for free prose.
type Client interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	GenerateText(ctx context.Context, prompt string) (string, error)
	Close() error
}

// PermanentError marks a failure that retrying cannot fix (bad request,
// blocked content). Retry middleware stops immediately on these.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}
