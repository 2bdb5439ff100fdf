// Package generation wraps the external text generation service.
//
// Every client distinguishes three outcomes: text, a blocked or empty
// response (*BlockedError), and a transport or protocol failure (*FailedError).
package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/natal-chart/internal/domain"
)

// Prompt is one generation request.
type Prompt struct {
	System string
	User   string
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// BlockedError means the service declined the request or returned no usable content.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	if e.Reason == "" {
		return "generation blocked"
	}
	return "generation blocked: " + e.Reason
}

// FailedError wraps a timeout, transport or protocol error.
type FailedError struct {
	Err error
}

func (e *FailedError) Error() string {
	return "generation failed: " + e.Err.Error()
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

func failed(format string, args ...any) *FailedError {
	return &FailedError{Err: fmt.Errorf(format, args...)}
}

// Placeholder converts a generation error into the text that stands in for
// the missing interpretation.
func Placeholder(err error) string {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		if blocked.Reason == "" {
			return domain.FailurePlaceholder("blocked")
		}
		return domain.FailurePlaceholder("blocked: " + blocked.Reason)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailurePlaceholder("timeout")
	}
	return domain.FailurePlaceholder("unavailable")
}

// Disabled is used when no generation provider is configured.
type Disabled struct{}

// Generate always fails.
func (Disabled) Generate(context.Context, Prompt) (string, error) {
	return "", &FailedError{Err: errors.New("text generation is not configured")}
}
