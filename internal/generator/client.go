// Package generator asks a language model for a session guide and returns
// its raw text output.
package generator

import (
	"context"
	"errors"
	"fmt"

	"guias/api/internal/guide"
)

type Client interface {
	Generate(ctx context.Context, req guide.Request) (string, error)
}

var ErrEmptyResponse = errors.New("generator returned no content")

// TransportError is any failure reaching the model or reading its reply.
// The workflow treats it the same as an unusable document.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("generator transport: status %d: %s", e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("generator transport: %v", e.Err)
	default:
		return "generator transport failed"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Static returns the same payload for every request. Used in development
// and tests.
type Static struct {
	Payload string
	Err     error
}

func (s Static) Generate(ctx context.Context, _ guide.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &TransportError{Err: err}
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Payload, nil
}
