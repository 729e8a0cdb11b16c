// File: internal/provider/errors.go
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Class partitions provider failures into retry policies. Using a custom type
// ensures only the predefined constants can appear where a Class is expected.
type Class string

const (
	// ClassTransient covers network failures, timeouts and rate limits.
	// Callers retry these with backoff.
	ClassTransient Class = "TRANSIENT"
	// ClassPermanent covers everything a retry cannot fix (bad request,
	// invalid credentials, malformed response). Surfaced immediately.
	ClassPermanent Class = "PERMANENT"
)

// Error wraps a capability failure with its operation name and retry class.
type Error struct {
	Op    string
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class == ClassTransient
	}
	return false
}

// Classify maps a raw API/transport error onto a retry class.
// Rate limits and server-side failures are transient; client-side rejections
// are permanent. Context cancellation stays permanent so callers stop
// promptly when their deadline fires.
func Classify(err error) Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassPermanent
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return ClassTransient
		default:
			return ClassPermanent
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	// go-openai wraps transport failures in a RequestError with a zero or
	// 5xx status code.
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 0 || reqErr.HTTPStatusCode >= http.StatusInternalServerError {
			return ClassTransient
		}
		return ClassPermanent
	}

	return ClassTransient
}

// wrap builds a classified *Error for the given operation.
func wrap(op string, err error) error {
	return &Error{Op: op, Class: Classify(err), Err: err}
}
