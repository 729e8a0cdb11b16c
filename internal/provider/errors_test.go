package provider_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"github.com/webpilot-ai/webpilot/internal/provider"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want provider.Class
	}{
		{"rate limit", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, provider.ClassTransient},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusInternalServerError}, provider.ClassTransient},
		{"bad gateway", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, provider.ClassTransient},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, provider.ClassPermanent},
		{"unauthorized", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, provider.ClassPermanent},
		{"context canceled", context.Canceled, provider.ClassPermanent},
		{"deadline exceeded", context.DeadlineExceeded, provider.ClassPermanent},
		{"network timeout", &net.DNSError{IsTimeout: true}, provider.ClassTransient},
		{"transport failure", &openai.RequestError{HTTPStatusCode: 0, Err: errors.New("eof")}, provider.ClassTransient},
		{"request rejected", &openai.RequestError{HTTPStatusCode: http.StatusBadRequest, Err: errors.New("no")}, provider.ClassPermanent},
		{"unknown error", errors.New("something odd"), provider.ClassTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, provider.Classify(tc.err))
		})
	}
}

func TestIsTransientUnwraps(t *testing.T) {
	transient := &provider.Error{Op: "score", Class: provider.ClassTransient, Err: errors.New("boom")}
	permanent := &provider.Error{Op: "score", Class: provider.ClassPermanent, Err: errors.New("boom")}

	assert.True(t, provider.IsTransient(transient))
	assert.False(t, provider.IsTransient(permanent))
	assert.True(t, provider.IsTransient(fmt.Errorf("scoring: %w", transient)))
	assert.False(t, provider.IsTransient(errors.New("bare error")))
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &provider.Error{Op: "embed", Class: provider.ClassTransient, Err: inner}

	assert.Contains(t, err.Error(), "embed")
	assert.Contains(t, err.Error(), "TRANSIENT")
	assert.ErrorIs(t, err, inner)
}
