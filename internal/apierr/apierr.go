// Package apierr maps domain errors to HTTP responses and back, so the
// gateway and its client agree on what each failure means.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/turn"
	"github.com/2389/parley/internal/upload"
)

// Code is the machine-readable error kind carried in error bodies
type Code string

// Error codes
const (
	CodeUnauthenticated    Code = "unauthenticated"
	CodeNotFound           Code = "not_found"
	CodeInvalidShape       Code = "invalid_shape"
	CodeEmptyQuestion      Code = "empty_question"
	CodeBadRequest         Code = "bad_request"
	CodeRegistrationFailed Code = "registration_failed"
	CodeUploadsDisabled    Code = "uploads_disabled"
	CodeInternal           Code = "internal"
)

// ErrBadRequest is returned by the client for malformed requests
var ErrBadRequest = errors.New("bad request")

// ErrServer is returned by the client for failures it has no sentinel for
var ErrServer = errors.New("server error")

// Body is the JSON error response
type Body struct {
	Error string `json:"error"`
	Code  Code   `json:"code,omitempty"`
}

// FromError picks the status and code for err.
func FromError(err error) (int, Code) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, CodeUnauthenticated
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, turn.ErrInvalidShape):
		return http.StatusBadRequest, CodeInvalidShape
	case errors.Is(err, conversation.ErrEmptyQuestion):
		return http.StatusBadRequest, CodeEmptyQuestion
	case errors.Is(err, conversation.ErrRegistration):
		return http.StatusInternalServerError, CodeRegistrationFailed
	case errors.Is(err, upload.ErrNotConfigured):
		return http.StatusServiceUnavailable, CodeUploadsDisabled
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// ToError rebuilds a sentinel-wrapping error from a response. The code wins
// over the status when both are present.
func ToError(status int, body Body) error {
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(status)
	}

	var sentinel error
	switch body.Code {
	case CodeUnauthenticated:
		sentinel = auth.ErrUnauthenticated
	case CodeNotFound:
		sentinel = store.ErrNotFound
	case CodeInvalidShape:
		sentinel = turn.ErrInvalidShape
	case CodeEmptyQuestion:
		sentinel = conversation.ErrEmptyQuestion
	case CodeRegistrationFailed:
		sentinel = conversation.ErrRegistration
	case CodeUploadsDisabled:
		sentinel = upload.ErrNotConfigured
	case CodeBadRequest:
		sentinel = ErrBadRequest
	default:
		switch status {
		case http.StatusUnauthorized:
			sentinel = auth.ErrUnauthenticated
		case http.StatusNotFound:
			sentinel = store.ErrNotFound
		case http.StatusBadRequest:
			sentinel = ErrBadRequest
		default:
			sentinel = ErrServer
		}
	}
	return fmt.Errorf("%w: %s (HTTP %d)", sentinel, msg, status)
}
