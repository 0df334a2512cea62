package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/turn"
	"github.com/2389/parley/internal/upload"
)

func TestRoundTrip(t *testing.T) {
	sentinels := []error{
		auth.ErrUnauthenticated,
		store.ErrNotFound,
		turn.ErrInvalidShape,
		conversation.ErrEmptyQuestion,
		conversation.ErrRegistration,
		upload.ErrNotConfigured,
	}
	for _, sentinel := range sentinels {
		t.Run(sentinel.Error(), func(t *testing.T) {
			status, code := FromError(fmt.Errorf("handler: %w", sentinel))
			got := ToError(status, Body{Error: "boom", Code: code})
			assert.ErrorIs(t, got, sentinel)
		})
	}
}

func TestFromError_Statuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{auth.ErrExpiredToken, http.StatusUnauthorized},
		{store.ErrNotFound, http.StatusNotFound},
		{turn.ErrInvalidShape, http.StatusBadRequest},
		{conversation.ErrEmptyQuestion, http.StatusBadRequest},
		{conversation.ErrRegistration, http.StatusInternalServerError},
		{upload.ErrNotConfigured, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := FromError(tc.err)
		assert.Equal(t, tc.want, status, tc.err.Error())
	}
}

func TestToError_StatusFallback(t *testing.T) {
	assert.ErrorIs(t, ToError(http.StatusUnauthorized, Body{}), auth.ErrUnauthenticated)
	assert.ErrorIs(t, ToError(http.StatusNotFound, Body{}), store.ErrNotFound)
	assert.ErrorIs(t, ToError(http.StatusBadRequest, Body{Error: "invalid JSON body"}), ErrBadRequest)
	assert.ErrorIs(t, ToError(http.StatusBadGateway, Body{}), ErrServer)

	err := ToError(http.StatusTeapot, Body{})
	assert.Contains(t, err.Error(), "I'm a teapot")
}
